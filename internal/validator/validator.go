// Package validator derives the lifecycle state of a share and decides whether
// a given access type may proceed.
package validator

import (
	"time"

	"github.com/and161185/sharegate/internal/clock"
	"github.com/and161185/sharegate/internal/model"
)

// State derives the share state at now. Checks run in a fixed order so a
// revoked share that is also expired reports REVOKED.
func State(rec model.ShareRecord, now time.Time) model.ShareState {
	switch {
	case !rec.Active:
		return model.StateRevoked
	case rec.ExpiresAt != nil && !now.Before(*rec.ExpiresAt):
		return model.StateExpired
	case rec.MaxAccess != nil && rec.AccessCount >= *rec.MaxAccess:
		return model.StateMaxReached
	default:
		return model.StateActive
	}
}

// Evaluate is the pure form of Validator.Validate.
func Evaluate(rec model.ShareRecord, at model.AccessType, now time.Time) (bool, model.DenialType, string, model.ShareState) {
	st := State(rec, now)
	if st != model.StateActive {
		return false, model.DenialPermissionDenied, "share " + string(st), st
	}
	switch at {
	case model.AccessView:
	case model.AccessDownload:
		if rec.Permission != model.PermissionDownload {
			return false, model.DenialPermissionDenied, "download not permitted", st
		}
	default:
		return false, model.DenialPermissionDenied, "unknown access type " + string(at), st
	}
	return true, model.DenialNone, "", st
}

// Validator evaluates shares against an injected clock.
type Validator struct {
	clock clock.Clock
}

// New constructs a Validator. A nil clock means wall time.
func New(c clock.Clock) *Validator {
	if c == nil {
		c = clock.Real{}
	}
	return &Validator{clock: c}
}

// Validate reports whether rec admits an access of type at right now.
func (v *Validator) Validate(rec model.ShareRecord, at model.AccessType) (bool, model.DenialType, string) {
	ok, d, reason, _ := Evaluate(rec, at, v.clock.Now())
	return ok, d, reason
}

// ValidateState is Validate plus the derived state, for logging.
func (v *Validator) ValidateState(rec model.ShareRecord, at model.AccessType) (bool, model.DenialType, string, model.ShareState) {
	return Evaluate(rec, at, v.clock.Now())
}
