package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/sharegate/internal/clock"
	pkgcrypto "github.com/and161185/sharegate/internal/crypto"
	"github.com/and161185/sharegate/internal/errs"
	"github.com/and161185/sharegate/internal/limiter"
	"github.com/and161185/sharegate/internal/model"
	"github.com/and161185/sharegate/internal/monitor"
	"github.com/and161185/sharegate/internal/repository"
	"github.com/and161185/sharegate/internal/validator"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// AccessRequest is one anonymous attempt to use a share token.
type AccessRequest struct {
	Token     string
	IP        string
	UserAgent string
	Type      model.AccessType
	Password  string // optional share password
}

// AccessRecorder decides whether a share access may proceed and records it.
type AccessRecorder interface {
	// Authorize runs the full admission pipeline. A denial is a verdict, not an
	// error; errors are reserved for storage failures.
	Authorize(ctx context.Context, req AccessRequest) (model.AuthorizationResult, error)
}

// IPGuard answers the blacklist and passlist questions asked before anything else.
type IPGuard interface {
	IsBlacklisted(ip string) (bool, model.BlacklistEntry)
	IsTrusted(ip string) bool
}

// RecorderDeps are the collaborators of AccessRecorderImpl. Guard may be nil.
type RecorderDeps struct {
	Shares  repository.ShareRepository
	Ledger  repository.AccessLedger
	Limiter limiter.Limiter
	Monitor *monitor.Monitor
	Guard   IPGuard
	Clock   clock.Clock
	Log     *zap.Logger
}

type AccessRecorderImpl struct {
	shares    repository.ShareRepository
	ledger    repository.AccessLedger
	validator *validator.Validator
	limiter   limiter.Limiter
	monitor   *monitor.Monitor
	guard     IPGuard
	clock     clock.Clock
	log       *zap.Logger
}

var _ AccessRecorder = (*AccessRecorderImpl)(nil)

// NewAccessRecorder constructs the access pipeline.
func NewAccessRecorder(d RecorderDeps) *AccessRecorderImpl {
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &AccessRecorderImpl{
		shares:    d.Shares,
		ledger:    d.Ledger,
		validator: validator.New(d.Clock),
		limiter:   d.Limiter,
		monitor:   d.Monitor,
		guard:     d.Guard,
		clock:     d.Clock,
		log:       d.Log,
	}
}

// tokenPrefix keeps tokens out of logs while leaving them correlatable.
func tokenPrefix(tok string) string {
	if len(tok) > 8 {
		return tok[:8]
	}
	return tok
}

func (r *AccessRecorderImpl) deny(req AccessRequest, res model.AuthorizationResult) model.AuthorizationResult {
	r.log.Info("share access denied",
		zap.String("denial", string(res.Denial)),
		zap.Error(res.Err()),
		zap.String("state", string(res.State)),
		zap.String("ip", req.IP),
		zap.String("token", tokenPrefix(req.Token)),
		zap.String("type", string(req.Type)),
	)
	return res
}

// Authorize checks, in order: blacklist, suspicious block, share lookup,
// lifecycle and permission, rate limits, password. The rate limit slot is
// taken before the password is hashed, so wrong guesses spend it too. An
// admitted request increments the share count and is appended to the ledger.
func (r *AccessRecorderImpl) Authorize(ctx context.Context, req AccessRequest) (model.AuthorizationResult, error) {
	now := r.clock.Now()
	_, req.IP = canonicalIP(req.IP)

	if r.guard != nil {
		if listed, e := r.guard.IsBlacklisted(req.IP); listed {
			return r.deny(req, model.AuthorizationResult{
				Denial: model.DenialPermissionDenied,
				Reason: "blacklisted: " + e.Reason,
			}), nil
		}
	}
	trusted := r.guard != nil && r.guard.IsTrusted(req.IP)

	if !trusted {
		if blocked, left := r.monitor.IsBlocked(req.IP); blocked {
			return r.deny(req, model.AuthorizationResult{
				Denial:     model.DenialSuspiciousActivity,
				Reason:     "ip temporarily blocked",
				RetryAfter: left,
			}), nil
		}
	}

	rec, err := r.shares.FindByToken(ctx, req.Token)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return r.deny(req, model.AuthorizationResult{
				Denial: model.DenialPermissionDenied,
				Reason: "share not found",
			}), nil
		}
		r.log.Error("find share", zap.String("token", tokenPrefix(req.Token)), zap.Error(err))
		return model.AuthorizationResult{}, fmt.Errorf("find share: %w", err)
	}

	ok, denial, reason, state := r.validator.ValidateState(*rec, req.Type)
	if !ok {
		return r.deny(req, model.AuthorizationResult{Denial: denial, Reason: reason, State: state}), nil
	}

	var slot limiter.Reservation
	if !trusted {
		d, res := r.limiter.Reserve(req.Token, req.IP)
		if !d.Allowed {
			r.monitor.RecordSuspicious(req.IP, "rate limit exceeded")
			return r.deny(req, model.AuthorizationResult{
				Denial:     model.DenialRateLimited,
				Reason:     fmt.Sprintf("%s limit %d reached", d.Tier, d.Limit),
				State:      state,
				RetryAfter: d.RetryAfter,
			}), nil
		}
		slot = res
	}

	if rec.HasPassword() && !pkgcrypto.VerifyPassword([]byte(req.Password), rec.PasswordSalt, rec.PasswordHash) {
		if !trusted && r.limiter.Failure(req.Token, req.IP) {
			ev := r.monitor.RecordSuspicious(req.IP, "repeated password mismatch")
			r.log.Warn("suspicious activity",
				zap.String("ip", req.IP),
				zap.String("token", tokenPrefix(req.Token)),
				zap.Int("suspicious_count", ev.Count),
				zap.Duration("block", ev.Block),
			)
		}
		return r.deny(req, model.AuthorizationResult{
			Denial: model.DenialPermissionDenied,
			Reason: "password mismatch",
			State:  state,
		}), nil
	}

	count, err := r.shares.IncrementAccessCount(ctx, req.Token, now)
	if err != nil {
		r.limiter.Release(slot)
		if errors.Is(err, errs.ErrVersionConflict) || errors.Is(err, errs.ErrNotFound) {
			return r.deny(req, model.AuthorizationResult{
				Denial: model.DenialPermissionDenied,
				Reason: "share changed concurrently: " + err.Error(),
				State:  model.StateMaxReached,
			}), nil
		}
		r.log.Error("increment access count", zap.String("token", tokenPrefix(req.Token)), zap.Error(err))
		return model.AuthorizationResult{}, fmt.Errorf("increment access count: %w", err)
	}
	rec.AccessCount = count

	if !trusted && r.monitor.ShouldEscalate(slot.Global) {
		ev := r.monitor.RecordSuspicious(req.IP, fmt.Sprintf("%d accesses in one window", slot.Global))
		r.log.Warn("suspicious activity",
			zap.String("ip", req.IP),
			zap.Int("global_count", slot.Global),
			zap.Int("suspicious_count", ev.Count),
			zap.Duration("block", ev.Block),
		)
	}

	r.appendLedger(ctx, req, now)

	return model.AuthorizationResult{
		Allowed: true,
		Denial:  model.DenialNone,
		State:   model.StateActive,
		Record:  rec,
	}, nil
}

// appendLedger is best effort: the access already happened.
func (r *AccessRecorderImpl) appendLedger(ctx context.Context, req AccessRequest, at time.Time) {
	id, err := uuid.NewV4()
	if err != nil {
		r.log.Warn("ledger event id", zap.Error(err))
		return
	}
	ev := model.AccessEvent{
		ID:        id,
		Token:     req.Token,
		IP:        req.IP,
		UserAgent: req.UserAgent,
		At:        at.UTC(),
		Type:      req.Type,
	}
	if err := r.ledger.Append(ctx, ev); err != nil {
		r.log.Warn("ledger append failed",
			zap.String("token", tokenPrefix(req.Token)),
			zap.String("ip", req.IP),
			zap.Error(err),
		)
	}
}
