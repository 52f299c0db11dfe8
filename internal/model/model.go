// Package model defines domain entities used by services and repositories.
package model

import (
	"fmt"
	"net/http"
	"time"

	"github.com/and161185/sharegate/internal/errs"
	"github.com/gofrs/uuid/v5"
)

// Permission is the access level granted by a share.
type Permission string

const (
	PermissionViewOnly Permission = "VIEW_ONLY"
	PermissionDownload Permission = "DOWNLOAD"
)

// Valid reports whether p is a known permission.
func (p Permission) Valid() bool {
	return p == PermissionViewOnly || p == PermissionDownload
}

// AccessType is the operation requested against a share.
type AccessType string

const (
	AccessView     AccessType = "VIEW"
	AccessDownload AccessType = "DOWNLOAD"
)

// Valid reports whether a is a known access type.
func (a AccessType) Valid() bool {
	return a == AccessView || a == AccessDownload
}

// ShareState is the lifecycle state derived from a ShareRecord at a point in time.
type ShareState string

const (
	StateActive     ShareState = "ACTIVE"
	StateExpired    ShareState = "EXPIRED"
	StateRevoked    ShareState = "REVOKED"
	StateMaxReached ShareState = "MAX_REACHED"
)

// DenialType classifies a rejected share access.
type DenialType string

const (
	DenialNone               DenialType = ""
	DenialRateLimited        DenialType = "RATE_LIMITED"
	DenialPermissionDenied   DenialType = "PERMISSION_DENIED"
	DenialSuspiciousActivity DenialType = "SUSPICIOUS_ACTIVITY"
)

// HTTPStatus maps a denial to the status code the HTTP layer must answer with.
// Not-found, expired, revoked and exhausted shares all share 403.
func (d DenialType) HTTPStatus() int {
	switch d {
	case DenialNone:
		return http.StatusOK
	case DenialRateLimited:
		return http.StatusTooManyRequests
	case DenialPermissionDenied, DenialSuspiciousActivity:
		return http.StatusForbidden
	default:
		return http.StatusForbidden
	}
}

// ShareRecord is the durable record of a share link.
type ShareRecord struct {
	ID           uuid.UUID
	Token        string // opaque, unique
	FileID       uuid.UUID
	OwnerID      uuid.UUID
	Permission   Permission
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ExpiresAt    *time.Time // nil = never
	Active       bool
	AccessCount  int64
	MaxAccess    *int64 // nil = unlimited
	PasswordHash []byte // Argon2id(password, PasswordSalt); empty = no password
	PasswordSalt []byte
}

// HasPassword reports whether the share is password protected.
func (r ShareRecord) HasPassword() bool { return len(r.PasswordHash) > 0 }

// RemainingAccesses returns how many accesses are left, or -1 when unlimited.
func (r ShareRecord) RemainingAccesses() int64 {
	if r.MaxAccess == nil {
		return -1
	}
	if left := *r.MaxAccess - r.AccessCount; left > 0 {
		return left
	}
	return 0
}

// AccessEvent is one authorized access, appended to the ledger exactly once.
type AccessEvent struct {
	ID        uuid.UUID
	Token     string
	IP        string
	UserAgent string
	At        time.Time // UTC
	Type      AccessType
}

// AuthorizationResult is the verdict for one share access request.
type AuthorizationResult struct {
	Allowed    bool
	Denial     DenialType
	Reason     string        // internal reason, for logs only
	State      ShareState    // empty when the share was never evaluated
	RetryAfter time.Duration // hint for RATE_LIMITED and SUSPICIOUS_ACTIVITY
	Record     *ShareRecord  // set when allowed
}

// Err maps a denial to its sentinel wrapped with the internal reason; nil when allowed.
func (r AuthorizationResult) Err() error {
	if r.Allowed {
		return nil
	}
	var base error
	switch r.Denial {
	case DenialRateLimited:
		base = errs.ErrRateLimited
	case DenialSuspiciousActivity:
		base = errs.ErrSuspiciousActivity
	default:
		base = errs.ErrPermissionDenied
	}
	if r.Reason == "" {
		return base
	}
	return fmt.Errorf("%s: %w", r.Reason, base)
}

// FileInfo describes the bytes behind a share.
type FileInfo struct {
	Name        string
	Size        int64
	ContentType string
	ModTime     time.Time
}
