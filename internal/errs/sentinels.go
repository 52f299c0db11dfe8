// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates the stored state changed under a conditional update
	// (e.g. a share reached its cap or was revoked between validation and increment).
	ErrVersionConflict = errors.New("version conflict")

	// ErrUnauthorized indicates missing or invalid caller credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates an authenticated caller lacks the required role or ownership.
	ErrForbidden = errors.New("forbidden")

	// ErrAlreadyExists indicates a unique constraint violation (e.g. token collision).
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidArgument indicates malformed input.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Share access denials. They are never distinguished further on the wire.
var (
	// ErrRateLimited indicates a rate-limit tier rejected the request; retryable after the window.
	ErrRateLimited = errors.New("rate limited")

	// ErrPermissionDenied covers unknown, revoked, expired, exhausted or wrong-permission shares.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrSuspiciousActivity indicates the client IP is temporarily blocked.
	ErrSuspiciousActivity = errors.New("suspicious activity")
)
