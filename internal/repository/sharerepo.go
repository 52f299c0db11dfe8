// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/and161185/sharegate/internal/model"
	"github.com/gofrs/uuid/v5"
)

// ShareRepository provides access to share records. Records are never physically deleted.
type ShareRepository interface {
	// Create inserts a new share; a token collision yields errs.ErrAlreadyExists.
	Create(ctx context.Context, rec *model.ShareRecord) error
	// FindByToken loads a share by token or returns errs.ErrNotFound.
	FindByToken(ctx context.Context, token string) (*model.ShareRecord, error)
	// Save updates the mutable fields (active, expiry, cap) of an existing share.
	Save(ctx context.Context, rec *model.ShareRecord) error
	// IncrementAccessCount atomically adds one access if the share is still valid
	// at now and returns the new count. A share that is no longer valid yields
	// errs.ErrVersionConflict; an unknown token yields errs.ErrNotFound.
	IncrementAccessCount(ctx context.Context, token string, now time.Time) (int64, error)
	// FindActiveByOwner lists active shares of an owner, newest first.
	FindActiveByOwner(ctx context.Context, ownerID uuid.UUID) ([]model.ShareRecord, error)
	// DeactivateExpired flips active off for shares expired at now and returns how many.
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}
