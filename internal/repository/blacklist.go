package repository

import (
	"context"
	"time"

	"github.com/and161185/sharegate/internal/model"
)

// BlacklistRepository persists blacklist entries keyed by normalized IP or CIDR.
type BlacklistRepository interface {
	// Upsert inserts or replaces the entry for e.IP.
	Upsert(ctx context.Context, e model.BlacklistEntry) error
	// Delete removes the entry for ip; a missing entry yields errs.ErrNotFound.
	Delete(ctx context.Context, ip string) error
	// ListActive returns entries not yet expired at now.
	ListActive(ctx context.Context, now time.Time) ([]model.BlacklistEntry, error)
	// PurgeExpired removes entries expired at now and returns how many.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
