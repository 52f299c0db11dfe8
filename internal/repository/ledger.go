package repository

import (
	"context"
	"time"

	"github.com/and161185/sharegate/internal/model"
)

// AccessLedger is the append-only log of authorized accesses.
type AccessLedger interface {
	// Append stores one event.
	Append(ctx context.Context, ev model.AccessEvent) error
	// ListByToken returns events of one share at or after since, oldest first.
	ListByToken(ctx context.Context, token string, since time.Time) ([]model.AccessEvent, error)
	// ListSince returns all events at or after since, oldest first.
	ListSince(ctx context.Context, since time.Time) ([]model.AccessEvent, error)
}
