package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/and161185/sharegate/internal/model"
	"github.com/and161185/sharegate/internal/repository"
	"github.com/gofrs/uuid/v5"
)

// LedgerRepo implements AccessLedger using SQLite.
type LedgerRepo struct{ db *DB }

var _ repository.AccessLedger = (*LedgerRepo)(nil)

// NewLedgerRepo constructs an access ledger.
func NewLedgerRepo(db *DB) *LedgerRepo { return &LedgerRepo{db: db} }

// Append inserts one access event.
func (r *LedgerRepo) Append(ctx context.Context, ev model.AccessEvent) error {
	const q = `INSERT INTO access_events (id, token, ip, user_agent, accessed_at, access_type) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := r.db.SQL.ExecContext(ctx, q, ev.ID.String(), ev.Token, ev.IP, ev.UserAgent, ts(ev.At), string(ev.Type))
	return err
}

// ListByToken returns events of one share since the given time.
func (r *LedgerRepo) ListByToken(ctx context.Context, token string, since time.Time) ([]model.AccessEvent, error) {
	const q = `
SELECT id, token, ip, user_agent, accessed_at, access_type
FROM access_events
WHERE token=? AND accessed_at >= ?
ORDER BY accessed_at ASC`
	return r.list(ctx, q, token, ts(since))
}

// ListSince returns all events since the given time.
func (r *LedgerRepo) ListSince(ctx context.Context, since time.Time) ([]model.AccessEvent, error) {
	const q = `
SELECT id, token, ip, user_agent, accessed_at, access_type
FROM access_events
WHERE accessed_at >= ?
ORDER BY accessed_at ASC`
	return r.list(ctx, q, ts(since))
}

func (r *LedgerRepo) list(ctx context.Context, q string, args ...any) ([]model.AccessEvent, error) {
	rows, err := r.db.SQL.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AccessEvent
	for rows.Next() {
		var (
			ev     model.AccessEvent
			id, at string
		)
		if err = rows.Scan(&id, &ev.Token, &ev.IP, &ev.UserAgent, &ev.At, &at); err != nil {
			return nil, err
		}
		if ev.ID, err = uuid.FromString(id); err != nil {
			return nil, fmt.Errorf("event id: %w", err)
		}
		ev.Type = model.AccessType(at)
		ev.At = ev.At.UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}
