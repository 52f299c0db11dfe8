package postgres

import (
	"context"
	"time"

	"github.com/and161185/sharegate/internal/model"
	"github.com/and161185/sharegate/internal/repository"
)

// LedgerRepo implements AccessLedger using PostgreSQL.
type LedgerRepo struct{ db *DB }

var _ repository.AccessLedger = (*LedgerRepo)(nil)

// NewLedgerRepo constructs an access ledger.
func NewLedgerRepo(db *DB) *LedgerRepo { return &LedgerRepo{db: db} }

// Append inserts one access event.
func (r *LedgerRepo) Append(ctx context.Context, ev model.AccessEvent) error {
	const q = `INSERT INTO access_events (id, token, ip, user_agent, accessed_at, access_type) VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.Pool.Exec(ctx, q, ev.ID, ev.Token, ev.IP, ev.UserAgent, ev.At, string(ev.Type))
	return err
}

// ListByToken returns events of one share since the given time.
func (r *LedgerRepo) ListByToken(ctx context.Context, token string, since time.Time) ([]model.AccessEvent, error) {
	const q = `
SELECT id, token, ip, user_agent, accessed_at, access_type
FROM access_events
WHERE token=$1 AND accessed_at >= $2
ORDER BY accessed_at ASC`
	return r.list(ctx, q, token, since)
}

// ListSince returns all events since the given time.
func (r *LedgerRepo) ListSince(ctx context.Context, since time.Time) ([]model.AccessEvent, error) {
	const q = `
SELECT id, token, ip, user_agent, accessed_at, access_type
FROM access_events
WHERE accessed_at >= $1
ORDER BY accessed_at ASC`
	return r.list(ctx, q, since)
}

func (r *LedgerRepo) list(ctx context.Context, q string, args ...any) ([]model.AccessEvent, error) {
	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AccessEvent
	for rows.Next() {
		var (
			ev model.AccessEvent
			at string
		)
		if err = rows.Scan(&ev.ID, &ev.Token, &ev.IP, &ev.UserAgent, &ev.At, &at); err != nil {
			return nil, err
		}
		ev.Type = model.AccessType(at)
		ev.At = ev.At.UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}
