package postgres

import (
	"context"
	"time"

	"github.com/and161185/sharegate/internal/errs"
	"github.com/and161185/sharegate/internal/model"
	"github.com/and161185/sharegate/internal/repository"
)

// BlacklistRepo implements BlacklistRepository using PostgreSQL.
type BlacklistRepo struct{ db *DB }

var _ repository.BlacklistRepository = (*BlacklistRepo)(nil)

// NewBlacklistRepo constructs a blacklist repository.
func NewBlacklistRepo(db *DB) *BlacklistRepo { return &BlacklistRepo{db: db} }

// Upsert inserts or replaces a blacklist entry.
func (r *BlacklistRepo) Upsert(ctx context.Context, e model.BlacklistEntry) error {
	const q = `
INSERT INTO blacklist (ip, reason, expires_at, created_by, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (ip) DO UPDATE
SET reason=EXCLUDED.reason, expires_at=EXCLUDED.expires_at, created_by=EXCLUDED.created_by, created_at=EXCLUDED.created_at`
	_, err := r.db.Pool.Exec(ctx, q, e.IP, e.Reason, e.ExpiresAt, string(e.CreatedBy), e.CreatedAt)
	return err
}

// Delete removes the entry for ip.
func (r *BlacklistRepo) Delete(ctx context.Context, ip string) error {
	const q = `DELETE FROM blacklist WHERE ip=$1`
	tag, err := r.db.Pool.Exec(ctx, q, ip)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// ListActive returns entries that have not expired at now.
func (r *BlacklistRepo) ListActive(ctx context.Context, now time.Time) ([]model.BlacklistEntry, error) {
	const q = `SELECT ip, reason, expires_at, created_by, created_at FROM blacklist WHERE expires_at > $1 ORDER BY created_at ASC`
	rows, err := r.db.Pool.Query(ctx, q, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.BlacklistEntry
	for rows.Next() {
		var (
			e  model.BlacklistEntry
			by string
		)
		if err = rows.Scan(&e.IP, &e.Reason, &e.ExpiresAt, &by, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.CreatedBy = model.BlacklistSource(by)
		out = append(out, e)
	}
	return out, rows.Err()
}

// PurgeExpired deletes entries expired at now.
func (r *BlacklistRepo) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	const q = `DELETE FROM blacklist WHERE expires_at <= $1`
	tag, err := r.db.Pool.Exec(ctx, q, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
