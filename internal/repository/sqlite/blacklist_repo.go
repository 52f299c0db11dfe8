package sqlite

import (
	"context"
	"time"

	"github.com/and161185/sharegate/internal/errs"
	"github.com/and161185/sharegate/internal/model"
	"github.com/and161185/sharegate/internal/repository"
)

// BlacklistRepo implements BlacklistRepository using SQLite.
type BlacklistRepo struct{ db *DB }

var _ repository.BlacklistRepository = (*BlacklistRepo)(nil)

// NewBlacklistRepo constructs a blacklist repository.
func NewBlacklistRepo(db *DB) *BlacklistRepo { return &BlacklistRepo{db: db} }

// Upsert inserts or replaces a blacklist entry.
func (r *BlacklistRepo) Upsert(ctx context.Context, e model.BlacklistEntry) error {
	const q = `
INSERT INTO blacklist (ip, reason, expires_at, created_by, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (ip) DO UPDATE
SET reason=excluded.reason, expires_at=excluded.expires_at, created_by=excluded.created_by, created_at=excluded.created_at`
	_, err := r.db.SQL.ExecContext(ctx, q, e.IP, e.Reason, ts(e.ExpiresAt), string(e.CreatedBy), ts(e.CreatedAt))
	return err
}

// Delete removes the entry for ip.
func (r *BlacklistRepo) Delete(ctx context.Context, ip string) error {
	res, err := r.db.SQL.ExecContext(ctx, `DELETE FROM blacklist WHERE ip=?`, ip)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// ListActive returns entries that have not expired at now.
func (r *BlacklistRepo) ListActive(ctx context.Context, now time.Time) ([]model.BlacklistEntry, error) {
	const q = `SELECT ip, reason, expires_at, created_by, created_at FROM blacklist WHERE expires_at > ? ORDER BY created_at ASC`
	rows, err := r.db.SQL.QueryContext(ctx, q, ts(now))
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
		e.ExpiresAt, e.CreatedAt = e.ExpiresAt.UTC(), e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// PurgeExpired deletes entries expired at now.
func (r *BlacklistRepo) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.SQL.ExecContext(ctx, `DELETE FROM blacklist WHERE expires_at <= ?`, ts(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
