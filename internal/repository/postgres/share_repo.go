package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/sharegate/internal/errs"
	"github.com/and161185/sharegate/internal/model"
	"github.com/and161185/sharegate/internal/repository"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// ShareRepo implements ShareRepository using PostgreSQL.
type ShareRepo struct{ db *DB }

var _ repository.ShareRepository = (*ShareRepo)(nil)

// NewShareRepo constructs a share repository.
func NewShareRepo(db *DB) *ShareRepo { return &ShareRepo{db: db} }

const shareColumns = `id, token, file_id, owner_id, permission, created_at, updated_at, expires_at, active, access_count, max_access, password_hash, password_salt`

// Create inserts a new share.
func (r *ShareRepo) Create(ctx context.Context, rec *model.ShareRecord) error {
	const q = `INSERT INTO shares (` + shareColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := r.db.Pool.Exec(ctx, q,
		rec.ID, rec.Token, rec.FileID, rec.OwnerID, string(rec.Permission),
		rec.CreatedAt, rec.UpdatedAt, rec.ExpiresAt, rec.Active, rec.AccessCount,
		rec.MaxAccess, rec.PasswordHash, rec.PasswordSalt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

func scanShare(row pgx.Row) (*model.ShareRecord, error) {
	var (
		rec  model.ShareRecord
		perm string
	)
	err := row.Scan(&rec.ID, &rec.Token, &rec.FileID, &rec.OwnerID, &perm,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.ExpiresAt, &rec.Active, &rec.AccessCount,
		&rec.MaxAccess, &rec.PasswordHash, &rec.PasswordSalt)
	if err != nil {
		return nil, err
	}
	rec.Permission = model.Permission(perm)
	return &rec, nil
}

// FindByToken loads a share by its token.
func (r *ShareRepo) FindByToken(ctx context.Context, token string) (*model.ShareRecord, error) {
	const q = `SELECT ` + shareColumns + ` FROM shares WHERE token=$1`
	rec, err := scanShare(r.db.Pool.QueryRow(ctx, q, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// Save updates active flag, expiry and cap of an existing share.
func (r *ShareRepo) Save(ctx context.Context, rec *model.ShareRecord) error {
	const q = `UPDATE shares SET active=$2, expires_at=$3, max_access=$4, updated_at=now() WHERE token=$1`
	tag, err := r.db.Pool.Exec(ctx, q, rec.Token, rec.Active, rec.ExpiresAt, rec.MaxAccess)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// IncrementAccessCount adds one access in a single conditional UPDATE, so
// concurrent callers can never push the count past max_access.
func (r *ShareRepo) IncrementAccessCount(ctx context.Context, token string, now time.Time) (int64, error) {
	const q = `
UPDATE shares SET access_count = access_count + 1, updated_at = now()
WHERE token=$1 AND active
  AND (max_access IS NULL OR access_count < max_access)
  AND (expires_at IS NULL OR expires_at > $2)
RETURNING access_count`
	var n int64
	err := r.db.Pool.QueryRow(ctx, q, token, now).Scan(&n)
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}

	const exists = `SELECT EXISTS(SELECT 1 FROM shares WHERE token=$1)`
	var found bool
	if err := r.db.Pool.QueryRow(ctx, exists, token).Scan(&found); err != nil {
		return 0, err
	}
	if !found {
		return 0, errs.ErrNotFound
	}
	return 0, fmt.Errorf("share no longer valid: %w", errs.ErrVersionConflict)
}

// FindActiveByOwner lists active shares of an owner, newest first.
func (r *ShareRepo) FindActiveByOwner(ctx context.Context, ownerID uuid.UUID) ([]model.ShareRecord, error) {
	const q = `SELECT ` + shareColumns + ` FROM shares WHERE owner_id=$1 AND active ORDER BY created_at DESC`
	rows, err := r.db.Pool.Query(ctx, q, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ShareRecord
	for rows.Next() {
		rec, err := scanShare(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// DeactivateExpired soft-deletes shares whose expiry has passed.
func (r *ShareRepo) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	const q = `UPDATE shares SET active=false, updated_at=now() WHERE active AND expires_at IS NOT NULL AND expires_at <= $1`
	tag, err := r.db.Pool.Exec(ctx, q, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
