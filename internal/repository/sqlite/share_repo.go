package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/sharegate/internal/errs"
	"github.com/and161185/sharegate/internal/model"
	"github.com/and161185/sharegate/internal/repository"
	"github.com/gofrs/uuid/v5"
)

// ShareRepo implements ShareRepository using SQLite.
type ShareRepo struct{ db *DB }

var _ repository.ShareRepository = (*ShareRepo)(nil)

// NewShareRepo constructs a share repository.
func NewShareRepo(db *DB) *ShareRepo { return &ShareRepo{db: db} }

const shareColumns = `id, token, file_id, owner_id, permission, created_at, updated_at, expires_at, active, access_count, max_access, password_hash, password_salt`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanShare(row rowScanner) (*model.ShareRecord, error) {
	var (
		rec                   model.ShareRecord
		id, fileID, ownerID   string
		perm                  string
		expires               sql.NullTime
		maxAccess             sql.NullInt64
		passwordHash, pwdSalt []byte
	)
	err := row.Scan(&id, &rec.Token, &fileID, &ownerID, &perm, &rec.CreatedAt, &rec.UpdatedAt,
		&expires, &rec.Active, &rec.AccessCount, &maxAccess, &passwordHash, &pwdSalt)
	if err != nil {
		return nil, err
	}
	if rec.ID, err = uuid.FromString(id); err != nil {
		return nil, fmt.Errorf("share id: %w", err)
	}
	if rec.FileID, err = uuid.FromString(fileID); err != nil {
		return nil, fmt.Errorf("file id: %w", err)
	}
	if rec.OwnerID, err = uuid.FromString(ownerID); err != nil {
		return nil, fmt.Errorf("owner id: %w", err)
	}
	rec.Permission = model.Permission(perm)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	if expires.Valid {
		t := expires.Time.UTC()
		rec.ExpiresAt = &t
	}
	if maxAccess.Valid {
		n := maxAccess.Int64
		rec.MaxAccess = &n
	}
	rec.PasswordHash, rec.PasswordSalt = passwordHash, pwdSalt
	return &rec, nil
}

// Create inserts a new share.
func (r *ShareRepo) Create(ctx context.Context, rec *model.ShareRecord) error {
	const q = `INSERT INTO shares (` + shareColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.SQL.ExecContext(ctx, q,
		rec.ID.String(), rec.Token, rec.FileID.String(), rec.OwnerID.String(), string(rec.Permission),
		ts(rec.CreatedAt), ts(rec.UpdatedAt), tsPtr(rec.ExpiresAt), rec.Active, rec.AccessCount,
		int64Ptr(rec.MaxAccess), rec.PasswordHash, rec.PasswordSalt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// FindByToken loads a share by its token.
func (r *ShareRepo) FindByToken(ctx context.Context, token string) (*model.ShareRecord, error) {
	const q = `SELECT ` + shareColumns + ` FROM shares WHERE token=?`
	rec, err := scanShare(r.db.SQL.QueryRowContext(ctx, q, token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// Save updates active flag, expiry and cap of an existing share.
func (r *ShareRepo) Save(ctx context.Context, rec *model.ShareRecord) error {
	const q = `UPDATE shares SET active=?, expires_at=?, max_access=?, updated_at=? WHERE token=?`
	res, err := r.db.SQL.ExecContext(ctx, q, rec.Active, tsPtr(rec.ExpiresAt), int64Ptr(rec.MaxAccess), ts(time.Now()), rec.Token)
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

// IncrementAccessCount adds one access in a single conditional UPDATE.
func (r *ShareRepo) IncrementAccessCount(ctx context.Context, token string, now time.Time) (int64, error) {
	const q = `
UPDATE shares SET access_count = access_count + 1, updated_at = ?
WHERE token=? AND active
  AND (max_access IS NULL OR access_count < max_access)
  AND (expires_at IS NULL OR expires_at > ?)
RETURNING access_count`
	var n int64
	err := r.db.SQL.QueryRowContext(ctx, q, ts(now), token, ts(now)).Scan(&n)
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	var found bool
	if err := r.db.SQL.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM shares WHERE token=?)`, token).Scan(&found); err != nil {
		return 0, err
	}
	if !found {
		return 0, errs.ErrNotFound
	}
	return 0, fmt.Errorf("share no longer valid: %w", errs.ErrVersionConflict)
}

// FindActiveByOwner lists active shares of an owner, newest first.
func (r *ShareRepo) FindActiveByOwner(ctx context.Context, ownerID uuid.UUID) ([]model.ShareRecord, error) {
	const q = `SELECT ` + shareColumns + ` FROM shares WHERE owner_id=? AND active ORDER BY created_at DESC`
	rows, err := r.db.SQL.QueryContext(ctx, q, ownerID.String())
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
	const q = `UPDATE shares SET active=0, updated_at=? WHERE active AND expires_at IS NOT NULL AND expires_at <= ?`
	res, err := r.db.SQL.ExecContext(ctx, q, ts(now), ts(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
