package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/sharegate/internal/clock"
	pkgcrypto "github.com/and161185/sharegate/internal/crypto"
	"github.com/and161185/sharegate/internal/errs"
	"github.com/and161185/sharegate/internal/model"
	"github.com/and161185/sharegate/internal/repository"
	"github.com/gofrs/uuid/v5"
)

// ShareSpec describes a share to create.
type ShareSpec struct {
	OwnerID    uuid.UUID
	FileID     uuid.UUID
	Permission model.Permission
	TTL        time.Duration // 0 = never expires
	MaxAccess  *int64        // nil = unlimited
	Password   string        // empty = no password
}

// ShareService manages share links on behalf of their owners.
type ShareService interface {
	// Create issues a new share token for the owner's file.
	Create(ctx context.Context, spec ShareSpec) (*model.ShareRecord, error)
	// Revoke deactivates a share. Shares of other owners are reported as not found.
	Revoke(ctx context.Context, ownerID uuid.UUID, token string) error
	// ListActive returns the owner's active shares, newest first.
	ListActive(ctx context.Context, ownerID uuid.UUID) ([]model.ShareRecord, error)
}

type ShareServiceImpl struct {
	repo  repository.ShareRepository
	clock clock.Clock
}

var _ ShareService = (*ShareServiceImpl)(nil)

// tokenAttempts bounds retries on the (practically impossible) token collision.
const tokenAttempts = 3

// NewShareService constructs ShareService.
func NewShareService(repo repository.ShareRepository, c clock.Clock) *ShareServiceImpl {
	if c == nil {
		c = clock.Real{}
	}
	return &ShareServiceImpl{repo: repo, clock: c}
}

// Create validates spec and stores a new active share.
// Validation rules:
// - OwnerID and FileID are set
// - Permission is known
// - TTL >= 0
// - MaxAccess, when set, is positive
func (s *ShareServiceImpl) Create(ctx context.Context, spec ShareSpec) (*model.ShareRecord, error) {
	if spec.OwnerID == uuid.Nil || spec.FileID == uuid.Nil {
		return nil, fmt.Errorf("validation: empty owner/file id: %w", errs.ErrInvalidArgument)
	}
	if !spec.Permission.Valid() {
		return nil, fmt.Errorf("validation: unknown permission %q: %w", spec.Permission, errs.ErrInvalidArgument)
	}
	if spec.TTL < 0 {
		return nil, fmt.Errorf("validation: negative ttl: %w", errs.ErrInvalidArgument)
	}
	if spec.MaxAccess != nil && *spec.MaxAccess <= 0 {
		return nil, fmt.Errorf("validation: non-positive max access: %w", errs.ErrInvalidArgument)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("share id: %w", err)
	}
	now := s.clock.Now()
	rec := &model.ShareRecord{
		ID:         id,
		FileID:     spec.FileID,
		OwnerID:    spec.OwnerID,
		Permission: spec.Permission,
		CreatedAt:  now,
		UpdatedAt:  now,
		Active:     true,
	}
	if spec.TTL > 0 {
		exp := now.Add(spec.TTL)
		rec.ExpiresAt = &exp
	}
	if spec.MaxAccess != nil {
		limit := *spec.MaxAccess
		rec.MaxAccess = &limit
	}
	if spec.Password != "" {
		rec.PasswordHash, rec.PasswordSalt, err = pkgcrypto.NewPasswordHash(spec.Password)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		if rec.Token, err = pkgcrypto.NewToken(); err != nil {
			return nil, fmt.Errorf("share token: %w", err)
		}
		err = s.repo.Create(ctx, rec)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, errs.ErrAlreadyExists) || attempt+1 >= tokenAttempts {
			return nil, err
		}
	}
}

// Revoke is a soft delete: the record stays for statistics.
func (s *ShareServiceImpl) Revoke(ctx context.Context, ownerID uuid.UUID, token string) error {
	if ownerID == uuid.Nil || token == "" {
		return fmt.Errorf("validation: empty owner/token: %w", errs.ErrInvalidArgument)
	}
	rec, err := s.repo.FindByToken(ctx, token)
	if err != nil {
		return err
	}
	if rec.OwnerID != ownerID {
		return errs.ErrNotFound
	}
	if !rec.Active {
		return nil
	}
	rec.Active = false
	rec.UpdatedAt = s.clock.Now()
	return s.repo.Save(ctx, rec)
}

// ListActive delegates to the repository.
func (s *ShareServiceImpl) ListActive(ctx context.Context, ownerID uuid.UUID) ([]model.ShareRecord, error) {
	if ownerID == uuid.Nil {
		return nil, fmt.Errorf("validation: empty owner id: %w", errs.ErrInvalidArgument)
	}
	return s.repo.FindActiveByOwner(ctx, ownerID)
}
