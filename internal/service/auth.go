// Package service contains the share access pipeline and the application
// services built around it.
package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/and161185/sharegate/internal/errs"
	"github.com/and161185/sharegate/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
)

// AuthService issues and verifies admin API bearer tokens.
type AuthService interface {
	// IssueToken signs an HS256 JWT for subject, valid for ttl.
	IssueToken(subject uuid.UUID, admin bool, ttl time.Duration) (string, time.Time, error)
	// ParseToken verifies a JWT and returns the caller it names.
	ParseToken(token string) (model.Caller, error)
}

// Claims are the JWT claims understood by the admin API.
type Claims struct {
	jwt.RegisteredClaims
	Admin bool `json:"adm,omitempty"`
}

type AuthServiceImpl struct {
	signKey []byte
	leeway  time.Duration
	now     func() time.Time
}

// NewAuthService constructs AuthService with the HS256 signing key.
func NewAuthService(signKey []byte) *AuthServiceImpl {
	return &AuthServiceImpl{signKey: signKey, leeway: 30 * time.Second, now: time.Now}
}

// IssueToken creates a signed HS256 JWT for the given subject.
func (s *AuthServiceImpl) IssueToken(subject uuid.UUID, admin bool, ttl time.Duration) (string, time.Time, error) {
	if subject == uuid.Nil {
		return "", time.Time{}, fmt.Errorf("validation: empty subject: %w", errs.ErrInvalidArgument)
	}
	if ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("validation: non-positive ttl: %w", errs.ErrInvalidArgument)
	}
	now := s.now()
	exp := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Admin: admin,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signKey)
	return signed, exp, err
}

// ParseToken verifies HS256 signature and time claims and returns sub as the caller ID.
func (s *AuthServiceImpl) ParseToken(tok string) (model.Caller, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.signKey, nil
	}, jwt.WithLeeway(s.leeway), jwt.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid {
		return model.Caller{}, fmt.Errorf("invalid token: %w", errs.ErrUnauthorized)
	}

	id, err := uuid.FromString(claims.Subject)
	if err != nil || id == uuid.Nil {
		return model.Caller{}, fmt.Errorf("bad subject: %w", errs.ErrUnauthorized)
	}
	return model.Caller{ID: id, Admin: claims.Admin}, nil
}
