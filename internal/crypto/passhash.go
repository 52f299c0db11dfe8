// Package crypto implements share tokens and share password hashing.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters (tuned for server-side hashing).
const (
	argonTime    uint32 = 3         // iterations
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32
)

// TokenBytes is the entropy of a share token.
const TokenBytes = 32

// SaltBytes is the length of a per-share password salt.
const SaltBytes = 16

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// NewToken returns an unguessable URL-safe share token.
func NewToken() (string, error) {
	b, err := RandBytes(TokenBytes)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewPasswordHash salts and hashes a share password.
func NewPasswordHash(password string) (hash, salt []byte, err error) {
	salt, err = RandBytes(SaltBytes)
	if err != nil {
		return nil, nil, err
	}
	return HashPassword([]byte(password), salt), salt, nil
}

// HashPassword returns Argon2id hash of password using the provided salt.
func HashPassword(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// VerifyPassword verifies password against expected Argon2id hash and salt.
func VerifyPassword(password, salt, expected []byte) bool {
	got := HashPassword(password, salt)
	return subtle.ConstantTimeCompare(got, expected) == 1
}
