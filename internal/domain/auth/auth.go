// Package auth is the identity collaborator boundary: it turns request
// credentials into a customer identity plus an admin flag. Session
// issuance itself lives outside this service; the engine only consumes
// HMAC-hashed API keys.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/go-faster/errors"
)

// ErrUnauthorized is returned for missing, unknown, or inactive keys.
var ErrUnauthorized = errors.New("unauthorized")

// KeyInfo holds the stored identity data for a validated API key.
type KeyInfo struct {
	ID        string
	KeyHash   string
	AccountID string
	Name      string
	IsAdmin   bool
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*KeyInfo, error)
}

// Identity is the authenticated caller.
type Identity struct {
	AccountID string
	IsAdmin   bool
}

// Verifier authenticates raw API keys.
type Verifier struct {
	keys   Repository
	pepper []byte
}

// NewVerifier creates a Verifier with the HMAC pepper used to hash keys at
// rest.
func NewVerifier(keys Repository, pepper []byte) *Verifier {
	return &Verifier{keys: keys, pepper: pepper}
}

// HashKey computes the stored HMAC-SHA256 hash for a raw API key.
func HashKey(pepper []byte, rawKey string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(rawKey))
	return hex.EncodeToString(mac.Sum(nil))
}

// Authenticate resolves a raw API key to an Identity. The stored hash is
// re-compared in constant time so a stale or corrupted row cannot slip a
// wrong key through.
func (v *Verifier) Authenticate(ctx context.Context, rawKey string) (Identity, error) {
	if rawKey == "" {
		return Identity{}, ErrUnauthorized
	}

	mac := hmac.New(sha256.New, v.pepper)
	mac.Write([]byte(rawKey))
	computed := mac.Sum(nil)

	info, err := v.keys.FindByHash(ctx, hex.EncodeToString(computed))
	if err != nil {
		return Identity{}, ErrUnauthorized
	}

	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return Identity{}, ErrUnauthorized
	}
	if !hmac.Equal(computed, stored) {
		return Identity{}, ErrUnauthorized
	}

	return Identity{AccountID: info.AccountID, IsAdmin: info.IsAdmin}, nil
}
