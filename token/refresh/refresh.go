package refresh

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/jrsteele09/storefront-auth/identity"
)

// ValueLength is the number of random bytes in a refresh token value (256 bits).
const ValueLength = 32

// Record is the server-side state of one refresh token. The client only ever
// holds the raw value; the store is keyed by its SHA-256 hash.
type Record struct {
	Hash      string            `json:"hash"`
	FamilyID  string            `json:"family_id"` // Shared by every rotation of one login
	Identity  identity.Identity `json:"identity"`
	IssuedAt  time.Time         `json:"issued_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}

func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Store persists refresh records with strict one-time-use semantics.
//
// Consume removes the record atomically. A hash that was consumed before
// returns ErrRefreshReused together with a record carrying at least the
// FamilyID, so the caller can revoke the family. Unknown hashes return
// ErrNotFound.
type Store interface {
	Save(ctx context.Context, record *Record) error
	Consume(ctx context.Context, hash string) (*Record, error)
	RevokeFamily(ctx context.Context, familyID string) error
	RevokeUser(ctx context.Context, userID string) error
	FamilyRevoked(ctx context.Context, familyID string) (bool, error)
}

// NewValue returns a fresh opaque refresh token value.
func NewValue() (string, error) {
	b := make([]byte, ValueLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Hash returns the storage key for a refresh token value.
func Hash(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// WellFormed reports whether value looks like something NewValue produced.
func WellFormed(value string) bool {
	if len(value) != ValueLength*2 {
		return false
	}
	_, err := hex.DecodeString(strings.ToLower(value))
	return err == nil
}
