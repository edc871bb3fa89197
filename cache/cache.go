package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

// MaxKeyLength is the maximum allowed length for a fingerprint.
const MaxKeyLength = 512

// Sentinel errors for cache operations.
var (
	ErrNilCache       = errors.New("cache: cache is nil")
	ErrInvalidKey     = errors.New("cache: key is invalid")
	ErrKeyTooLong     = errors.New("cache: key exceeds max length")
	ErrNilEntry       = errors.New("cache: entry is nil")
	ErrPolicyConflict = errors.New("cache: isolation policy already set")
)

// Entry is one stored cache slot. Entries are never mutated after Put;
// a refresh stores a new Entry under the same fingerprint.
type Entry struct {
	Fingerprint string    `json:"fingerprint"`
	Value       []byte    `json:"value,omitempty"`
	Empty       bool      `json:"empty,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"` // zero means never
	ID          string    `json:"id"`
	Remark      string    `json:"remark,omitempty"`
	Args        string    `json:"args,omitempty"`
}

// Never reports whether the entry has no expiry.
func (e *Entry) Never() bool {
	return e.ExpiresAt.IsZero()
}

// Expired reports whether the entry is past its expiry at now.
func (e *Entry) Expired(now time.Time) bool {
	return !e.Never() && !now.Before(e.ExpiresAt)
}

// Result returns the value served to callers. The empty marker yields nil.
func (e *Entry) Result() []byte {
	if e.Empty {
		return nil
	}
	return e.Value
}

// Store is the entry store together with its expiration index.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: methods should honor cancellation/deadlines where applicable.
// - Errors: Get never errors; a backend or decode failure is reported as a miss.
// - Expiry: Get returns expired entries as-is; removal is RemoveIfExpired's job.
// - Index: every entry with a finite ExpiresAt has exactly one index membership.
type Store interface {
	// Get returns the entry for fingerprint. Returns (nil, false) on miss.
	// A read made with a ConsistentRead context must observe every Put that
	// completed before it started.
	Get(ctx context.Context, fingerprint string) (*Entry, bool)

	// Put stores or replaces the entry and moves its index membership.
	Put(ctx context.Context, entry *Entry) error

	// Invalidate removes every entry whose ID or fingerprint equals match
	// and returns the removed entries. Idempotent - empty result on miss.
	Invalidate(ctx context.Context, match string) ([]*Entry, error)

	// Entries returns a snapshot of all stored entries, expired ones included.
	Entries(ctx context.Context) ([]*Entry, error)

	// Due returns the fingerprints indexed at or before now, earliest first.
	Due(ctx context.Context, now time.Time) ([]string, error)

	// RemoveIfExpired removes fingerprint only if its current entry is
	// expired at now. Absent entries are not an error.
	RemoveIfExpired(ctx context.Context, fingerprint string, now time.Time) (bool, error)

	// Len returns the number of stored entries.
	Len(ctx context.Context) (int, error)
}

// ValidateKey checks if a fingerprint is valid for caching.
func ValidateKey(key string) error {
	if key == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	// Reject keys with newlines or carriage returns
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}
