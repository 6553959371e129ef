package token

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no live record matches a token.
// Absent, expired and consumed records are indistinguishable.
var ErrNotFound = errors.New("token not found")

// Record is a persisted row keyed by a token hash.
type Record interface {
	HashedToken() string
}

// Backend is the persistence side of a Store. Implementations must exclude
// expired and closed rows in FindLiveByHash itself, so correctness never
// depends on DeleteExpired having run.
type Backend[R Record] interface {
	FindLiveByHash(ctx context.Context, hash string, now time.Time) (R, error)
	InvalidateByHash(ctx context.Context, hash string, now time.Time) error
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store performs hash-and-compare lookups over a Backend.
type Store[R Record] struct {
	hasher  *Hasher
	backend Backend[R]
	now     func() time.Time
}

// NewStore creates a Store. now defaults to time.Now when nil.
func NewStore[R Record](hasher *Hasher, backend Backend[R], now func() time.Time) *Store[R] {
	if now == nil {
		now = time.Now
	}
	return &Store[R]{hasher: hasher, backend: backend, now: now}
}

// Store returns the hash under which a plaintext token is persisted.
func (s *Store[R]) Store(plain string) string {
	return s.hasher.Hash(plain)
}

// Mint generates a new token for a record about to be inserted.
func (s *Store[R]) Mint() (Minted, error) {
	return s.hasher.Mint()
}

// Lookup returns the live record matching a plaintext token.
func (s *Store[R]) Lookup(ctx context.Context, plain string) (R, error) {
	var zero R
	if plain == "" {
		return zero, ErrNotFound
	}
	rec, err := s.backend.FindLiveByHash(ctx, s.hasher.Hash(plain), s.now())
	if err != nil {
		return zero, err
	}
	return rec, nil
}

// Invalidate closes a record so later lookups fail.
func (s *Store[R]) Invalidate(ctx context.Context, rec R) error {
	return s.backend.InvalidateByHash(ctx, rec.HashedToken(), s.now())
}

// Sweep deletes records that have been dead for longer than retention.
func (s *Store[R]) Sweep(ctx context.Context, retention time.Duration) (int64, error) {
	return s.backend.DeleteExpired(ctx, s.now().Add(-retention))
}
