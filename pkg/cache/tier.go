package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultPrefix partitions this cache inside a shared persistent namespace.
const DefaultPrefix = "nft_cache_v3:"

var (
	// ErrNotFound is returned by a Tier when the key does not exist
	ErrNotFound = errors.New("cache entry not found")

	// ErrInvalidEntry indicates the stored record is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Tier is a persistent key-value backend for serialized entries.
// Implementations must scope every operation to their own key prefix.
type Tier interface {
	// Load returns the stored record, or ErrNotFound.
	Load(ctx context.Context, key string) ([]byte, error)

	// Save stores a record and records accessedAt for LRU ordering.
	Save(ctx context.Context, key string, value []byte, accessedAt time.Time) error

	// Touch updates the access time of an existing record.
	Touch(ctx context.Context, key string, accessedAt time.Time) error

	// Delete removes records. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// Keys lists stored keys, least recently accessed first.
	Keys(ctx context.Context) ([]string, error)

	// Len returns the number of stored records.
	Len(ctx context.Context) (int, error)

	// Clear removes every record under the tier's prefix.
	Clear(ctx context.Context) error
}

// StorageError reports a slow-tier failure. The Store never returns it to
// callers; it is translated into a miss (reads) or a no-op (writes).
type StorageError struct {
	Op  string
	Key string
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("cache storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("cache storage %s %q: %v", e.Op, e.Key, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *StorageError) Unwrap() error {
	return e.Err
}
