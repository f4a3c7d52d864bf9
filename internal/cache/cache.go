package cache

import (
	"context"
	"time"
)

// Cache is the shared key-value store used for the token lifecycle, the
// sync lock and the rate-limit cooldown flag. It is an explicit dependency
// rather than ambient global state so tests can run against the in-memory
// backend while multi-instance deployments share a Redis backend.
type Cache interface {
	// Get retrieves a value by key. Returns ErrCacheMiss if not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value by key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// TryLock attempts to acquire a named lock with the given TTL without
	// blocking. On success it returns the owner token that Unlock requires.
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)

	// Lock acquires a named lock with the given TTL, retrying until maxWait
	// has elapsed. On success it returns the owner token that Unlock requires.
	Lock(ctx context.Context, key string, ttl, maxWait time.Duration) (string, bool, error)

	// Unlock releases the lock identified by key only while it still holds
	// the given owner token; a lock that expired and was re-acquired
	// elsewhere is left alone. Unlocking with an empty owner is a no-op.
	Unlock(ctx context.Context, key, owner string) error
}

// Common cache errors
type CacheError string

func (e CacheError) Error() string { return string(e) }

const (
	// ErrCacheMiss indicates the key was not found in cache.
	ErrCacheMiss CacheError = "cache miss"
)

// lockRetryInterval is the poll interval for blocking Lock acquisition.
const lockRetryInterval = 250 * time.Millisecond
