// Package cache defines the key/value capability set the server needs from
// its cache backend (revocation entries, rate-limit counters, verification
// staging, profile cache) and provides Redis and in-memory implementations.
package cache

import (
	"context"
	"time"
)

// Cache is an expiring key/value store. Implementations must make Incr
// atomic; everything else is read-after-write consistent within one backend
// instance, which is all the callers rely on.
//
// Get and TTL return common.ErrorNotFound for absent keys. Infrastructure
// failures are wrapped in common.ErrCacheUnavailable so callers can apply
// their fail-open/fail-closed policy with errors.Is.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Incr atomically increments the integer at key, creating it with the
	// given TTL when absent, and returns the new count.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Delete(ctx context.Context, key string) error
	// TTL returns the remaining time to live of key.
	TTL(ctx context.Context, key string) (time.Duration, error)
}
