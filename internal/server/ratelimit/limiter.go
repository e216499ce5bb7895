// Package ratelimit tracks failed authentication attempts (and request
// volume) per key within fixed-TTL windows backed by the shared cache.
//
// The sliding window is approximated by counters that expire naturally with
// the cache entry; auth endpoints tolerate that coarse granularity and it
// avoids sorted-set bookkeeping.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/achertok/contacthub/internal/common"
	"github.com/achertok/contacthub/internal/server/cache"
)

// Status is the outcome of a limit check. When Allowed is false, RetryAfter
// holds the remaining window TTL as a caller-facing back-off hint.
type Status struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter counts events per key. A threshold of zero disables the limiter
// entirely (every check passes, nothing is recorded).
type Limiter struct {
	cache     cache.Cache
	prefix    string
	threshold int
	window    time.Duration
}

func New(c cache.Cache, prefix string, threshold int, window time.Duration) *Limiter {
	return &Limiter{cache: c, prefix: prefix, threshold: threshold, window: window}
}

func (l *Limiter) enabled() bool { return l.threshold > 0 }

func (l *Limiter) key(k string) string {
	return l.prefix + ":" + strings.ToLower(k)
}

// RecordFailure increments the counter for key, creating it with a fresh
// window TTL when absent, and returns the new count.
func (l *Limiter) RecordFailure(ctx context.Context, key string) (int64, error) {
	if !l.enabled() {
		return 0, nil
	}
	n, err := l.cache.Incr(ctx, l.key(key), l.window)
	if err != nil {
		return 0, fmt.Errorf("recording failure: %w", err)
	}
	return n, nil
}

// Check reports whether an attempt for key is allowed. It is read-only: a
// passing check does not consume budget.
func (l *Limiter) Check(ctx context.Context, key string) (Status, error) {
	if !l.enabled() {
		return Status{Allowed: true}, nil
	}

	val, err := l.cache.Get(ctx, l.key(key))
	if err != nil {
		if err == common.ErrorNotFound {
			return Status{Allowed: true}, nil
		}
		return Status{}, fmt.Errorf("reading counter: %w", err)
	}

	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return Status{Allowed: true}, nil
	}
	if count < int64(l.threshold) {
		return Status{Allowed: true}, nil
	}
	return l.throttled(ctx, key)
}

// Allow combines RecordFailure and Check for request metering: every call
// consumes budget, and calls past the threshold are throttled until the
// window expires.
func (l *Limiter) Allow(ctx context.Context, key string) (Status, error) {
	if !l.enabled() {
		return Status{Allowed: true}, nil
	}

	n, err := l.cache.Incr(ctx, l.key(key), l.window)
	if err != nil {
		return Status{}, fmt.Errorf("counting request: %w", err)
	}
	if n <= int64(l.threshold) {
		return Status{Allowed: true}, nil
	}
	return l.throttled(ctx, key)
}

// Reset deletes the counter for key, typically on successful authentication.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if !l.enabled() {
		return nil
	}
	if err := l.cache.Delete(ctx, l.key(key)); err != nil {
		return fmt.Errorf("resetting counter: %w", err)
	}
	return nil
}

func (l *Limiter) throttled(ctx context.Context, key string) (Status, error) {
	retry, err := l.cache.TTL(ctx, l.key(key))
	if err != nil || retry <= 0 {
		// Counter vanished between read and TTL lookup; fall back to the
		// full window so the hint stays conservative.
		retry = l.window
	}
	return Status{Allowed: false, RetryAfter: retry}, nil
}
