// Package common contains shared constants and sentinel errors used across
// the service layers. Callers should use errors.Is to match these values.
package common

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal = errors.New("internal error")

	// Credential errors. ErrInvalidCredentials covers both unknown principal
	// and password mismatch so the two are indistinguishable to callers.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotConfirmed       = errors.New("email not confirmed")

	// Token lifecycle errors.
	ErrMalformedToken   = errors.New("malformed token")
	ErrSignatureInvalid = errors.New("token signature invalid")
	ErrTokenExpired     = errors.New("token expired")
	ErrTokenRevoked     = errors.New("token revoked")
	ErrInvalidToken     = errors.New("invalid token")

	// Abuse gating.
	ErrThrottled = errors.New("too many attempts")

	// Dependency availability. Store errors never fail open; cache errors
	// fail open for rate limiting and closed for revocation.
	ErrStoreUnavailable = errors.New("credential store unavailable")
	ErrCacheUnavailable = errors.New("cache unavailable")

	// Startup-time misconfiguration. Fatal, never returned per-request.
	ErrConfig = errors.New("configuration error")
)

// ThrottledError carries the retry hint for a throttled attempt.
// errors.Is(err, ErrThrottled) matches it.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("too many attempts, retry after %s", e.RetryAfter)
}

func (e *ThrottledError) Is(target error) bool {
	return target == ErrThrottled
}
