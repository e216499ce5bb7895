// Package revocation marks token nonces (or whole subject/purpose families)
// as invalid before their natural expiry. Entries live in the shared cache
// with a TTL equal to the remaining validity of the token they invalidate,
// so no explicit cleanup is needed.
package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/achertok/contacthub/internal/common"
	"github.com/achertok/contacthub/internal/server/auth"
	"github.com/achertok/contacthub/internal/server/cache"
)

const (
	noncePrefix   = "revoked:nonce:"
	subjectPrefix = "revoked:subject:"
)

// Store records and answers revocation facts.
type Store struct {
	cache cache.Cache
	now   func() time.Time
}

func NewStore(c cache.Cache) *Store {
	return &Store{cache: c, now: time.Now}
}

// RevokeNonce invalidates a single token by its nonce. ttl should be the
// token's remaining validity; non-positive ttl means the token already
// expired and nothing needs recording. Revoking an already-revoked nonce
// just refreshes the entry, so the operation is idempotent.
func (s *Store) RevokeNonce(ctx context.Context, nonce string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := s.cache.Set(ctx, noncePrefix+nonce, s.now().UTC().Format(time.RFC3339Nano), ttl); err != nil {
		return fmt.Errorf("revoking nonce: %w", err)
	}
	return nil
}

// RevokeSubject invalidates every outstanding token of the given purpose for
// subject that was issued before now. Used for bulk revocation on password
// change.
func (s *Store) RevokeSubject(ctx context.Context, subject string, purpose auth.Purpose, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	key := subjectKey(subject, purpose)
	if err := s.cache.Set(ctx, key, s.now().UTC().Format(time.RFC3339Nano), ttl); err != nil {
		return fmt.Errorf("revoking subject tokens: %w", err)
	}
	return nil
}

// IsRevoked reports whether the token identified by (subject, purpose, nonce,
// issuedAt) has been revoked, either individually or by a bulk entry created
// after it was issued.
func (s *Store) IsRevoked(ctx context.Context, subject string, purpose auth.Purpose, nonce string, issuedAt time.Time) (bool, error) {
	if _, err := s.cache.Get(ctx, noncePrefix+nonce); err == nil {
		return true, nil
	} else if !errors.Is(err, common.ErrorNotFound) {
		return false, fmt.Errorf("checking nonce revocation: %w", err)
	}

	val, err := s.cache.Get(ctx, subjectKey(subject, purpose))
	if errors.Is(err, common.ErrorNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking subject revocation: %w", err)
	}

	revokedAt, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		// Unreadable entry: treat as revoked, the safe direction.
		return true, nil
	}
	return !issuedAt.After(revokedAt), nil
}

func subjectKey(subject string, purpose auth.Purpose) string {
	return subjectPrefix + subject + ":" + string(purpose)
}
