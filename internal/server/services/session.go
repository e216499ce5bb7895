// Package services contains server-side business logic. This file implements
// SessionService, the session manager: login, token refresh, logout and
// revocation, registration, and the email-verification flow.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/achertok/contacthub/internal/common"
	"github.com/achertok/contacthub/internal/logging"
	"github.com/achertok/contacthub/internal/server/auth"
	"github.com/achertok/contacthub/internal/server/cache"
	"github.com/achertok/contacthub/internal/server/mail"
	"github.com/achertok/contacthub/internal/server/models"
	"github.com/achertok/contacthub/internal/server/ratelimit"
	"github.com/achertok/contacthub/internal/server/repositories/users"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// TokenPair bundles a short-lived access token and a long-lived refresh
// token. RefreshToken is empty when refresh rotation is disabled and the
// caller should keep using the token it already holds.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

const verifyStagingPrefix = "verify:current:"

func verifyStagingKey(userID string) string { return verifyStagingPrefix + userID }

func profileCacheKey(userID string) string { return "profile:user:" + userID }

// NormalizeEmail lowers and trims an email address so lookups and limiter
// keys are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SessionService orchestrates authentication. It composes the credential
// store, the token codec, the two failed-login limiters (per account and per
// source address), the revocation store, and the mail collaborator. All
// shared mutable state lives in the cache; the service itself is safe for
// concurrent use.
type SessionService struct {
	users          users.Repository
	codec          *auth.Codec
	accountLimiter *ratelimit.Limiter
	addrLimiter    *ratelimit.Limiter
	revocations    revocationStore
	cache          cache.Cache
	mailer         mail.Mailer
	logger         logging.Logger
	rotateRefresh  bool
	now            func() time.Time
}

// revocationStore is the subset of the revocation API the session manager
// needs; satisfied by *revocation.Store.
type revocationStore interface {
	RevokeNonce(ctx context.Context, nonce string, ttl time.Duration) error
	RevokeSubject(ctx context.Context, subject string, purpose auth.Purpose, ttl time.Duration) error
	IsRevoked(ctx context.Context, subject string, purpose auth.Purpose, nonce string, issuedAt time.Time) (bool, error)
}

// NewSessionService constructs a SessionService.
func NewSessionService(
	repo users.Repository,
	codec *auth.Codec,
	accountLimiter, addrLimiter *ratelimit.Limiter,
	revocations revocationStore,
	c cache.Cache,
	mailer mail.Mailer,
	logger logging.Logger,
	rotateRefresh bool,
) *SessionService {
	return &SessionService{
		users:          repo,
		codec:          codec,
		accountLimiter: accountLimiter,
		addrLimiter:    addrLimiter,
		revocations:    revocations,
		cache:          c,
		mailer:         mailer,
		logger:         logger.With("module", "session"),
		rotateRefresh:  rotateRefresh,
		now:            time.Now,
	}
}

// Register creates a new principal with a bcrypt-hashed password and kicks
// off verification-mail delivery in the background.
func (s *SessionService) Register(ctx context.Context, username, email, password string) (*models.User, error) {
	email = NormalizeEmail(email)

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, common.ErrorAlreadyExists
	} else if !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}
	if _, err := s.users.GetByUsername(ctx, username); err == nil {
		return nil, common.ErrorAlreadyExists
	} else if !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user, err := s.users.Create(ctx, &models.User{
		ID:             uuid.NewString(),
		Username:       username,
		Email:          email,
		HashedPassword: string(hash),
	})
	if err != nil {
		return nil, err
	}

	// Mail delivery must not block or fail the registration response.
	go func() {
		bg, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.SendVerification(bg, user.ID); err != nil {
			s.logger.Error(bg, "post-registration verification failed", "user_id", user.ID, "error", err)
		}
	}()

	return user, nil
}

// Login authenticates the principal behind email/password and returns a
// fresh token pair. addr is the caller's source address; it feeds the
// per-address limiter and may be empty.
//
// The limiters are consulted before the credential store so a throttled
// caller learns nothing about whether the account exists.
func (s *SessionService) Login(ctx context.Context, email, password, addr string) (*TokenPair, error) {
	email = NormalizeEmail(email)

	if err := s.checkThrottle(ctx, s.accountLimiter, email); err != nil {
		return nil, err
	}
	if err := s.checkThrottle(ctx, s.addrLimiter, addr); err != nil {
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.recordFailure(ctx, email, addr)
			return nil, common.ErrInvalidCredentials
		}
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(password)) != nil {
		s.recordFailure(ctx, email, addr)
		return nil, common.ErrInvalidCredentials
	}
	if !user.Confirmed {
		return nil, common.ErrNotConfirmed
	}

	s.resetLimiter(ctx, s.accountLimiter, email)
	s.resetLimiter(ctx, s.addrLimiter, addr)

	return s.issuePair(user.ID)
}

// Refresh exchanges a valid, non-revoked refresh token for a new access
// token. With rotation enabled the presented token is revoked and a
// replacement refresh token is returned as well.
func (s *SessionService) Refresh(ctx context.Context, rawRefreshToken string) (*TokenPair, error) {
	claims, err := s.codec.Verify(rawRefreshToken)
	if err != nil {
		return nil, err
	}
	if claims.Purpose != auth.PurposeRefresh {
		return nil, common.ErrInvalidToken
	}
	if err := s.requireNotRevoked(ctx, claims); err != nil {
		return nil, err
	}

	access, _, err := s.codec.Issue(claims.Subject, auth.PurposeAccess)
	if err != nil {
		return nil, err
	}
	pair := &TokenPair{AccessToken: access}

	if s.rotateRefresh {
		if err := s.revocations.RevokeNonce(ctx, claims.Nonce(), s.remaining(claims)); err != nil {
			return nil, s.cacheDown(ctx, "rotating refresh token", err)
		}
		refresh, _, err := s.codec.Issue(claims.Subject, auth.PurposeRefresh)
		if err != nil {
			return nil, err
		}
		pair.RefreshToken = refresh
	}

	return pair, nil
}

// Logout revokes the presented refresh token for the rest of its lifetime.
// Logging out an expired or already-revoked token is a no-op success.
func (s *SessionService) Logout(ctx context.Context, rawRefreshToken string) error {
	claims, err := s.codec.Verify(rawRefreshToken)
	if err != nil {
		if errors.Is(err, common.ErrTokenExpired) {
			return nil
		}
		return err
	}
	if claims.Purpose != auth.PurposeRefresh {
		return common.ErrInvalidToken
	}
	if err := s.revocations.RevokeNonce(ctx, claims.Nonce(), s.remaining(claims)); err != nil {
		// Logout durability is the security invariant here: never pretend
		// success when the revocation could not be recorded.
		return s.cacheDown(ctx, "recording logout", err)
	}
	return nil
}

// Authenticate validates an access token (signature/expiry, purpose,
// revocation, in that order) and returns the principal ID it names.
func (s *SessionService) Authenticate(ctx context.Context, rawAccessToken string) (string, error) {
	claims, err := s.codec.Verify(rawAccessToken)
	if err != nil {
		return "", err
	}
	if claims.Purpose != auth.PurposeAccess {
		return "", common.ErrInvalidToken
	}
	if err := s.requireNotRevoked(ctx, claims); err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// SendVerification issues an email_verify token for the principal, supersedes
// any previously outstanding verification token, and hands the raw token to
// the mail collaborator. Delivery failure does not roll the token back.
func (s *SessionService) SendVerification(ctx context.Context, userID string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.Confirmed {
		return nil
	}

	raw, claims, err := s.codec.Issue(user.ID, auth.PurposeEmailVerify)
	if err != nil {
		return err
	}

	lifetime := s.codec.Lifetime(auth.PurposeEmailVerify)

	// At most one live verification token per principal: revoke the previous
	// one before staging the new nonce.
	prev, err := s.cache.Get(ctx, verifyStagingKey(user.ID))
	switch {
	case err == nil:
		if err := s.revocations.RevokeNonce(ctx, prev, lifetime); err != nil {
			return s.cacheDown(ctx, "superseding verification token", err)
		}
	case !errors.Is(err, common.ErrorNotFound):
		return s.cacheDown(ctx, "reading verification staging", err)
	}
	if err := s.cache.Set(ctx, verifyStagingKey(user.ID), claims.Nonce(), lifetime); err != nil {
		return s.cacheDown(ctx, "staging verification token", err)
	}

	if err := s.mailer.SendVerificationEmail(ctx, user.Email, user.Username, raw); err != nil {
		s.logger.Error(ctx, "verification mail delivery failed", "user_id", user.ID, "error", err)
	}
	return nil
}

// ResendVerification looks the principal up by email and re-sends the
// verification mail. An unknown address is reported as success so the endpoint
// cannot be used to enumerate accounts.
func (s *SessionService) ResendVerification(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil
		}
		return err
	}
	return s.SendVerification(ctx, user.ID)
}

// ConfirmVerification consumes an email_verify token: it marks the principal
// confirmed and revokes the token's nonce so it cannot be replayed.
func (s *SessionService) ConfirmVerification(ctx context.Context, rawToken string) error {
	claims, err := s.codec.Verify(rawToken)
	if err != nil {
		return err
	}
	if claims.Purpose != auth.PurposeEmailVerify {
		return common.ErrInvalidToken
	}
	if err := s.requireNotRevoked(ctx, claims); err != nil {
		return err
	}

	if err := s.users.SetConfirmed(ctx, claims.Subject); err != nil {
		return err
	}
	if err := s.revocations.RevokeNonce(ctx, claims.Nonce(), s.remaining(claims)); err != nil {
		return s.cacheDown(ctx, "consuming verification token", err)
	}

	// Best effort: drop staging and any stale cached profile.
	if err := s.cache.Delete(ctx, verifyStagingKey(claims.Subject)); err != nil {
		s.logger.Warn(ctx, "clearing verification staging failed", "error", err)
	}
	if err := s.cache.Delete(ctx, profileCacheKey(claims.Subject)); err != nil {
		s.logger.Warn(ctx, "invalidating profile cache failed", "error", err)
	}
	return nil
}

// ChangePassword replaces the principal's password hash and bulk-revokes all
// outstanding access and refresh tokens issued before the change.
func (s *SessionService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(currentPassword)) != nil {
		return common.ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, userID, string(hash)); err != nil {
		return err
	}

	for _, p := range []auth.Purpose{auth.PurposeAccess, auth.PurposeRefresh} {
		if err := s.revocations.RevokeSubject(ctx, userID, p, s.codec.Lifetime(p)); err != nil {
			return s.cacheDown(ctx, "revoking sessions after password change", err)
		}
	}
	return nil
}

// --- helpers below ---

func (s *SessionService) issuePair(userID string) (*TokenPair, error) {
	access, _, err := s.codec.Issue(userID, auth.PurposeAccess)
	if err != nil {
		return nil, err
	}
	refresh, _, err := s.codec.Issue(userID, auth.PurposeRefresh)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// checkThrottle consults a limiter and fails fast with ThrottledError. An
// unreachable cache fails open: the attempt is allowed but logged.
func (s *SessionService) checkThrottle(ctx context.Context, l *ratelimit.Limiter, key string) error {
	if key == "" {
		return nil
	}
	st, err := l.Check(ctx, key)
	if err != nil {
		s.logger.Warn(ctx, "rate limit check failed, allowing attempt", "error", err)
		return nil
	}
	if !st.Allowed {
		return &common.ThrottledError{RetryAfter: st.RetryAfter}
	}
	return nil
}

func (s *SessionService) recordFailure(ctx context.Context, email, addr string) {
	if _, err := s.accountLimiter.RecordFailure(ctx, email); err != nil {
		s.logger.Warn(ctx, "recording login failure", "error", err)
	}
	if addr != "" {
		if _, err := s.addrLimiter.RecordFailure(ctx, addr); err != nil {
			s.logger.Warn(ctx, "recording login failure", "error", err)
		}
	}
}

func (s *SessionService) resetLimiter(ctx context.Context, l *ratelimit.Limiter, key string) {
	if key == "" {
		return
	}
	if err := l.Reset(ctx, key); err != nil {
		s.logger.Warn(ctx, "resetting limiter", "error", err)
	}
}

// requireNotRevoked checks the revocation store, failing closed when the
// cache cannot answer.
func (s *SessionService) requireNotRevoked(ctx context.Context, claims *auth.Claims) error {
	revoked, err := s.revocations.IsRevoked(ctx, claims.Subject, claims.Purpose, claims.Nonce(), claims.IssuedAt.Time)
	if err != nil {
		return s.cacheDown(ctx, "checking revocation", err)
	}
	if revoked {
		return common.ErrTokenRevoked
	}
	return nil
}

func (s *SessionService) cacheDown(ctx context.Context, op string, err error) error {
	s.logger.Error(ctx, "cache unavailable", "op", op, "error", err)
	return fmt.Errorf("%s: %w", op, common.ErrCacheUnavailable)
}

// remaining is the revocation-entry TTL for a token: its time left to live
// plus a pad covering verification leeway, so the entry never expires before
// the token itself stops verifying.
func (s *SessionService) remaining(claims *auth.Claims) time.Duration {
	return claims.ExpiresAt.Sub(s.now()) + time.Minute
}
