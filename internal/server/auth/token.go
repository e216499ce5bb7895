// Package auth implements the token codec: creation and verification of
// signed, time-bounded tokens carrying a subject and a purpose. The codec is
// stateless; revocation is the caller's concern.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/achertok/contacthub/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Purpose constrains which operations accept a token.
type Purpose string

const (
	PurposeAccess      Purpose = "access"
	PurposeRefresh     Purpose = "refresh"
	PurposeEmailVerify Purpose = "email_verify"
)

// Leeway tolerated on expiry comparison to absorb clock skew between hosts.
const expiryLeeway = 5 * time.Second

// Claims is the set of assertions carried by every token: the registered
// claims (sub, jti, iat, exp) plus the purpose.
type Claims struct {
	jwt.RegisteredClaims
	Purpose Purpose `json:"purpose"`
}

// Nonce returns the token's unique identifier, used as the revocation key.
func (c *Claims) Nonce() string { return c.ID }

// Codec signs and verifies tokens with a single process-wide secret and a
// fixed algorithm selected at startup. There is no per-token algorithm
// negotiation: tokens signed with any other method fail verification.
type Codec struct {
	secret    []byte
	method    jwt.SigningMethod
	lifetimes map[Purpose]time.Duration
	now       func() time.Time
}

// NewCodec constructs a Codec. algorithm must be one of HS256, HS384, HS512;
// anything else is a configuration error. lifetimes maps each purpose to its
// validity duration.
func NewCodec(secret []byte, algorithm string, lifetimes map[Purpose]time.Duration) (*Codec, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: empty signing secret", common.ErrConfig)
	}
	switch algorithm {
	case "HS256", "HS384", "HS512":
	default:
		return nil, fmt.Errorf("%w: unsupported signing algorithm %q", common.ErrConfig, algorithm)
	}
	return &Codec{
		secret:    secret,
		method:    jwt.GetSigningMethod(algorithm),
		lifetimes: lifetimes,
		now:       time.Now,
	}, nil
}

// Lifetime returns the configured validity duration for the purpose,
// or zero if none is configured.
func (c *Codec) Lifetime(p Purpose) time.Duration { return c.lifetimes[p] }

// Issue produces a signed token for the subject whose expiry is
// now + lifetime[purpose]. The returned claims include the generated nonce.
func (c *Codec) Issue(subject string, purpose Purpose) (string, *Claims, error) {
	lifetime, ok := c.lifetimes[purpose]
	if !ok || lifetime <= 0 {
		return "", nil, fmt.Errorf("%w: no lifetime configured for purpose %q", common.ErrConfig, purpose)
	}

	nonce, err := common.MakeRandHexString(16)
	if err != nil {
		return "", nil, fmt.Errorf("generating nonce: %w", err)
	}

	now := c.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        nonce,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
		},
		Purpose: purpose,
	}

	raw, err := jwt.NewWithClaims(c.method, claims).SignedString(c.secret)
	if err != nil {
		return "", nil, fmt.Errorf("signing token: %w", err)
	}
	return raw, claims, nil
}

// Verify parses raw and checks its signature and expiry. It has no side
// effects and does not consult revocation state.
//
// Errors: common.ErrMalformedToken if the encoding cannot be parsed,
// common.ErrSignatureInvalid on a signature mismatch, common.ErrTokenExpired
// past expiry (with leeway).
func (c *Codec) Verify(raw string) (*Claims, error) {
	claims := &Claims{}

	_, err := jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (interface{}, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithLeeway(expiryLeeway),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, common.ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, common.ErrSignatureInvalid
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, common.ErrMalformedToken
		default:
			return nil, fmt.Errorf("%w: %s", common.ErrMalformedToken, err)
		}
	}

	if claims.Subject == "" || claims.ID == "" || claims.Purpose == "" {
		return nil, common.ErrMalformedToken
	}
	return claims, nil
}
