// Package config handles configuration for the server,
// including defaults, environment overlay, and startup validation.
package config

import (
	"fmt"
	"time"

	"github.com/achertok/contacthub/internal/common"
)

// Config holds runtime settings for the contacthub server.
//
// Fields:
//   - EndpointAddr: bind address for the public HTTP endpoint.
//   - DatabaseDSN: PostgreSQL DSN (pgx).
//   - RedisAddr / RedisPassword: cache backend (revocation, rate limits, profiles).
//   - SecretKey: HMAC secret for signing JWTs. Do not use test defaults in prod.
//   - SigningAlgorithm: one of HS256, HS384, HS512; fixed for the process lifetime.
//   - AccessTokenValidityDuration / RefreshTokenValidityDuration /
//     VerifyTokenValidityDuration: per-purpose token lifetimes.
//   - RefreshRotation: rotate refresh tokens on each use (hardening option).
//   - AccountFailureThreshold / AccountFailureWindow: failed-login limiter per email.
//   - AddrFailureThreshold / AddrFailureWindow: failed-login limiter per source address.
//   - ProfileRateLimit / ProfileRateWindow: request cap on GET /api/users/me.
//   - CallTimeout: per-call bound for cache and store round trips.
//   - ProfileCacheTTL: TTL of the cached user profile JSON.
//   - SMTPHost/SMTPPort/SMTPUsername/SMTPPassword/MailFrom: verification mail.
//   - PublicBaseURL: external URL used to build verification links.
//   - ClientOrigin: browser origin allowed by CORS.
//   - S3RootUser / S3RootPassword / S3Bucket / S3Region / S3BaseEndpoint:
//     object storage settings for avatars.
type Config struct {
	EndpointAddr  string
	DatabaseDSN   string
	RedisAddr     string
	RedisPassword string

	SecretKey                    string
	SigningAlgorithm             string
	AccessTokenValidityDuration  time.Duration
	RefreshTokenValidityDuration time.Duration
	VerifyTokenValidityDuration  time.Duration
	RefreshRotation              bool

	AccountFailureThreshold int
	AccountFailureWindow    time.Duration
	AddrFailureThreshold    int
	AddrFailureWindow       time.Duration
	ProfileRateLimit        int
	ProfileRateWindow       time.Duration

	CallTimeout     time.Duration
	ProfileCacheTTL time.Duration

	SMTPHost      string
	SMTPPort      int
	SMTPUsername  string
	SMTPPassword  string
	MailFrom      string
	PublicBaseURL string
	ClientOrigin  string

	S3RootUser     string
	S3RootPassword string
	S3Bucket       string
	S3Region       string
	S3BaseEndpoint string
}

// LoadDefaults populates Config with sensible development defaults.
// Secrets and connection strings have no defaults and must come from
// the environment.
func (c *Config) LoadDefaults() {
	c.EndpointAddr = ":8080"
	c.SigningAlgorithm = "HS256"
	c.AccessTokenValidityDuration = 15 * time.Minute
	c.RefreshTokenValidityDuration = 7 * 24 * time.Hour
	c.VerifyTokenValidityDuration = 7 * 24 * time.Hour
	c.RefreshRotation = false
	c.AccountFailureThreshold = 5
	c.AccountFailureWindow = 15 * time.Minute
	c.AddrFailureThreshold = 5
	c.AddrFailureWindow = 15 * time.Minute
	c.ProfileRateLimit = 3
	c.ProfileRateWindow = time.Minute
	c.CallTimeout = 2 * time.Second
	c.ProfileCacheTTL = time.Hour
	c.SMTPPort = 587
	c.MailFrom = "no-reply@contacthub.local"
	c.PublicBaseURL = "http://localhost:8080"
	c.ClientOrigin = "http://localhost:3000"
	c.S3Bucket = "avatars"
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = "http://127.0.0.1:9000/"
}

// Validate checks that required settings are present and coherent.
// A failure here is fatal at startup; it is never a per-request error.
func (c *Config) Validate() error {
	if c.SecretKey == "" {
		return fmt.Errorf("%w: JWT_SECRET is required", common.ErrConfig)
	}
	if c.DatabaseDSN == "" {
		return fmt.Errorf("%w: DATABASE_DSN is required", common.ErrConfig)
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("%w: REDIS_ADDR is required", common.ErrConfig)
	}
	switch c.SigningAlgorithm {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("%w: unsupported signing algorithm %q", common.ErrConfig, c.SigningAlgorithm)
	}
	if c.AccessTokenValidityDuration <= 0 || c.RefreshTokenValidityDuration <= 0 || c.VerifyTokenValidityDuration <= 0 {
		return fmt.Errorf("%w: token lifetimes must be positive", common.ErrConfig)
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("%w: call timeout must be positive", common.ErrConfig)
	}
	return nil
}

// LoadConfig builds a Config by applying defaults and then overlaying
// values from the environment. The result is validated.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
