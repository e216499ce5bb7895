package config

import (
	"os"
	"strconv"
	"time"
)

// parseEnv overlays Config fields from environment variables.
// Durations are accepted as integer seconds, matching the deployment surface.
func parseEnv(cfg *Config) {
	setString(&cfg.EndpointAddr, "RUN_ADDRESS")
	setString(&cfg.DatabaseDSN, "DATABASE_DSN")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")

	setString(&cfg.SecretKey, "JWT_SECRET")
	setString(&cfg.SigningAlgorithm, "JWT_ALGORITHM")
	setSeconds(&cfg.AccessTokenValidityDuration, "ACCESS_TOKEN_TTL")
	setSeconds(&cfg.RefreshTokenValidityDuration, "REFRESH_TOKEN_TTL")
	setSeconds(&cfg.VerifyTokenValidityDuration, "VERIFY_TOKEN_TTL")
	setBool(&cfg.RefreshRotation, "AUTH_REFRESH_ROTATION")

	setInt(&cfg.AccountFailureThreshold, "LOGIN_FAILURE_THRESHOLD")
	setSeconds(&cfg.AccountFailureWindow, "LOGIN_FAILURE_WINDOW")
	setInt(&cfg.AddrFailureThreshold, "ADDR_FAILURE_THRESHOLD")
	setSeconds(&cfg.AddrFailureWindow, "ADDR_FAILURE_WINDOW")
	setInt(&cfg.ProfileRateLimit, "PROFILE_RATE_LIMIT")
	setSeconds(&cfg.ProfileRateWindow, "PROFILE_RATE_WINDOW")

	setSeconds(&cfg.CallTimeout, "CALL_TIMEOUT")
	setSeconds(&cfg.ProfileCacheTTL, "PROFILE_CACHE_TTL")

	setString(&cfg.SMTPHost, "SMTP_HOST")
	setInt(&cfg.SMTPPort, "SMTP_PORT")
	setString(&cfg.SMTPUsername, "SMTP_USERNAME")
	setString(&cfg.SMTPPassword, "SMTP_PASSWORD")
	setString(&cfg.MailFrom, "MAIL_FROM")
	setString(&cfg.PublicBaseURL, "PUBLIC_BASE_URL")
	setString(&cfg.ClientOrigin, "CLIENT_ORIGIN")

	setString(&cfg.S3RootUser, "S3_ROOT_USER")
	setString(&cfg.S3RootPassword, "S3_ROOT_PASSWORD")
	setString(&cfg.S3Bucket, "S3_BUCKET")
	setString(&cfg.S3Region, "S3_REGION")
	setString(&cfg.S3BaseEndpoint, "S3_BASE_ENDPOINT")
}

func setString(dst *string, name string) {
	if v, ok := os.LookupEnv(name); ok {
		*dst = v
	}
}

func setInt(dst *int, name string) {
	if v, ok := os.LookupEnv(name); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, name string) {
	if v, ok := os.LookupEnv(name); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setSeconds(dst *time.Duration, name string) {
	if v, ok := os.LookupEnv(name); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Second
		}
	}
}
