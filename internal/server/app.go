// Package server initializes and runs the contacthub server: it wires the
// credential store, the Redis cache, the token codec, the limiters and the
// HTTP endpoint, and handles graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/achertok/contacthub/internal/logging"
	"github.com/achertok/contacthub/internal/server/auth"
	"github.com/achertok/contacthub/internal/server/cache"
	"github.com/achertok/contacthub/internal/server/config"
	"github.com/achertok/contacthub/internal/server/httpapi"
	"github.com/achertok/contacthub/internal/server/mail"
	"github.com/achertok/contacthub/internal/server/ratelimit"
	"github.com/achertok/contacthub/internal/server/repositories/users"
	"github.com/achertok/contacthub/internal/server/revocation"
	"github.com/achertok/contacthub/internal/server/services"
	"github.com/achertok/contacthub/internal/server/storage"
)

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	redis  *cache.Redis
	server *httpapi.Server
}

func NewApp(cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	db, err := storage.Open(cfg.DatabaseDSN, cfg.CallTimeout)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	redis, err := cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.CallTimeout)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("cache init error: %w", err)
	}

	codec, err := auth.NewCodec([]byte(cfg.SecretKey), cfg.SigningAlgorithm, map[auth.Purpose]time.Duration{
		auth.PurposeAccess:      cfg.AccessTokenValidityDuration,
		auth.PurposeRefresh:     cfg.RefreshTokenValidityDuration,
		auth.PurposeEmailVerify: cfg.VerifyTokenValidityDuration,
	})
	if err != nil {
		db.Close()
		redis.Close()
		return nil, err
	}

	var mailer mail.Mailer = mail.Noop{}
	if cfg.SMTPHost != "" {
		mailer = mail.NewSMTPMailer(
			cfg.SMTPHost, cfg.SMTPPort,
			cfg.SMTPUsername, cfg.SMTPPassword,
			cfg.MailFrom, cfg.PublicBaseURL,
			cfg.CallTimeout,
		)
	} else {
		logger.Warn(context.Background(), "SMTP not configured, verification mail is discarded")
	}

	repo := users.NewPostgresRepository(db)

	sessions := services.NewSessionService(
		repo,
		codec,
		ratelimit.New(redis, "fail:email", cfg.AccountFailureThreshold, cfg.AccountFailureWindow),
		ratelimit.New(redis, "fail:addr", cfg.AddrFailureThreshold, cfg.AddrFailureWindow),
		revocation.NewStore(redis),
		redis,
		mailer,
		logger,
		cfg.RefreshRotation,
	)

	avatars := storage.NewObjectStore(cfg.S3RootUser, cfg.S3RootPassword, cfg.S3Bucket, cfg.S3Region, cfg.S3BaseEndpoint)
	profiles := services.NewUserService(repo, redis, avatars, logger, cfg.ProfileCacheTTL)

	srv := httpapi.NewServer(
		cfg.EndpointAddr, cfg.ClientOrigin,
		sessions,
		profiles,
		db,
		ratelimit.New(redis, "req:profile", cfg.ProfileRateLimit, cfg.ProfileRateWindow),
		logger,
	)

	return &App{config: cfg, logger: logger, db: db, redis: redis, server: srv}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	if err := storage.RunMigrations(ctx, app.db); err != nil {
		return err
	}

	err := app.server.Run(ctx)

	if cerr := app.redis.Close(); cerr != nil {
		app.logger.Error(ctx, "closing cache", "error", cerr)
	}
	if cerr := app.db.Close(); cerr != nil {
		app.logger.Error(ctx, "closing database", "error", cerr)
	}
	return err
}
