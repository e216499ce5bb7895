// Package httpapi exposes the public REST surface. Handlers stay thin:
// request decoding, the error-to-status mapping, and nothing else; all
// decisions live in the services layer.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/achertok/contacthub/internal/logging"
	"github.com/achertok/contacthub/internal/server/models"
	"github.com/achertok/contacthub/internal/server/ratelimit"
	"github.com/achertok/contacthub/internal/server/services"
	"github.com/gin-gonic/gin"
)

// SessionManager is the authentication surface the handlers depend on;
// satisfied by *services.SessionService.
type SessionManager interface {
	Register(ctx context.Context, username, email, password string) (*models.User, error)
	Login(ctx context.Context, email, password, addr string) (*services.TokenPair, error)
	Refresh(ctx context.Context, rawRefreshToken string) (*services.TokenPair, error)
	Logout(ctx context.Context, rawRefreshToken string) error
	Authenticate(ctx context.Context, rawAccessToken string) (string, error)
	ResendVerification(ctx context.Context, email string) error
	ConfirmVerification(ctx context.Context, rawToken string) error
	ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error
}

// ProfileManager serves the principal-facing profile endpoints; satisfied by
// *services.UserService.
type ProfileManager interface {
	Me(ctx context.Context, userID string) (*services.Profile, error)
	UpdateAvatar(ctx context.Context, userID, filename, contentType string, data io.Reader) (*services.Profile, error)
}

// Pinger is the liveness probe for the credential store; satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Server struct {
	address        string
	clientOrigin   string
	sessions       SessionManager
	profiles       ProfileManager
	db             Pinger
	profileLimiter *ratelimit.Limiter
	logger         logging.Logger
}

func NewServer(
	address, clientOrigin string,
	sessions SessionManager,
	profiles ProfileManager,
	db Pinger,
	profileLimiter *ratelimit.Limiter,
	logger logging.Logger,
) *Server {
	return &Server{
		address:        address,
		clientOrigin:   clientOrigin,
		sessions:       sessions,
		profiles:       profiles,
		db:             db,
		profileLimiter: profileLimiter,
		logger:         logger.With("module", "http_server"),
	}
}

// Router assembles the gin engine. Exposed for handler tests.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.cors())

	api := r.Group("/api")
	api.GET("/healthchecker", s.healthcheck)

	authGroup := api.Group("/auth")
	authGroup.POST("/register", s.register)
	authGroup.POST("/login", s.login)
	authGroup.POST("/refresh", s.refresh)
	authGroup.POST("/logout", s.logout)
	authGroup.POST("/request_email", s.requestEmail)
	authGroup.GET("/confirmed_email/:token", s.confirmEmail)
	authGroup.POST("/password", s.requireAuth(), s.changePassword)

	usersGroup := api.Group("/users", s.requireAuth())
	usersGroup.GET("/me", s.rateLimitByAddr(), s.me)
	usersGroup.PATCH("/avatar", s.updateAvatar)

	return r
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
