package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/achertok/contacthub/internal/common"
	"github.com/gin-gonic/gin"
)

// maxAvatarBytes caps avatar uploads; anything larger is rejected before it
// reaches object storage.
const maxAvatarBytes = 5 << 20

type registerRequest struct {
	Username string `json:"username" binding:"required,min=3"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type requestEmailRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required,min=8"`
}

type tokenPairResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
}

func (s *Server) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	user, err := s.sessions.Register(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":       user.ID,
		"username": user.Username,
		"email":    user.Email,
	})
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	pair, err := s.sessions.Login(c.Request.Context(), req.Email, req.Password, c.ClientIP())
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, tokenPairResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "bearer",
	})
}

func (s *Server) refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	pair, err := s.sessions.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, tokenPairResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "bearer",
	})
}

func (s *Server) logout(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := s.sessions.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "logged out"})
}

func (s *Server) requestEmail(c *gin.Context) {
	var req requestEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := s.sessions.ResendVerification(c.Request.Context(), req.Email); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "verification email queued"})
}

func (s *Server) confirmEmail(c *gin.Context) {
	if err := s.sessions.ConfirmVerification(c.Request.Context(), c.Param("token")); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "email verified"})
}

func (s *Server) changePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	err := s.sessions.ChangePassword(c.Request.Context(), c.GetString(principalKey), req.CurrentPassword, req.NewPassword)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "password changed"})
}

func (s *Server) me(c *gin.Context) {
	profile, err := s.profiles.Me(c.Request.Context(), c.GetString(principalKey))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (s *Server) updateAvatar(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxAvatarBytes)

	file, err := c.FormFile("avatar")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "avatar file is required"})
		return
	}
	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable avatar file"})
		return
	}
	defer src.Close()

	contentType := file.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	profile, err := s.profiles.UpdateAvatar(c.Request.Context(), c.GetString(principalKey), file.Filename, contentType, src)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (s *Server) healthcheck(c *gin.Context) {
	if err := s.db.PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// renderError maps service errors onto the wire. Every token problem comes
// back as the same 401 so callers cannot probe which check failed.
func (s *Server) renderError(c *gin.Context, err error) {
	var throttled *common.ThrottledError
	switch {
	case errors.As(err, &throttled):
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(throttled.RetryAfter.Seconds()))))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many attempts"})
	case errors.Is(err, common.ErrNotConfirmed):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "please verify your email address"})
	case errors.Is(err, common.ErrInvalidCredentials),
		errors.Is(err, common.ErrMalformedToken),
		errors.Is(err, common.ErrSignatureInvalid),
		errors.Is(err, common.ErrTokenExpired),
		errors.Is(err, common.ErrTokenRevoked),
		errors.Is(err, common.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "could not validate credentials"})
	case errors.Is(err, common.ErrorAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": "account already exists"})
	case errors.Is(err, common.ErrorNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, common.ErrStoreUnavailable), errors.Is(err, common.ErrCacheUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service temporarily unavailable"})
	default:
		s.logger.Error(c.Request.Context(), "unhandled error", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
