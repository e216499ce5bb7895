package httpapi

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// principalKey is the gin context key under which requireAuth stores the
// authenticated principal's ID.
const principalKey = "principalID"

// requireAuth validates the Bearer access token and stores the principal ID
// for downstream handlers.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c.GetHeader("Authorization"))
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "could not validate credentials"})
			return
		}

		subject, err := s.sessions.Authenticate(c.Request.Context(), raw)
		if err != nil {
			s.renderError(c, err)
			c.Abort()
			return
		}

		c.Set(principalKey, subject)
		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// rateLimitByAddr meters requests per source address. An unreachable cache
// fails open here: profile reads are not worth a user-visible outage.
func (s *Server) rateLimitByAddr() gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := s.profileLimiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			s.logger.Warn(c.Request.Context(), "request limiter failed, allowing", "error", err)
			c.Next()
			return
		}
		if !st.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(st.RetryAfter.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

func (s *Server) cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", s.clientOrigin)
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
