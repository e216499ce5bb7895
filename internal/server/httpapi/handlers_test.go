package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/achertok/contacthub/internal/common"
	"github.com/achertok/contacthub/internal/logging"
	"github.com/achertok/contacthub/internal/server/cache"
	"github.com/achertok/contacthub/internal/server/models"
	"github.com/achertok/contacthub/internal/server/ratelimit"
	"github.com/achertok/contacthub/internal/server/services"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// --- fakes ---

type fakeSessions struct {
	register            func(ctx context.Context, username, email, password string) (*models.User, error)
	login               func(ctx context.Context, email, password, addr string) (*services.TokenPair, error)
	refresh             func(ctx context.Context, raw string) (*services.TokenPair, error)
	logout              func(ctx context.Context, raw string) error
	authenticate        func(ctx context.Context, raw string) (string, error)
	resendVerification  func(ctx context.Context, email string) error
	confirmVerification func(ctx context.Context, raw string) error
	changePassword      func(ctx context.Context, userID, current, next string) error
}

func (f *fakeSessions) Register(ctx context.Context, username, email, password string) (*models.User, error) {
	return f.register(ctx, username, email, password)
}
func (f *fakeSessions) Login(ctx context.Context, email, password, addr string) (*services.TokenPair, error) {
	return f.login(ctx, email, password, addr)
}
func (f *fakeSessions) Refresh(ctx context.Context, raw string) (*services.TokenPair, error) {
	return f.refresh(ctx, raw)
}
func (f *fakeSessions) Logout(ctx context.Context, raw string) error { return f.logout(ctx, raw) }
func (f *fakeSessions) Authenticate(ctx context.Context, raw string) (string, error) {
	return f.authenticate(ctx, raw)
}
func (f *fakeSessions) ResendVerification(ctx context.Context, email string) error {
	return f.resendVerification(ctx, email)
}
func (f *fakeSessions) ConfirmVerification(ctx context.Context, raw string) error {
	return f.confirmVerification(ctx, raw)
}
func (f *fakeSessions) ChangePassword(ctx context.Context, userID, current, next string) error {
	return f.changePassword(ctx, userID, current, next)
}

type fakeProfiles struct {
	me           func(ctx context.Context, userID string) (*services.Profile, error)
	updateAvatar func(ctx context.Context, userID, filename, contentType string, data io.Reader) (*services.Profile, error)
}

func (f *fakeProfiles) Me(ctx context.Context, userID string) (*services.Profile, error) {
	return f.me(ctx, userID)
}
func (f *fakeProfiles) UpdateAvatar(ctx context.Context, userID, filename, contentType string, data io.Reader) (*services.Profile, error) {
	return f.updateAvatar(ctx, userID, filename, contentType, data)
}

type fakePinger struct{ err error }

func (f fakePinger) PingContext(context.Context) error { return f.err }

// validAuth is an Authenticate stub accepting exactly one token.
func validAuth(token, subject string) func(context.Context, string) (string, error) {
	return func(_ context.Context, raw string) (string, error) {
		if raw == token {
			return subject, nil
		}
		return "", common.ErrInvalidToken
	}
}

func newTestRouter(t *testing.T, sessions *fakeSessions, profiles *fakeProfiles, pingErr error, limiter *ratelimit.Limiter) *gin.Engine {
	t.Helper()
	if limiter == nil {
		limiter = ratelimit.New(cache.NewMemory(), "req:test", 0, time.Minute)
	}
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	return NewServer(":0", "http://localhost:3000", sessions, profiles, fakePinger{err: pingErr}, limiter, logger).Router()
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// --- tests ---

func TestLoginEndpoint(t *testing.T) {
	sessions := &fakeSessions{
		login: func(_ context.Context, email, password, addr string) (*services.TokenPair, error) {
			if email == "alice@example.com" && password == "pw" {
				return &services.TokenPair{AccessToken: "acc", RefreshToken: "ref"}, nil
			}
			return nil, common.ErrInvalidCredentials
		},
	}
	r := newTestRouter(t, sessions, nil, nil, nil)

	w := doJSON(t, r, http.MethodPost, "/api/auth/login",
		`{"email":"alice@example.com","password":"pw"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp tokenPairResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "acc", resp.AccessToken)
	require.Equal(t, "ref", resp.RefreshToken)
	require.Equal(t, "bearer", resp.TokenType)

	w = doJSON(t, r, http.MethodPost, "/api/auth/login",
		`{"email":"alice@example.com","password":"nope"}`, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Body.String(), "could not validate credentials")

	// Malformed body never reaches the service.
	w = doJSON(t, r, http.MethodPost, "/api/auth/login", `{"email":"not-an-email"}`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLoginEndpoint_Throttled(t *testing.T) {
	sessions := &fakeSessions{
		login: func(context.Context, string, string, string) (*services.TokenPair, error) {
			return nil, &common.ThrottledError{RetryAfter: 90 * time.Second}
		},
	}
	r := newTestRouter(t, sessions, nil, nil, nil)

	w := doJSON(t, r, http.MethodPost, "/api/auth/login",
		`{"email":"alice@example.com","password":"pw"}`, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "90", w.Header().Get("Retry-After"))
}

func TestRegisterEndpoint(t *testing.T) {
	sessions := &fakeSessions{
		register: func(_ context.Context, username, email, _ string) (*models.User, error) {
			if email == "taken@example.com" {
				return nil, common.ErrorAlreadyExists
			}
			return &models.User{ID: "u-1", Username: username, Email: email}, nil
		},
	}
	r := newTestRouter(t, sessions, nil, nil, nil)

	w := doJSON(t, r, http.MethodPost, "/api/auth/register",
		`{"username":"alice","email":"alice@example.com","password":"longenough"}`, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	require.Contains(t, w.Body.String(), `"id":"u-1"`)

	w = doJSON(t, r, http.MethodPost, "/api/auth/register",
		`{"username":"alice","email":"taken@example.com","password":"longenough"}`, nil)
	require.Equal(t, http.StatusConflict, w.Code)

	// Password below the minimum is a binding failure.
	w = doJSON(t, r, http.MethodPost, "/api/auth/register",
		`{"username":"alice","email":"alice@example.com","password":"short"}`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRefreshEndpoint_RevokedToken(t *testing.T) {
	sessions := &fakeSessions{
		refresh: func(context.Context, string) (*services.TokenPair, error) {
			return nil, common.ErrTokenRevoked
		},
	}
	r := newTestRouter(t, sessions, nil, nil, nil)

	w := doJSON(t, r, http.MethodPost, "/api/auth/refresh", `{"refresh_token":"stale"}`, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Body.String(), "could not validate credentials")
}

func TestLogoutEndpoint_CacheDown(t *testing.T) {
	sessions := &fakeSessions{
		logout: func(context.Context, string) error {
			return common.ErrCacheUnavailable
		},
	}
	r := newTestRouter(t, sessions, nil, nil, nil)

	w := doJSON(t, r, http.MethodPost, "/api/auth/logout", `{"refresh_token":"tok"}`, nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestConfirmEmailEndpoint(t *testing.T) {
	sessions := &fakeSessions{
		confirmVerification: func(_ context.Context, raw string) error {
			if raw == "good-token" {
				return nil
			}
			return common.ErrTokenRevoked
		},
	}
	r := newTestRouter(t, sessions, nil, nil, nil)

	w := doJSON(t, r, http.MethodGet, "/api/auth/confirmed_email/good-token", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/auth/confirmed_email/stale-token", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequestEmailEndpoint_DoesNotLeakExistence(t *testing.T) {
	sessions := &fakeSessions{
		resendVerification: func(context.Context, string) error { return nil },
	}
	r := newTestRouter(t, sessions, nil, nil, nil)

	w := doJSON(t, r, http.MethodPost, "/api/auth/request_email", `{"email":"ghost@example.com"}`, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
}

func TestMeEndpoint_RequiresBearerToken(t *testing.T) {
	sessions := &fakeSessions{authenticate: validAuth("acc", "u-1")}
	profiles := &fakeProfiles{
		me: func(_ context.Context, userID string) (*services.Profile, error) {
			return &services.Profile{ID: userID, Username: "alice"}, nil
		},
	}
	r := newTestRouter(t, sessions, profiles, nil, nil)

	w := doJSON(t, r, http.MethodGet, "/api/users/me", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/users/me", "",
		map[string]string{"Authorization": "Bearer bogus"})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/users/me", "",
		map[string]string{"Authorization": "Bearer acc"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"id":"u-1"`)
}

func TestMeEndpoint_RateLimited(t *testing.T) {
	sessions := &fakeSessions{authenticate: validAuth("acc", "u-1")}
	profiles := &fakeProfiles{
		me: func(_ context.Context, userID string) (*services.Profile, error) {
			return &services.Profile{ID: userID}, nil
		},
	}
	limiter := ratelimit.New(cache.NewMemory(), "req:test", 2, time.Minute)
	r := newTestRouter(t, sessions, profiles, nil, limiter)

	hdr := map[string]string{"Authorization": "Bearer acc"}
	for i := 0; i < 2; i++ {
		w := doJSON(t, r, http.MethodGet, "/api/users/me", "", hdr)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}

	w := doJSON(t, r, http.MethodGet, "/api/users/me", "", hdr)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestChangePasswordEndpoint(t *testing.T) {
	var gotUser string
	sessions := &fakeSessions{
		authenticate: validAuth("acc", "u-1"),
		changePassword: func(_ context.Context, userID, current, next string) error {
			gotUser = userID
			if current != "old-pw" {
				return common.ErrInvalidCredentials
			}
			return nil
		},
	}
	r := newTestRouter(t, sessions, nil, nil, nil)
	hdr := map[string]string{"Authorization": "Bearer acc"}

	w := doJSON(t, r, http.MethodPost, "/api/auth/password",
		`{"current_password":"old-pw","new_password":"longenough"}`, hdr)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "u-1", gotUser)

	w = doJSON(t, r, http.MethodPost, "/api/auth/password",
		`{"current_password":"wrong","new_password":"longenough"}`, hdr)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUpdateAvatarEndpoint(t *testing.T) {
	sessions := &fakeSessions{authenticate: validAuth("acc", "u-1")}

	var gotFilename, gotContentType string
	var gotBody []byte
	profiles := &fakeProfiles{
		updateAvatar: func(_ context.Context, userID, filename, contentType string, data io.Reader) (*services.Profile, error) {
			gotFilename = filename
			gotContentType = contentType
			gotBody, _ = io.ReadAll(data)
			return &services.Profile{ID: userID, Avatar: "http://minio/avatars/x.png"}, nil
		},
	}
	r := newTestRouter(t, sessions, profiles, nil, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("avatar", "me.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("png-bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPatch, "/api/users/avatar", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer acc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "me.png", gotFilename)
	require.Equal(t, "application/octet-stream", gotContentType)
	require.Equal(t, []byte("png-bytes"), gotBody)

	// Missing file part.
	w = doJSON(t, r, http.MethodPatch, "/api/users/avatar", "", map[string]string{"Authorization": "Bearer acc"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthcheckerEndpoint(t *testing.T) {
	r := newTestRouter(t, &fakeSessions{}, nil, nil, nil)
	w := doJSON(t, r, http.MethodGet, "/api/healthchecker", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	r = newTestRouter(t, &fakeSessions{}, nil, context.DeadlineExceeded, nil)
	w = doJSON(t, r, http.MethodGet, "/api/healthchecker", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	r := newTestRouter(t, &fakeSessions{}, nil, nil, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}
