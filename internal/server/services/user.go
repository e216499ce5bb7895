package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/achertok/contacthub/internal/common"
	"github.com/achertok/contacthub/internal/logging"
	"github.com/achertok/contacthub/internal/server/cache"
	"github.com/achertok/contacthub/internal/server/models"
	"github.com/achertok/contacthub/internal/server/repositories/users"
	"github.com/google/uuid"
)

// Profile is the caller-facing view of a principal. The password hash never
// leaves the service layer.
type Profile struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Avatar    string    `json:"avatar,omitempty"`
	Confirmed bool      `json:"confirmed"`
	CreatedAt time.Time `json:"created_at"`
}

func profileFromUser(u *models.User) *Profile {
	return &Profile{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Avatar:    u.Avatar,
		Confirmed: u.Confirmed,
		CreatedAt: u.CreatedAt,
	}
}

// AvatarStore is the object-storage capability UserService needs;
// satisfied by *storage.ObjectStore.
type AvatarStore interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error)
}

// UserService serves profile reads (through the cache) and avatar updates.
type UserService struct {
	users      users.Repository
	cache      cache.Cache
	avatars    AvatarStore
	logger     logging.Logger
	profileTTL time.Duration
}

func NewUserService(repo users.Repository, c cache.Cache, avatars AvatarStore, logger logging.Logger, profileTTL time.Duration) *UserService {
	return &UserService{
		users:      repo,
		cache:      c,
		avatars:    avatars,
		logger:     logger.With("module", "users"),
		profileTTL: profileTTL,
	}
}

// Me returns the principal's profile, reading through the cache. Cache
// failures degrade to a direct store read.
func (s *UserService) Me(ctx context.Context, userID string) (*Profile, error) {
	key := profileCacheKey(userID)

	if raw, err := s.cache.Get(ctx, key); err == nil {
		p := &Profile{}
		if err := json.Unmarshal([]byte(raw), p); err == nil {
			return p, nil
		}
	} else if !errors.Is(err, common.ErrorNotFound) {
		s.logger.Warn(ctx, "profile cache read failed", "error", err)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	p := profileFromUser(user)

	if data, err := json.Marshal(p); err == nil {
		if err := s.cache.Set(ctx, key, string(data), s.profileTTL); err != nil {
			s.logger.Warn(ctx, "profile cache write failed", "error", err)
		}
	}
	return p, nil
}

// UpdateAvatar stores the uploaded image in the object store and persists its
// URL on the principal, invalidating the cached profile.
func (s *UserService) UpdateAvatar(ctx context.Context, userID, filename, contentType string, data io.Reader) (*Profile, error) {
	key := fmt.Sprintf("avatars/%s/%s%s", userID, uuid.New(), path.Ext(filename))

	url, err := s.avatars.Upload(ctx, key, contentType, data)
	if err != nil {
		return nil, fmt.Errorf("storing avatar: %w", err)
	}

	if err := s.users.UpdateAvatar(ctx, userID, url); err != nil {
		return nil, err
	}
	if err := s.cache.Delete(ctx, profileCacheKey(userID)); err != nil {
		s.logger.Warn(ctx, "invalidating profile cache failed", "error", err)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return profileFromUser(user), nil
}
