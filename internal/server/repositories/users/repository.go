package users

import (
	"context"

	"github.com/achertok/contacthub/internal/server/models"
)

// Repository is the credential store adapter: the durable record of user
// identity, password hash, and verification status.
type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	SetConfirmed(ctx context.Context, id string) error
	UpdatePassword(ctx context.Context, id, hashedPassword string) error
	UpdateAvatar(ctx context.Context, id, avatarURL string) error
}
