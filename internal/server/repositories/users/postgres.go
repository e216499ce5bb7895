// Package users provides a PostgreSQL-backed repository for principals.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/achertok/contacthub/internal/common"
	"github.com/achertok/contacthub/internal/dbx"
	"github.com/achertok/contacthub/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresRepository implements Repository over dbx.DBTX
// (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = `id, username, email, hashed_password, avatar, confirmed, created_at`

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	query := `
		INSERT INTO users (id, username, email, hashed_password)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		user.ID, user.Username, user.Email, user.HashedPassword).Scan(&user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, common.ErrorAlreadyExists
		}
		return nil, storeError(err)
	}
	return user, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (r *PostgresRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (*models.User, error) {
	user := &models.User{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.Username, &user.Email, &user.HashedPassword,
		&user.Avatar, &user.Confirmed, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, storeError(err)
	}
	return user, nil
}

func (r *PostgresRepository) SetConfirmed(ctx context.Context, id string) error {
	return r.updateOne(ctx, `UPDATE users SET confirmed = TRUE WHERE id = $1`, id)
}

func (r *PostgresRepository) UpdatePassword(ctx context.Context, id, hashedPassword string) error {
	return r.updateOne(ctx, `UPDATE users SET hashed_password = $2 WHERE id = $1`, id, hashedPassword)
}

func (r *PostgresRepository) UpdateAvatar(ctx context.Context, id, avatarURL string) error {
	return r.updateOne(ctx, `UPDATE users SET avatar = $2 WHERE id = $1`, id, avatarURL)
}

func (r *PostgresRepository) updateOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storeError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storeError(err)
	}
	if affected == 0 {
		return common.ErrorNotFound
	}
	return nil
}

// storeError wraps infrastructure failures so callers can treat them as a
// retryable outage with errors.Is(err, common.ErrStoreUnavailable).
func storeError(err error) error {
	return fmt.Errorf("%w: %s", common.ErrStoreUnavailable, err)
}
