package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/chatscribe/chatscribe/internal/normalize"
	"github.com/chatscribe/chatscribe/internal/source"
)

// UserRepo owns the users table. Merge-on-sight: a user row is created or
// fully overwritten whenever an account is seen as a sender, dialog
// counterpart, or participant.
type UserRepo interface {
	SaveUser(ctx context.Context, user *source.User) (*User, error)

	// GetUser returns the user or (nil, nil) when no row exists.
	GetUser(ctx context.Context, userID int64) (*User, error)

	// GetUsers returns the users matching ids; missing ids are simply absent
	// from the result.
	GetUsers(ctx context.Context, ids []int64) ([]User, error)
}

type sqlxUserRepo struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewUserRepo creates a UserRepo backed by sqlx.
func NewUserRepo(db *sqlx.DB, logger *slog.Logger) UserRepo {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxUserRepo{db: db, logger: logger.With("component", "user_repo")}
}

func (r *sqlxUserRepo) SaveUser(ctx context.Context, user *source.User) (*User, error) {
	if user == nil {
		return nil, fmt.Errorf("cannot save nil user")
	}
	if user.ID == 0 {
		return nil, fmt.Errorf("user must have a non-zero id")
	}

	now := time.Now().UTC()
	row := User{
		ID:         user.ID,
		Username:   NullString(user.Username),
		FirstName:  NullString(user.FirstName),
		LastName:   NullString(user.LastName),
		IsBot:      user.Bot,
		IsVerified: user.Verified,
		IsScam:     user.Scam,
		IsFake:     user.Fake,
		IsPremium:  user.Premium,
		RawData:    normalize.JSON(user.Raw),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	query := `
        INSERT INTO users (id, username, first_name, last_name, is_bot, is_verified, is_scam, is_fake, is_premium, raw_data, created_at, updated_at)
        VALUES (:id, :username, :first_name, :last_name, :is_bot, :is_verified, :is_scam, :is_fake, :is_premium, :raw_data, :created_at, :updated_at)
        ON CONFLICT (id) DO UPDATE SET
            username    = EXCLUDED.username,
            first_name  = EXCLUDED.first_name,
            last_name   = EXCLUDED.last_name,
            is_bot      = EXCLUDED.is_bot,
            is_verified = EXCLUDED.is_verified,
            is_scam     = EXCLUDED.is_scam,
            is_fake     = EXCLUDED.is_fake,
            is_premium  = EXCLUDED.is_premium,
            raw_data    = EXCLUDED.raw_data,
            updated_at  = EXCLUDED.updated_at;
    `
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		r.logger.ErrorContext(ctx, "Error saving user", "user_id", user.ID, "error", err)
		return nil, fmt.Errorf("failed to save user %d: %w", user.ID, err)
	}

	r.logger.DebugContext(ctx, "User saved", "user_id", user.ID)
	return &row, nil
}

func (r *sqlxUserRepo) GetUser(ctx context.Context, userID int64) (*User, error) {
	var user User
	err := r.db.GetContext(ctx, &user,
		`SELECT id, username, first_name, last_name, is_bot, is_verified, is_scam, is_fake, is_premium, raw_data, created_at, updated_at
		 FROM users WHERE id = $1`, userID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to get user %d: %w", userID, err)
	}
	return &user, nil
}

func (r *sqlxUserRepo) GetUsers(ctx context.Context, ids []int64) ([]User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(
		`SELECT id, username, first_name, last_name, is_bot, is_verified, is_scam, is_fake, is_premium, raw_data, created_at, updated_at
		 FROM users WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build users query: %w", err)
	}

	var users []User
	if err := r.db.SelectContext(ctx, &users, r.db.Rebind(query), args...); err != nil {
		r.logger.ErrorContext(ctx, "Error getting users", "count", len(ids), "error", err)
		return nil, fmt.Errorf("failed to get users: %w", err)
	}
	return users, nil
}
