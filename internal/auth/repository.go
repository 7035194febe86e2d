package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/odyssey-erp/quotedesk/internal/platform/db"
)

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db *db.TxManager
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(tx *db.TxManager) *PGRepository {
	return &PGRepository{db: tx}
}

// FindByEmail fetches a user by email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := r.db.Querier(ctx).QueryRow(ctx, `
		SELECT id, email, name, password_hash, is_active, created_at
		FROM users WHERE lower(email) = lower($1)`, email).
		Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.IsActive, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a user row.
func (r *PGRepository) CreateUser(ctx context.Context, u User) (*User, error) {
	err := r.db.Querier(ctx).QueryRow(ctx, `
		INSERT INTO users (email, name, password_hash, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`, u.Email, u.Name, u.PasswordHash, u.IsActive).
		Scan(&u.ID, &u.CreatedAt)
	if db.IsUniqueViolation(err, "users_email_key") {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateSession persists a new login session in the database for auditing.
func (r *PGRepository) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	_, err := r.db.Querier(ctx).Exec(ctx, `
		INSERT INTO user_sessions (id, user_id, created_at, expires_at, ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET user_id = EXCLUDED.user_id, expires_at = EXCLUDED.expires_at`,
		id, userID, time.Now().UTC(), expiresAt.UTC(),
		pgtype.Text{String: ip, Valid: ip != ""},
		pgtype.Text{String: ua, Valid: ua != ""})
	return err
}

// DeleteSession removes a session record from the database.
func (r *PGRepository) DeleteSession(ctx context.Context, id string) error {
	_, err := r.db.Querier(ctx).Exec(ctx, `DELETE FROM user_sessions WHERE id = $1`, id)
	return err
}

var _ Repository = (*PGRepository)(nil)
