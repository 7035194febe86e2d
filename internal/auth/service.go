// Package auth signs customers and operators in against stored bcrypt hashes.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/quotedesk/internal/platform/httpx"
)

var (
	// ErrInvalidCredentials hides which half of the credentials was wrong.
	ErrInvalidCredentials = fmt.Errorf("auth: invalid credentials: %w", httpx.ErrUnauthorized)
	// ErrEmailTaken is returned when creating a user with an existing email.
	ErrEmailTaken = fmt.Errorf("auth: email already registered: %w", httpx.ErrDuplicate)
	// ErrUserNotFound is returned for unknown emails.
	ErrUserNotFound = fmt.Errorf("auth: user: %w", httpx.ErrNotFound)
)

// MinPasswordLength bounds new passwords.
const MinPasswordLength = 8

// User represents an authenticated user account.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Repository defines persistence operations for auth module.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	CreateUser(ctx context.Context, u User) (*User, error)
	CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error
	DeleteSession(ctx context.Context, id string) error
}

// Service wraps authentication business rules.
type Service struct {
	repo Repository
	cost int
}

// NewService constructs a new Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, cost: bcrypt.DefaultCost}
}

// WithCost overrides the bcrypt cost; tests use bcrypt.MinCost.
func (s *Service) WithCost(cost int) *Service {
	s.cost = cost
	return s
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// Register creates an active user with a hashed password.
func (s *Service) Register(ctx context.Context, email, name, password string) (*User, error) {
	email = normalizeEmail(email)
	fields := httpx.FieldErrors{}
	if email == "" || !strings.Contains(email, "@") {
		fields["email"] = "Enter a valid email address."
	}
	if len(password) < MinPasswordLength {
		fields["password"] = fmt.Sprintf("Ensure this value has at least %d characters.", MinPasswordLength)
	}
	if len(fields) > 0 {
		return nil, fields
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}
	return s.repo.CreateUser(ctx, User{
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: string(hash),
		IsActive:     true,
	})
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	return s.repo.CreateSession(ctx, id, userID, expiresAt, ip, ua)
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
