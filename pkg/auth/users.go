package auth

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// NormalizeEmail lowercases and trims an email address so that lookups and
// rate-limit keys agree on a single form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail reports whether the address has a plausible shape
func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// UserStore persists users in PostgreSQL
type UserStore struct {
	db *sql.DB
}

// NewUserStore creates a new user store
func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

// GetOrCreateByEmail returns the user for an email, creating one on first
// sign-in. Either way last_login_at is stamped.
func (s *UserStore) GetOrCreateByEmail(ctx context.Context, email string) (*User, error) {
	email = NormalizeEmail(email)
	now := time.Now().UTC()

	query := `
		INSERT INTO users (id, email, created_at, updated_at, last_login_at)
		VALUES ($1, $2, $3, $3, $3)
		ON CONFLICT (email) DO UPDATE SET last_login_at = $3, updated_at = $3
		RETURNING id, email, created_at, updated_at, last_login_at
	`
	user := &User{}
	err := s.db.QueryRowContext(ctx, query, uuid.NewString(), email, now).Scan(
		&user.ID, &user.Email, &user.CreatedAt, &user.UpdatedAt, &user.LastLoginAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	return user, nil
}

// GetByID retrieves a user by ID
func (s *UserStore) GetByID(ctx context.Context, id string) (*User, error) {
	query := `
		SELECT id, email, created_at, updated_at, last_login_at
		FROM users
		WHERE id = $1
	`
	user := &User{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID, &user.Email, &user.CreatedAt, &user.UpdatedAt, &user.LastLoginAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// GetByEmail retrieves a user by email
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	query := `
		SELECT id, email, created_at, updated_at, last_login_at
		FROM users
		WHERE email = $1
	`
	user := &User{}
	err := s.db.QueryRowContext(ctx, query, NormalizeEmail(email)).Scan(
		&user.ID, &user.Email, &user.CreatedAt, &user.UpdatedAt, &user.LastLoginAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}
