package auth

import "time"

// User represents an account identified by email
type User struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// Session is the server-side session record stored in Redis. The token
// itself is never stored; the record lives under its SHA-256 hash.
type Session struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Identity is the resolved caller of a request. A nil *Identity means
// unauthenticated, which is normal control flow, not an error.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// Context holds authenticated caller information for a request
type Context struct {
	Identity *Identity
	Session  *Session
}
