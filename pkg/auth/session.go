package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const sessionKeyPrefix = "session:"

// SessionStore persists sessions in Redis, keyed by the SHA-256 hash of
// the session token. TTL is sliding: every successful lookup extends the
// session by the configured lifetime.
type SessionStore struct {
	redis     *redis.Client
	generator *TokenGenerator
	ttl       time.Duration
}

// NewSessionStore creates a new session store
func NewSessionStore(rdb *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{
		redis:     rdb,
		generator: NewTokenGenerator(),
		ttl:       ttl,
	}
}

// Create mints a new session for the user and returns the plaintext token.
// The token is not retained; callers must hand it to the client immediately.
func (s *SessionStore) Create(ctx context.Context, user *User) (string, *Session, error) {
	token, tokenHash, err := s.generator.GenerateToken()
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	session := &Session{
		UserID:    user.ID,
		Email:     user.Email,
		CreatedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(session)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := s.redis.Set(ctx, sessionKeyPrefix+tokenHash, data, s.ttl).Err(); err != nil {
		return "", nil, fmt.Errorf("failed to store session: %w", err)
	}

	return token, session, nil
}

// Get resolves a token to its session. Returns (nil, nil) for unknown,
// malformed or expired tokens so callers can treat absence as
// unauthenticated rather than as a failure.
func (s *SessionStore) Get(ctx context.Context, token string) (*Session, error) {
	if err := s.generator.ValidateTokenFormat(token); err != nil {
		return nil, nil
	}

	key := sessionKeyPrefix + s.generator.HashToken(token)
	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	// Sliding expiry
	if err := s.redis.Expire(ctx, key, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("failed to refresh session TTL: %w", err)
	}

	return &session, nil
}

// Delete destroys a session. Deleting an unknown token is a no-op.
func (s *SessionStore) Delete(ctx context.Context, token string) error {
	if err := s.generator.ValidateTokenFormat(token); err != nil {
		return nil
	}

	key := sessionKeyPrefix + s.generator.HashToken(token)
	if err := s.redis.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
