package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessionStore(t *testing.T, ttl time.Duration) (*SessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewSessionStore(rdb, ttl), mr
}

func TestSessionCreateAndGet(t *testing.T) {
	store, _ := newTestSessionStore(t, time.Hour)
	ctx := context.Background()

	user := &User{ID: "u-1", Email: "alice@example.com"}
	token, session, err := store.Create(ctx, user)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, "u-1", session.UserID)

	got, err := store.Get(ctx, token)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "u-1", got.UserID)
	assert.Equal(t, "alice@example.com", got.Email)
}

func TestSessionGetUnknownToken(t *testing.T) {
	store, _ := newTestSessionStore(t, time.Hour)

	got, err := store.Get(context.Background(), "bo_dW5rbm93bnRva2Vu")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSessionGetMalformedToken(t *testing.T) {
	store, _ := newTestSessionStore(t, time.Hour)

	got, err := store.Get(context.Background(), "not-a-token")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSessionExpiry(t *testing.T) {
	store, mr := newTestSessionStore(t, time.Minute)
	ctx := context.Background()

	token, _, err := store.Create(ctx, &User{ID: "u-1", Email: "a@b.co"})
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	got, err := store.Get(ctx, token)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSessionSlidingTTL(t *testing.T) {
	store, mr := newTestSessionStore(t, time.Minute)
	ctx := context.Background()

	token, _, err := store.Create(ctx, &User{ID: "u-1", Email: "a@b.co"})
	require.NoError(t, err)

	// Touch the session just before expiry; it must survive past the
	// original deadline.
	mr.FastForward(45 * time.Second)
	got, err := store.Get(ctx, token)
	require.NoError(t, err)
	require.NotNil(t, got)

	mr.FastForward(45 * time.Second)
	got, err = store.Get(ctx, token)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestSessionDelete(t *testing.T) {
	store, _ := newTestSessionStore(t, time.Hour)
	ctx := context.Background()

	token, _, err := store.Create(ctx, &User{ID: "u-1", Email: "a@b.co"})
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, token))

	got, err := store.Get(ctx, token)
	require.NoError(t, err)
	assert.Nil(t, got)

	// Deleting again is a no-op
	require.NoError(t, store.Delete(ctx, token))
}
