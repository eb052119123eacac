package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betterorg/betterorg/pkg/httputil"
)

func TestSendOTPInvalidEmail(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/auth/otp/send", map[string]string{"email": "not-an-email"}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp httputil.FieldErrorResponse
	decodeJSON(t, rec, &resp)
	assert.Contains(t, resp.FieldErrors, "email")
}

func TestSendOTPDeliversCode(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/auth/otp/send", map[string]string{"email": "Alice@Example.com"}, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "otp", resp["step"])
	assert.Len(t, env.sender.code("alice@example.com"), 6)
}

func TestSendOTPRateLimited(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 3; i++ {
		rec := env.do(t, http.MethodPost, "/auth/otp/send", map[string]string{"email": "alice@example.com"}, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := env.do(t, http.MethodPost, "/auth/otp/send", map[string]string{"email": "alice@example.com"}, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestSendOTPDeliveryFailure(t *testing.T) {
	env := newTestEnv(t)
	env.sender.fail = true

	rec := env.do(t, http.MethodPost, "/auth/otp/send", map[string]string{"email": "alice@example.com"}, nil)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestVerifyOTPWrongCode(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/auth/otp/send", map[string]string{"email": "alice@example.com"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/auth/otp/verify", map[string]string{
		"email": "alice@example.com",
		"code":  "000000",
	}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp httputil.FieldErrorResponse
	decodeJSON(t, rec, &resp)
	assert.Contains(t, resp.FieldErrors, "code")
}

func TestVerifyOTPCreatesSessionAndRedirects(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/auth/otp/send", map[string]string{"email": "alice@example.com"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/auth/otp/verify", map[string]string{
		"email": "alice@example.com",
		"code":  env.sender.code("alice@example.com"),
	}, nil)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/onboarding", rec.Header().Get("Location"))

	var sessionCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "betterorg_session" {
			sessionCookie = c
		}
	}
	require.NotNil(t, sessionCookie)
	assert.True(t, sessionCookie.HttpOnly)

	// The user exists and the cookie authenticates follow-up requests
	user, err := env.users.GetByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)

	rec = env.do(t, http.MethodGet, "/orgs", nil, sessionCookie)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestVerifyOTPAttemptCap(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/auth/otp/send", map[string]string{"email": "alice@example.com"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	realCode := env.sender.code("alice@example.com")

	for i := 0; i < 5; i++ {
		rec = env.do(t, http.MethodPost, "/auth/otp/verify", map[string]string{
			"email": "alice@example.com",
			"code":  "000000",
		}, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	}

	// The cap invalidates the code entirely
	rec = env.do(t, http.MethodPost, "/auth/otp/verify", map[string]string{
		"email": "alice@example.com",
		"code":  realCode,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	_, cookie := env.signIn(t, "alice@example.com")

	rec := env.do(t, http.MethodPost, "/auth/logout", nil, cookie)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))

	// The session no longer resolves
	rec = env.do(t, http.MethodGet, "/orgs", nil, cookie)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}

func TestLogoutWithoutSession(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/auth/logout", nil, nil)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}
