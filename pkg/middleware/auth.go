package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/betterorg/betterorg/pkg/auth"
	"github.com/betterorg/betterorg/pkg/contextkeys"
	"github.com/betterorg/betterorg/pkg/httputil"
)

// IdentityResolver resolves a session token to an identity, nil when the
// token is absent, unknown or expired
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, token string) (*auth.Identity, error)
}

// SessionMiddleware resolves the caller's session into the request
// context. It is always attach-only: handlers decide what an absent
// identity means (usually a redirect to login).
type SessionMiddleware struct {
	resolver   IdentityResolver
	cookieName string
}

// NewSessionMiddleware creates a new session middleware
func NewSessionMiddleware(resolver IdentityResolver, cookieName string) *SessionMiddleware {
	return &SessionMiddleware{
		resolver:   resolver,
		cookieName: cookieName,
	}
}

// Handler wraps an HTTP handler with session resolution. A store failure
// fails closed with a 500; a missing or invalid token just passes through
// without an identity.
func (m *SessionMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := m.ExtractToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		identity, err := m.resolver.ResolveIdentity(r.Context(), token)
		if err != nil {
			httputil.WriteInternalError(w, err)
			return
		}
		if identity == nil {
			next.ServeHTTP(w, r)
			return
		}

		authCtx := &auth.Context{Identity: identity}
		ctx := context.WithValue(r.Context(), contextkeys.AuthKey, authCtx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ExtractToken pulls the session token from the cookie, falling back to
// a Bearer Authorization header for non-browser clients.
func (m *SessionMiddleware) ExtractToken(r *http.Request) string {
	if cookie, err := r.Cookie(m.cookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && parts[0] == "Bearer" {
		return parts[1]
	}

	return ""
}

// GetIdentity extracts the resolved identity from a request, nil when the
// request is unauthenticated
func GetIdentity(r *http.Request) *auth.Identity {
	v := r.Context().Value(contextkeys.AuthKey)
	if v == nil {
		return nil
	}
	authCtx, ok := v.(*auth.Context)
	if !ok || authCtx == nil {
		return nil
	}
	return authCtx.Identity
}
