package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/betterorg/betterorg/pkg/auth"
	"github.com/betterorg/betterorg/pkg/config"
	"github.com/betterorg/betterorg/pkg/httputil"
	"github.com/betterorg/betterorg/pkg/observability"
	"github.com/betterorg/betterorg/pkg/sso"
)

// SSOHandlers implements OIDC sign-in. A verified ID token lands in the
// same place as a verified OTP: user upsert by email, then a session.
type SSOHandlers struct {
	provider *sso.Provider
	users    *auth.UserStore
	sessions *auth.SessionStore
	cfg      config.AuthConfig
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewSSOHandlers creates new SSO handlers
func NewSSOHandlers(provider *sso.Provider, users *auth.UserStore, sessions *auth.SessionStore, cfg config.AuthConfig, logger *observability.Logger, metrics *observability.Metrics) *SSOHandlers {
	return &SSOHandlers{
		provider: provider,
		users:    users,
		sessions: sessions,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
	}
}

// RegisterRoutes registers SSO routes
func (h *SSOHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/sso/login", h.login).Methods("GET")
	router.HandleFunc("/auth/sso/callback", h.callback).Methods("GET")
}

func (h *SSOHandlers) login(w http.ResponseWriter, r *http.Request) {
	state, err := sso.GenerateState()
	if err != nil {
		h.logger.WithError(err).Error("failed to generate SSO state")
		httputil.WriteInternalError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sso.StateCookieName,
		Value:    state,
		Path:     "/auth/sso",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.provider.AuthCodeURL(state), http.StatusFound)
}

func (h *SSOHandlers) callback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie(sso.StateCookieName)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != r.URL.Query().Get("state") {
		httputil.WriteBadRequest(w, "state mismatch")
		return
	}
	h.clearStateCookie(w)

	claims, err := h.provider.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		h.logger.WithError(err).Warn("SSO exchange failed")
		httputil.WriteBadGateway(w, "sign-in is temporarily unavailable, try again")
		return
	}

	user, err := h.users.GetOrCreateByEmail(r.Context(), claims.Email)
	if err != nil {
		h.logger.WithError(err).Error("failed to upsert user")
		httputil.WriteInternalError(w, err)
		return
	}

	token, _, err := h.sessions.Create(r.Context(), user)
	if err != nil {
		h.logger.WithError(err).Error("failed to create session")
		httputil.WriteInternalError(w, err)
		return
	}

	h.metrics.SessionsCreated.Inc()
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.cfg.SessionTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	httputil.Redirect(w, r, "/onboarding")
}

func (h *SSOHandlers) clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sso.StateCookieName,
		Value:    "",
		Path:     "/auth/sso",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
