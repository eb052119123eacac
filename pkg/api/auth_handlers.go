package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/betterorg/betterorg/pkg/auth"
	"github.com/betterorg/betterorg/pkg/config"
	"github.com/betterorg/betterorg/pkg/httputil"
	"github.com/betterorg/betterorg/pkg/middleware"
	"github.com/betterorg/betterorg/pkg/observability"
)

// AuthHandlers implements email OTP sign-in and logout
type AuthHandlers struct {
	users    *auth.UserStore
	sessions *auth.SessionStore
	otp      *auth.OTPService
	limiter  *middleware.RateLimiter
	cfg      config.AuthConfig
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewAuthHandlers creates new auth handlers
func NewAuthHandlers(users *auth.UserStore, sessions *auth.SessionStore, otp *auth.OTPService, limiter *middleware.RateLimiter, cfg config.AuthConfig, logger *observability.Logger, metrics *observability.Metrics) *AuthHandlers {
	return &AuthHandlers{
		users:    users,
		sessions: sessions,
		otp:      otp,
		limiter:  limiter,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
	}
}

// RegisterRoutes registers auth routes
func (h *AuthHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/otp/send", h.sendOTP).Methods("POST")
	router.HandleFunc("/auth/otp/verify", h.verifyOTP).Methods("POST")
	router.HandleFunc("/auth/logout", h.logout).Methods("POST")
}

type sendOTPRequest struct {
	Email string `json:"email"`
}

type verifyOTPRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (h *AuthHandlers) sendOTP(w http.ResponseWriter, r *http.Request) {
	var req sendOTPRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	email := auth.NormalizeEmail(req.Email)
	if !auth.ValidEmail(email) {
		httputil.WriteFieldErrors(w, map[string]string{
			"email": "enter a valid email address",
		})
		return
	}

	allowed, err := h.limiter.Allow(r.Context(), email)
	if err != nil {
		// Fail open: the limiter store being down should not block sign-in
		h.logger.WithError(err).Warn("rate limiter unavailable")
	}
	if !allowed {
		h.metrics.OTPSentTotal.WithLabelValues("rate_limited").Inc()
		httputil.WriteTooManyRequests(w, "too many codes requested, try again later")
		return
	}

	if err := h.otp.Send(r.Context(), email); err != nil {
		if errors.Is(err, auth.ErrDeliveryFailed) {
			h.metrics.OTPSentTotal.WithLabelValues("delivery_failed").Inc()
			h.logger.WithError(err).WithField("email", email).Error("OTP delivery failed")
			httputil.WriteBadGateway(w, "could not send the code, try again")
			return
		}
		h.logger.WithError(err).Error("failed to send OTP")
		httputil.WriteInternalError(w, err)
		return
	}

	h.metrics.OTPSentTotal.WithLabelValues("sent").Inc()
	httputil.WriteSuccess(w, map[string]string{"step": "otp"})
}

func (h *AuthHandlers) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	email := auth.NormalizeEmail(req.Email)
	if !auth.ValidEmail(email) {
		httputil.WriteFieldErrors(w, map[string]string{
			"email": "enter a valid email address",
		})
		return
	}
	if req.Code == "" {
		httputil.WriteFieldErrors(w, map[string]string{
			"code": "enter the code from your email",
		})
		return
	}

	if err := h.otp.Verify(r.Context(), email, req.Code); err != nil {
		switch {
		case errors.Is(err, auth.ErrTooManyAttempts):
			h.metrics.OTPVerifyTotal.WithLabelValues("too_many_attempts").Inc()
			httputil.WriteFieldErrors(w, map[string]string{
				"code": "too many attempts, request a new code",
			})
		case errors.Is(err, auth.ErrCodeInvalid):
			h.metrics.OTPVerifyTotal.WithLabelValues("invalid").Inc()
			httputil.WriteFieldErrors(w, map[string]string{
				"code": "invalid or expired code",
			})
		default:
			h.logger.WithError(err).Error("failed to verify OTP")
			httputil.WriteInternalError(w, err)
		}
		return
	}

	user, err := h.users.GetOrCreateByEmail(r.Context(), email)
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

	h.metrics.OTPVerifyTotal.WithLabelValues("ok").Inc()
	h.metrics.SessionsCreated.Inc()
	h.setSessionCookie(w, token)
	httputil.Redirect(w, r, "/onboarding")
}

func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(h.cfg.SessionCookie); err == nil && cookie.Value != "" {
		if err := h.sessions.Delete(r.Context(), cookie.Value); err != nil {
			h.logger.WithError(err).Warn("failed to delete session")
		} else {
			h.metrics.SessionsDestroyed.Inc()
		}
	}

	h.clearSessionCookie(w)
	httputil.Redirect(w, r, "/login")
}

func (h *AuthHandlers) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.cfg.SessionTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandlers) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
