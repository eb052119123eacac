package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/betterorg/betterorg/pkg/auth"
	"github.com/betterorg/betterorg/pkg/billing"
	"github.com/betterorg/betterorg/pkg/config"
	"github.com/betterorg/betterorg/pkg/gate"
	"github.com/betterorg/betterorg/pkg/middleware"
	"github.com/betterorg/betterorg/pkg/observability"
	"github.com/betterorg/betterorg/pkg/orgs"
	"github.com/betterorg/betterorg/pkg/sso"
)

// Dependencies carries everything the HTTP surface needs. SSO is nil
// when OIDC sign-in is not configured.
type Dependencies struct {
	Config     *config.Config
	Gate       *gate.Gate
	Orgs       *orgs.PostgresService
	Users      *auth.UserStore
	Sessions   *auth.SessionStore
	OTP        *auth.OTPService
	OTPLimiter *middleware.RateLimiter
	Webhooks   *billing.WebhookProcessor
	SSO        *sso.Provider
	Logger     *observability.Logger
	Metrics    *observability.Metrics
}

// Server is the API server
type Server struct {
	router *mux.Router
	logger *observability.Logger
}

// NewServer creates the API server and wires up all routes
func NewServer(deps Dependencies) *Server {
	s := &Server{
		router: mux.NewRouter(),
		logger: deps.Logger,
	}

	sessionMW := middleware.NewSessionMiddleware(deps.Gate, deps.Config.Auth.SessionCookie)
	s.router.Use(middleware.RequestID)
	s.router.Use(observability.HTTPMetricsMiddleware(deps.Metrics))
	s.router.Use(sessionMW.Handler)

	authHandlers := NewAuthHandlers(deps.Users, deps.Sessions, deps.OTP, deps.OTPLimiter, deps.Config.Auth, deps.Logger, deps.Metrics)
	authHandlers.RegisterRoutes(s.router)

	orgHandlers := NewOrgHandlers(deps.Gate, deps.Orgs, deps.Logger, deps.Metrics)
	orgHandlers.RegisterRoutes(s.router)

	billingHandlers := NewBillingHandlers(deps.Gate, deps.Webhooks, deps.Logger)
	billingHandlers.RegisterRoutes(s.router)

	if deps.SSO != nil {
		ssoHandlers := NewSSOHandlers(deps.SSO, deps.Users, deps.Sessions, deps.Config.Auth, deps.Logger, deps.Metrics)
		ssoHandlers.RegisterRoutes(s.router)
	}

	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
