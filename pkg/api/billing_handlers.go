package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/betterorg/betterorg/pkg/billing"
	"github.com/betterorg/betterorg/pkg/gate"
	"github.com/betterorg/betterorg/pkg/httputil"
	"github.com/betterorg/betterorg/pkg/middleware"
	"github.com/betterorg/betterorg/pkg/observability"
)

const maxWebhookBody = 1 << 20 // 1MB

// BillingHandlers implements subscription mutations and the payment
// provider webhook
type BillingHandlers struct {
	gate     *gate.Gate
	webhooks *billing.WebhookProcessor
	logger   *observability.Logger
}

// NewBillingHandlers creates new billing handlers
func NewBillingHandlers(g *gate.Gate, webhooks *billing.WebhookProcessor, logger *observability.Logger) *BillingHandlers {
	return &BillingHandlers{
		gate:     g,
		webhooks: webhooks,
		logger:   logger,
	}
}

// RegisterRoutes registers billing routes
func (h *BillingHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/orgs/{id}/subscription", h.subscribe).Methods("POST")
	router.HandleFunc("/orgs/{id}/subscription/cancel", h.cancel).Methods("POST")
	router.HandleFunc("/billing/webhook", h.webhook).Methods("POST")
}

type subscribeRequest struct {
	Plan string `json:"plan"`
}

type cancelRequest struct {
	SubscriptionID string `json:"subscription_id"`
}

func (h *BillingHandlers) subscribe(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	orgID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var req subscribeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Plan == "" {
		httputil.WriteFieldErrors(w, map[string]string{
			"plan": "choose a plan",
		})
		return
	}

	checkoutURL, err := h.gate.AuthorizeSubscriptionMutation(r.Context(), identity, orgID, gate.ActionSubscribe, req.Plan)
	if err != nil {
		h.writeMutationError(w, r, err, "subscribe failed")
		return
	}

	httputil.Redirect(w, r, checkoutURL)
}

func (h *BillingHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	orgID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var req cancelRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.SubscriptionID == "" {
		httputil.WriteFieldErrors(w, map[string]string{
			"subscription_id": "subscription_id is required",
		})
		return
	}

	portalURL, err := h.gate.AuthorizeSubscriptionMutation(r.Context(), identity, orgID, gate.ActionCancel, req.SubscriptionID)
	if err != nil {
		h.writeMutationError(w, r, err, "cancel failed")
		return
	}

	httputil.Redirect(w, r, portalURL)
}

// writeMutationError maps the layered failure modes of a subscription
// mutation. A role rejection is a definitive 403; a provider outage is a
// 502 the caller may retry.
func (h *BillingHandlers) writeMutationError(w http.ResponseWriter, r *http.Request, err error, logMessage string) {
	switch {
	case errors.Is(err, gate.ErrUnauthenticated):
		httputil.Redirect(w, r, "/login")
	case errors.Is(err, gate.ErrAccessDenied):
		httputil.Redirect(w, r, "/onboarding")
	case errors.Is(err, billing.ErrNotAuthorized):
		httputil.WriteForbidden(w, "your role does not allow managing billing")
	case errors.Is(err, billing.ErrNoSubscription):
		httputil.WriteNotFoundError(w, "subscription not found")
	case errors.Is(err, billing.ErrProviderUnavailable):
		h.logger.WithError(err).Warn(logMessage)
		httputil.WriteBadGateway(w, "billing is temporarily unavailable, try again")
	default:
		h.logger.WithError(err).Error(logMessage)
		httputil.WriteInternalError(w, err)
	}
}

func (h *BillingHandlers) webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httputil.WriteBadRequest(w, "failed to read request body")
		return
	}

	if err := h.webhooks.Process(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		if errors.Is(err, billing.ErrBadSignature) {
			httputil.WriteBadRequest(w, "invalid signature")
			return
		}
		// Non-2xx makes the provider redeliver later
		h.logger.WithError(err).Error("webhook processing failed")
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]bool{"received": true})
}
