package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/betterorg/betterorg/pkg/observability"
)

// StripeConfig holds the provider adapter settings. BaseURL is the public
// address of this application; hosted checkout and portal sessions send the
// user back to it when they finish.
type StripeConfig struct {
	APIKey         string
	APIBase        string
	BaseURL        string
	RequestTimeout time.Duration
}

// StripeProvider implements Provider against the Stripe HTTP API.
// Reads come from the local snapshot; mutations go straight to Stripe and
// return a URL for the user to finish the flow. The snapshot is never
// written here.
type StripeProvider struct {
	config    StripeConfig
	store     *SubscriptionStore
	authorize AuthorizeReferenceFunc
	client    *http.Client
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewStripeProvider creates a new Stripe provider adapter
func NewStripeProvider(config StripeConfig, store *SubscriptionStore, authorize AuthorizeReferenceFunc, logger *observability.Logger, metrics *observability.Metrics) *StripeProvider {
	if config.APIBase == "" {
		config.APIBase = "https://api.stripe.com"
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 15 * time.Second
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &StripeProvider{
		config:    config,
		store:     store,
		authorize: authorize,
		client:    &http.Client{Timeout: config.RequestTimeout},
		logger:    logger,
		metrics:   metrics,
	}
}

// ListSubscriptions reads the current snapshots for a reference; terminal
// rows are filtered out. This never calls Stripe; display paths must not
// depend on provider availability.
func (p *StripeProvider) ListSubscriptions(ctx context.Context, referenceID string) ([]*Subscription, error) {
	return p.store.ListCurrentForReference(ctx, referenceID)
}

// Subscribe authorizes the caller, then creates a Stripe checkout session
// for the plan and returns its URL. Nothing is written locally; the
// snapshot catches up when the checkout completes and the webhook lands.
func (p *StripeProvider) Subscribe(ctx context.Context, userID, referenceID, plan string) (string, error) {
	if !p.authorize(ctx, userID, referenceID) {
		p.metrics.ProviderCallsTotal.WithLabelValues("subscribe", "rejected").Inc()
		return "", ErrNotAuthorized
	}

	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("line_items[0][price]", plan)
	form.Set("line_items[0][quantity]", "1")
	form.Set("subscription_data[metadata][reference_id]", referenceID)
	form.Set("subscription_data[metadata][plan]", plan)
	form.Set("client_reference_id", referenceID)
	// Stripe rejects hosted checkout sessions without a success_url
	form.Set("success_url", p.orgURL(referenceID)+"?checkout=success")
	form.Set("cancel_url", p.orgURL(referenceID)+"?checkout=canceled")

	var session struct {
		URL string `json:"url"`
	}
	if err := p.call(ctx, "subscribe", "/v1/checkout/sessions", form, &session); err != nil {
		return "", err
	}

	return session.URL, nil
}

// Cancel authorizes the caller, then opens a billing portal session for
// the customer behind the subscription and returns its URL. The actual
// cancellation happens inside the portal and reaches the snapshot through
// the webhook.
func (p *StripeProvider) Cancel(ctx context.Context, userID, referenceID, subscriptionID string) (string, error) {
	if !p.authorize(ctx, userID, referenceID) {
		p.metrics.ProviderCallsTotal.WithLabelValues("cancel", "rejected").Inc()
		return "", ErrNotAuthorized
	}

	sub, err := p.store.GetByID(ctx, subscriptionID)
	if err != nil {
		return "", err
	}
	if sub.ReferenceID != referenceID {
		return "", ErrNoSubscription
	}
	if sub.StripeCustomerID == "" {
		return "", ErrNoSubscription
	}

	form := url.Values{}
	form.Set("customer", sub.StripeCustomerID)
	form.Set("return_url", p.orgURL(referenceID))

	var session struct {
		URL string `json:"url"`
	}
	if err := p.call(ctx, "cancel", "/v1/billing_portal/sessions", form, &session); err != nil {
		return "", err
	}

	return session.URL, nil
}

// orgURL is where the provider sends the user after a hosted flow
func (p *StripeProvider) orgURL(referenceID string) string {
	return p.config.BaseURL + "/orgs/" + referenceID
}

// call POSTs a form-encoded request to the Stripe API and decodes the JSON
// response. All transport and non-2xx failures collapse into
// ErrProviderUnavailable; raw provider errors are logged, never returned.
func (p *StripeProvider) call(ctx context.Context, operation, path string, form url.Values, dest interface{}) error {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.APIBase+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build provider request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	p.metrics.ProviderCallDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		p.metrics.ProviderCallsTotal.WithLabelValues(operation, "error").Inc()
		p.logger.WithError(err).WithField("operation", operation).Error("provider request failed")
		return fmt.Errorf("%w: %s", ErrProviderUnavailable, operation)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		p.metrics.ProviderCallsTotal.WithLabelValues(operation, "error").Inc()
		return fmt.Errorf("%w: %s", ErrProviderUnavailable, operation)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		p.metrics.ProviderCallsTotal.WithLabelValues(operation, "error").Inc()
		p.logger.WithField("operation", operation).
			WithField("status", resp.StatusCode).
			WithField("body", string(body)).
			Error("provider returned error")
		return fmt.Errorf("%w: %s", ErrProviderUnavailable, operation)
	}

	if err := json.Unmarshal(body, dest); err != nil {
		p.metrics.ProviderCallsTotal.WithLabelValues(operation, "error").Inc()
		return fmt.Errorf("%w: %s", ErrProviderUnavailable, operation)
	}

	p.metrics.ProviderCallsTotal.WithLabelValues(operation, "ok").Inc()
	return nil
}
