package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/betterorg/betterorg/pkg/observability"
)

// ErrBadSignature means the webhook payload failed signature verification
var ErrBadSignature = errors.New("invalid webhook signature")

// webhookTolerance bounds how old a signed timestamp may be
const webhookTolerance = 5 * time.Minute

// WebhookEvent is the provider event envelope
type WebhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object subscriptionObject `json:"object"`
	} `json:"data"`
}

// subscriptionObject is the subset of the provider subscription we mirror
type subscriptionObject struct {
	ID                 string            `json:"id"`
	Customer           string            `json:"customer"`
	Status             string            `json:"status"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	Metadata           map[string]string `json:"metadata"`
}

// WebhookProcessor verifies and applies provider events to the snapshot
type WebhookProcessor struct {
	store   *SubscriptionStore
	secret  string
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewWebhookProcessor creates a new webhook processor
func NewWebhookProcessor(store *SubscriptionStore, secret string, logger *observability.Logger, metrics *observability.Metrics) *WebhookProcessor {
	return &WebhookProcessor{
		store:   store,
		secret:  secret,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Process verifies the signature and applies the event to the snapshot.
// Unknown event types are acknowledged and ignored.
func (p *WebhookProcessor) Process(ctx context.Context, payload []byte, sigHeader string) error {
	if err := p.verifySignature(payload, sigHeader); err != nil {
		p.metrics.WebhookEventsTotal.WithLabelValues("unknown", "bad_signature").Inc()
		return err
	}

	var event WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		p.metrics.WebhookEventsTotal.WithLabelValues("unknown", "malformed").Inc()
		return fmt.Errorf("failed to parse webhook event: %w", err)
	}

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		return p.applySubscription(ctx, &event, "")
	case "customer.subscription.deleted":
		return p.applySubscription(ctx, &event, SubscriptionStatusCanceled)
	default:
		p.metrics.WebhookEventsTotal.WithLabelValues(event.Type, "ignored").Inc()
		return nil
	}
}

// applySubscription upserts the event's subscription into the snapshot.
// statusOverride forces a terminal state regardless of the object's own
// status field (deletion events still carry the last status).
func (p *WebhookProcessor) applySubscription(ctx context.Context, event *WebhookEvent, statusOverride SubscriptionStatus) error {
	obj := event.Data.Object
	referenceID := obj.Metadata["reference_id"]
	if referenceID == "" {
		p.metrics.WebhookEventsTotal.WithLabelValues(event.Type, "no_reference").Inc()
		p.logger.WithField("event_id", event.ID).Warn("webhook subscription without reference_id metadata")
		return nil
	}

	status := SubscriptionStatus(obj.Status)
	if statusOverride != "" {
		status = statusOverride
	}

	sub := &Subscription{
		ReferenceID:          referenceID,
		CustomerType:         CustomerTypeOrganization,
		Plan:                 obj.Metadata["plan"],
		Status:               status,
		StripeCustomerID:     obj.Customer,
		StripeSubscriptionID: obj.ID,
	}
	if obj.CurrentPeriodStart > 0 {
		start := time.Unix(obj.CurrentPeriodStart, 0).UTC()
		sub.PeriodStart = &start
	}
	if obj.CurrentPeriodEnd > 0 {
		end := time.Unix(obj.CurrentPeriodEnd, 0).UTC()
		sub.PeriodEnd = &end
	}

	if err := p.store.Upsert(ctx, sub); err != nil {
		p.metrics.WebhookEventsTotal.WithLabelValues(event.Type, "error").Inc()
		return err
	}

	p.metrics.WebhookEventsTotal.WithLabelValues(event.Type, "applied").Inc()
	p.logger.WithField("event_id", event.ID).
		WithField("reference_id", referenceID).
		WithField("status", string(status)).
		Info("webhook event applied")
	return nil
}

// verifySignature checks the provider signature header:
// "t=<unix>,v1=<hex hmac-sha256 of '<t>.<payload>'>". The timestamp must
// be within tolerance to blunt replay.
func (p *WebhookProcessor) verifySignature(payload []byte, sigHeader string) error {
	var timestamp string
	var signatures []string

	for _, part := range strings.Split(sigHeader, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}

	if timestamp == "" || len(signatures) == 0 {
		return ErrBadSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	age := p.now().Sub(time.Unix(ts, 0))
	if age > webhookTolerance || age < -webhookTolerance {
		return ErrBadSignature
	}

	mac := hmac.New(sha256.New, []byte(p.secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return nil
		}
	}

	return ErrBadSignature
}
