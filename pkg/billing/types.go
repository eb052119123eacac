package billing

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotAuthorized means the authorization callback rejected the
	// mutation. Distinct from provider failures so handlers can answer
	// 403 instead of 502.
	ErrNotAuthorized = errors.New("not authorized to manage this subscription")
	// ErrProviderUnavailable wraps transport and non-2xx failures from
	// the payment provider
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	// ErrNoSubscription means no matching subscription snapshot exists
	ErrNoSubscription = errors.New("subscription not found")
)

// CustomerTypeOrganization is the only customer type in use; subscriptions
// always attach to an organization, never to an individual user.
const CustomerTypeOrganization = "organization"

// SubscriptionStatus is the provider-reported lifecycle state
type SubscriptionStatus string

const (
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusTrialing   SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled   SubscriptionStatus = "canceled"
	SubscriptionStatusExpired    SubscriptionStatus = "expired"
	SubscriptionStatusIncomplete SubscriptionStatus = "incomplete"
)

// Active reports whether the status grants access
func (s SubscriptionStatus) Active() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing
}

// Subscription is the local snapshot of a provider subscription
type Subscription struct {
	ID                   string             `json:"id"`
	ReferenceID          string             `json:"reference_id"`
	CustomerType         string             `json:"customer_type"`
	Plan                 string             `json:"plan"`
	Status               SubscriptionStatus `json:"status"`
	PeriodStart          *time.Time         `json:"period_start,omitempty"`
	PeriodEnd            *time.Time         `json:"period_end,omitempty"`
	StripeCustomerID     string             `json:"-"`
	StripeSubscriptionID string             `json:"-"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// HasActiveSubscription is the named predicate behind "subscribed":
// true iff at least one subscription in the list is in an active state.
func HasActiveSubscription(subs []*Subscription) bool {
	for _, sub := range subs {
		if sub.Status.Active() {
			return true
		}
	}
	return false
}

// AuthorizeReferenceFunc decides whether a user may mutate subscriptions
// of the referenced organization. It answers explicit true or false and
// is the single enforcement point for subscription mutations.
type AuthorizeReferenceFunc func(ctx context.Context, userID, referenceID string) bool

// Provider is the payment provider surface used by the gate and handlers
type Provider interface {
	// ListSubscriptions reads the local snapshot for a reference
	ListSubscriptions(ctx context.Context, referenceID string) ([]*Subscription, error)
	// Subscribe starts a checkout for a plan and returns the URL the
	// user must visit to confirm payment
	Subscribe(ctx context.Context, userID, referenceID, plan string) (string, error)
	// Cancel opens the provider portal for cancelling a subscription and
	// returns its URL
	Cancel(ctx context.Context, userID, referenceID, subscriptionID string) (string, error)
}
