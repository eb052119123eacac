package gate

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/betterorg/betterorg/pkg/auth"
	"github.com/betterorg/betterorg/pkg/billing"
	"github.com/betterorg/betterorg/pkg/observability"
	"github.com/betterorg/betterorg/pkg/orgs"
)

var (
	// ErrUnauthenticated means no valid session was presented; handlers
	// redirect to login
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrAccessDenied means the identity has no membership in the target
	// organization; handlers redirect to onboarding
	ErrAccessDenied = errors.New("access denied")
)

// Action is a subscription mutation kind
type Action string

const (
	ActionSubscribe Action = "subscribe"
	ActionCancel    Action = "cancel"
)

// SessionResolver resolves a session token to a session, nil when none
type SessionResolver interface {
	Get(ctx context.Context, token string) (*auth.Session, error)
}

// MembershipStore is the organization lookup surface the gate needs
type MembershipStore interface {
	GetOrganization(ctx context.Context, id string) (*orgs.Organization, error)
	ListOrganizationsForUser(ctx context.Context, userID string) ([]*orgs.Organization, error)
	GetMember(ctx context.Context, orgID, userID string) (*orgs.Member, error)
}

// OrgView is the authorized read model for an organization page
type OrgView struct {
	Organization  *orgs.Organization      `json:"organization"`
	Subscriptions []*billing.Subscription `json:"subscriptions"`
	Subscribed    bool                    `json:"subscribed"`
}

// Gate wires session resolution, membership checks and subscription state
// into one decision point.
type Gate struct {
	sessions    SessionResolver
	memberships MembershipStore
	provider    billing.Provider
	orgCache    *lru.Cache[string, *orgs.Organization]
	logger      *observability.Logger
	metrics     *observability.Metrics
}

// NewGate creates a new gate. cacheSize bounds the display-only
// organization cache; authorization decisions never read it.
func NewGate(sessions SessionResolver, memberships MembershipStore, provider billing.Provider, cacheSize int, logger *observability.Logger, metrics *observability.Metrics) (*Gate, error) {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New[string, *orgs.Organization](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create org cache: %w", err)
	}
	return &Gate{
		sessions:    sessions,
		memberships: memberships,
		provider:    provider,
		orgCache:    cache,
		logger:      logger,
		metrics:     metrics,
	}, nil
}

// ResolveIdentity turns a session token into an identity. An empty,
// malformed, unknown or expired token resolves to nil with no error;
// absence of identity is normal control flow.
func (g *Gate) ResolveIdentity(ctx context.Context, token string) (*auth.Identity, error) {
	if token == "" {
		return nil, nil
	}

	session, err := g.sessions.Get(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}
	if session == nil {
		return nil, nil
	}

	return &auth.Identity{
		UserID: session.UserID,
		Email:  session.Email,
	}, nil
}

// ListAccessibleOrganizations lists every organization the identity is a
// member of. An empty slice is a valid result for a fresh user.
func (g *Gate) ListAccessibleOrganizations(ctx context.Context, identity *auth.Identity) ([]*orgs.Organization, error) {
	if identity == nil {
		return nil, ErrUnauthenticated
	}
	return g.memberships.ListOrganizationsForUser(ctx, identity.UserID)
}

// AuthorizeOrganizationView authorizes a read of one organization. The
// decision is membership existence; the subscription snapshot rides along
// for display but never influences whether the view is allowed.
func (g *Gate) AuthorizeOrganizationView(ctx context.Context, identity *auth.Identity, orgID string) (*OrgView, error) {
	if identity == nil {
		g.metrics.GateDecisionsTotal.WithLabelValues("view", "unauthenticated").Inc()
		return nil, ErrUnauthenticated
	}

	if _, err := g.memberships.GetMember(ctx, orgID, identity.UserID); err != nil {
		if errors.Is(err, orgs.ErrNotMember) {
			g.metrics.GateDecisionsTotal.WithLabelValues("view", "denied").Inc()
			return nil, ErrAccessDenied
		}
		return nil, fmt.Errorf("failed to check membership: %w", err)
	}

	org, err := g.getOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}

	subs, err := g.provider.ListSubscriptions(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscriptions: %w", err)
	}

	g.metrics.GateDecisionsTotal.WithLabelValues("view", "allowed").Inc()
	return &OrgView{
		Organization:  org,
		Subscriptions: subs,
		Subscribed:    billing.HasActiveSubscription(subs),
	}, nil
}

// AuthorizeSubscriptionMutation checks membership existence, then
// delegates the mutation to the provider. target is the plan for
// subscribe and the subscription ID for cancel. Role enforcement happens
// inside the provider via its authorization callback; a role rejection
// surfaces as billing.ErrNotAuthorized, untouched.
func (g *Gate) AuthorizeSubscriptionMutation(ctx context.Context, identity *auth.Identity, orgID string, action Action, target string) (string, error) {
	if identity == nil {
		g.metrics.GateDecisionsTotal.WithLabelValues(string(action), "unauthenticated").Inc()
		return "", ErrUnauthenticated
	}

	if _, err := g.memberships.GetMember(ctx, orgID, identity.UserID); err != nil {
		if errors.Is(err, orgs.ErrNotMember) {
			g.metrics.GateDecisionsTotal.WithLabelValues(string(action), "denied").Inc()
			return "", ErrAccessDenied
		}
		return "", fmt.Errorf("failed to check membership: %w", err)
	}

	var redirectURL string
	var err error
	switch action {
	case ActionSubscribe:
		redirectURL, err = g.provider.Subscribe(ctx, identity.UserID, orgID, target)
	case ActionCancel:
		redirectURL, err = g.provider.Cancel(ctx, identity.UserID, orgID, target)
	default:
		return "", fmt.Errorf("unknown subscription action: %s", action)
	}
	if err != nil {
		if errors.Is(err, billing.ErrNotAuthorized) {
			g.metrics.GateDecisionsTotal.WithLabelValues(string(action), "rejected").Inc()
		}
		return "", err
	}

	g.metrics.GateDecisionsTotal.WithLabelValues(string(action), "allowed").Inc()
	return redirectURL, nil
}

// getOrganization reads the display record, caching positive lookups only
func (g *Gate) getOrganization(ctx context.Context, orgID string) (*orgs.Organization, error) {
	if org, ok := g.orgCache.Get(orgID); ok {
		g.metrics.CacheHitsTotal.WithLabelValues("org").Inc()
		return org, nil
	}
	g.metrics.CacheMissesTotal.WithLabelValues("org").Inc()

	org, err := g.memberships.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to load organization: %w", err)
	}

	g.orgCache.Add(orgID, org)
	return org, nil
}

// InvalidateOrganization drops an organization from the display cache
func (g *Gate) InvalidateOrganization(orgID string) {
	g.orgCache.Remove(orgID)
}
