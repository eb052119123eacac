package gate

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betterorg/betterorg/pkg/auth"
	"github.com/betterorg/betterorg/pkg/billing"
	"github.com/betterorg/betterorg/pkg/observability"
	"github.com/betterorg/betterorg/pkg/orgs"
)

type mockSessions struct {
	sessions map[string]*auth.Session
	err      error
}

func (m *mockSessions) Get(ctx context.Context, token string) (*auth.Session, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.sessions[token], nil
}

type mockMemberships struct {
	orgs        map[string]*orgs.Organization
	members     map[string]*orgs.Member // key: orgID + "/" + userID
	userOrgs    map[string][]*orgs.Organization
	getOrgCalls int
}

func (m *mockMemberships) GetOrganization(ctx context.Context, id string) (*orgs.Organization, error) {
	m.getOrgCalls++
	if org, ok := m.orgs[id]; ok {
		return org, nil
	}
	return nil, orgs.ErrNotFound
}

func (m *mockMemberships) ListOrganizationsForUser(ctx context.Context, userID string) ([]*orgs.Organization, error) {
	return m.userOrgs[userID], nil
}

func (m *mockMemberships) GetMember(ctx context.Context, orgID, userID string) (*orgs.Member, error) {
	if member, ok := m.members[orgID+"/"+userID]; ok {
		return member, nil
	}
	return nil, orgs.ErrNotMember
}

type mockProvider struct {
	subs         map[string][]*billing.Subscription
	subscribeURL string
	cancelURL    string
	err          error
	subscribed   []string
}

func (m *mockProvider) ListSubscriptions(ctx context.Context, referenceID string) ([]*billing.Subscription, error) {
	return m.subs[referenceID], nil
}

func (m *mockProvider) Subscribe(ctx context.Context, userID, referenceID, plan string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.subscribed = append(m.subscribed, referenceID+":"+plan)
	return m.subscribeURL, nil
}

func (m *mockProvider) Cancel(ctx context.Context, userID, referenceID, subscriptionID string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.cancelURL, nil
}

func newTestGate(t *testing.T, sessions *mockSessions, memberships *mockMemberships, provider *mockProvider) *Gate {
	t.Helper()
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	g, err := NewGate(sessions, memberships, provider, 16, logger, metrics)
	require.NoError(t, err)
	return g
}

func fixtures() (*mockSessions, *mockMemberships, *mockProvider) {
	org := &orgs.Organization{ID: "org-1", Name: "Acme", Slug: "acme"}
	sessions := &mockSessions{sessions: map[string]*auth.Session{
		"token-owner":  {UserID: "owner-user", Email: "owner@acme.co"},
		"token-member": {UserID: "member-user", Email: "member@acme.co"},
		"token-lonely": {UserID: "lonely-user", Email: "lonely@example.com"},
	}}
	memberships := &mockMemberships{
		orgs: map[string]*orgs.Organization{"org-1": org},
		members: map[string]*orgs.Member{
			"org-1/owner-user":  {OrganizationID: "org-1", UserID: "owner-user", Role: orgs.RoleOwner},
			"org-1/member-user": {OrganizationID: "org-1", UserID: "member-user", Role: orgs.RoleMember},
		},
		userOrgs: map[string][]*orgs.Organization{
			"owner-user":  {org},
			"member-user": {org},
		},
	}
	provider := &mockProvider{
		subs: map[string][]*billing.Subscription{
			"org-1": {{ID: "sub-1", ReferenceID: "org-1", Status: billing.SubscriptionStatusActive, Plan: "pro"}},
		},
		subscribeURL: "https://checkout.example.com/cs_1",
		cancelURL:    "https://portal.example.com/ps_1",
	}
	return sessions, memberships, provider
}

func TestResolveIdentity(t *testing.T) {
	sessions, memberships, provider := fixtures()
	g := newTestGate(t, sessions, memberships, provider)
	ctx := context.Background()

	identity, err := g.ResolveIdentity(ctx, "token-owner")
	require.NoError(t, err)
	require.NotNil(t, identity)
	assert.Equal(t, "owner-user", identity.UserID)

	// Empty and unknown tokens resolve to nil, not to an error
	identity, err = g.ResolveIdentity(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, identity)

	identity, err = g.ResolveIdentity(ctx, "token-unknown")
	require.NoError(t, err)
	assert.Nil(t, identity)
}

func TestResolveIdentityStoreFailure(t *testing.T) {
	sessions, memberships, provider := fixtures()
	sessions.err = errors.New("redis down")
	g := newTestGate(t, sessions, memberships, provider)

	_, err := g.ResolveIdentity(context.Background(), "token-owner")
	require.Error(t, err)
}

func TestListAccessibleOrganizations(t *testing.T) {
	sessions, memberships, provider := fixtures()
	g := newTestGate(t, sessions, memberships, provider)
	ctx := context.Background()

	list, err := g.ListAccessibleOrganizations(ctx, &auth.Identity{UserID: "owner-user"})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	// A fresh user gets an empty list, not an error
	list, err = g.ListAccessibleOrganizations(ctx, &auth.Identity{UserID: "lonely-user"})
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = g.ListAccessibleOrganizations(ctx, nil)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestAuthorizeOrganizationViewUnauthenticated(t *testing.T) {
	sessions, memberships, provider := fixtures()
	g := newTestGate(t, sessions, memberships, provider)

	_, err := g.AuthorizeOrganizationView(context.Background(), nil, "org-1")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestAuthorizeOrganizationViewNoMembership(t *testing.T) {
	sessions, memberships, provider := fixtures()
	g := newTestGate(t, sessions, memberships, provider)

	_, err := g.AuthorizeOrganizationView(context.Background(), &auth.Identity{UserID: "lonely-user"}, "org-1")
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestAuthorizeOrganizationViewSubscribed(t *testing.T) {
	sessions, memberships, provider := fixtures()
	g := newTestGate(t, sessions, memberships, provider)

	view, err := g.AuthorizeOrganizationView(context.Background(), &auth.Identity{UserID: "member-user"}, "org-1")
	require.NoError(t, err)
	assert.Equal(t, "org-1", view.Organization.ID)
	assert.Len(t, view.Subscriptions, 1)
	assert.True(t, view.Subscribed)
}

func TestAuthorizeOrganizationViewNotSubscribed(t *testing.T) {
	sessions, memberships, provider := fixtures()
	provider.subs["org-1"] = []*billing.Subscription{
		{ID: "sub-1", ReferenceID: "org-1", Status: billing.SubscriptionStatusCanceled},
	}
	g := newTestGate(t, sessions, memberships, provider)

	view, err := g.AuthorizeOrganizationView(context.Background(), &auth.Identity{UserID: "member-user"}, "org-1")
	require.NoError(t, err)
	assert.False(t, view.Subscribed)
	assert.Len(t, view.Subscriptions, 1)
}

func TestAuthorizeOrganizationViewCachesDisplayRecord(t *testing.T) {
	sessions, memberships, provider := fixtures()
	g := newTestGate(t, sessions, memberships, provider)
	ctx := context.Background()
	identity := &auth.Identity{UserID: "member-user"}

	_, err := g.AuthorizeOrganizationView(ctx, identity, "org-1")
	require.NoError(t, err)
	_, err = g.AuthorizeOrganizationView(ctx, identity, "org-1")
	require.NoError(t, err)

	assert.Equal(t, 1, memberships.getOrgCalls)

	g.InvalidateOrganization("org-1")
	_, err = g.AuthorizeOrganizationView(ctx, identity, "org-1")
	require.NoError(t, err)
	assert.Equal(t, 2, memberships.getOrgCalls)
}

func TestAuthorizeSubscriptionMutationSubscribe(t *testing.T) {
	sessions, memberships, provider := fixtures()
	g := newTestGate(t, sessions, memberships, provider)

	url, err := g.AuthorizeSubscriptionMutation(context.Background(),
		&auth.Identity{UserID: "owner-user"}, "org-1", ActionSubscribe, "pro")
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.example.com/cs_1", url)
	assert.Equal(t, []string{"org-1:pro"}, provider.subscribed)
}

func TestAuthorizeSubscriptionMutationCancel(t *testing.T) {
	sessions, memberships, provider := fixtures()
	g := newTestGate(t, sessions, memberships, provider)

	url, err := g.AuthorizeSubscriptionMutation(context.Background(),
		&auth.Identity{UserID: "owner-user"}, "org-1", ActionCancel, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "https://portal.example.com/ps_1", url)
}

func TestAuthorizeSubscriptionMutationUnauthenticated(t *testing.T) {
	sessions, memberships, provider := fixtures()
	g := newTestGate(t, sessions, memberships, provider)

	_, err := g.AuthorizeSubscriptionMutation(context.Background(), nil, "org-1", ActionSubscribe, "pro")
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Empty(t, provider.subscribed)
}

func TestAuthorizeSubscriptionMutationNoMembership(t *testing.T) {
	sessions, memberships, provider := fixtures()
	g := newTestGate(t, sessions, memberships, provider)

	_, err := g.AuthorizeSubscriptionMutation(context.Background(),
		&auth.Identity{UserID: "lonely-user"}, "org-1", ActionSubscribe, "pro")
	assert.ErrorIs(t, err, ErrAccessDenied)
	assert.Empty(t, provider.subscribed)
}

func TestAuthorizeSubscriptionMutationRoleRejectionPassesThrough(t *testing.T) {
	sessions, memberships, provider := fixtures()
	provider.err = billing.ErrNotAuthorized
	g := newTestGate(t, sessions, memberships, provider)

	// Membership exists, so the gate lets the call through; the provider's
	// authorization callback rejects it.
	_, err := g.AuthorizeSubscriptionMutation(context.Background(),
		&auth.Identity{UserID: "member-user"}, "org-1", ActionSubscribe, "pro")
	assert.ErrorIs(t, err, billing.ErrNotAuthorized)
}

func TestAuthorizeSubscriptionMutationProviderFailurePassesThrough(t *testing.T) {
	sessions, memberships, provider := fixtures()
	provider.err = billing.ErrProviderUnavailable
	g := newTestGate(t, sessions, memberships, provider)

	_, err := g.AuthorizeSubscriptionMutation(context.Background(),
		&auth.Identity{UserID: "owner-user"}, "org-1", ActionSubscribe, "pro")
	assert.ErrorIs(t, err, billing.ErrProviderUnavailable)
}

func TestAuthorizeSubscriptionMutationUnknownAction(t *testing.T) {
	sessions, memberships, provider := fixtures()
	g := newTestGate(t, sessions, memberships, provider)

	_, err := g.AuthorizeSubscriptionMutation(context.Background(),
		&auth.Identity{UserID: "owner-user"}, "org-1", Action("upgrade-all"), "pro")
	require.Error(t, err)
}
