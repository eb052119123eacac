package sso

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/betterorg/betterorg/pkg/config"
	"github.com/betterorg/betterorg/pkg/observability"
)

// StateCookieName carries the anti-forgery state between the redirect to
// the identity provider and the callback
const StateCookieName = "betterorg_sso_state"

// Claims holds the identity fields extracted from a verified ID token
type Claims struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

// Provider implements OpenID Connect sign-in against a single configured
// identity provider
type Provider struct {
	verifier     *oidc.IDTokenVerifier
	oauth2Config *oauth2.Config
	logger       *observability.Logger
}

// NewProvider discovers the identity provider's endpoints and prepares
// token verification
func NewProvider(ctx context.Context, cfg config.SSOConfig, logger *observability.Logger) (*Provider, error) {
	if cfg.IssuerURL == "" {
		return nil, fmt.Errorf("issuer URL is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID: cfg.ClientID,
	})

	oauth2Config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  cfg.RedirectURL,
		Scopes:       cfg.Scopes,
	}

	return &Provider{
		verifier:     verifier,
		oauth2Config: oauth2Config,
		logger:       logger,
	}, nil
}

// AuthCodeURL builds the authorization URL to redirect the browser to
func (p *Provider) AuthCodeURL(state string) string {
	return p.oauth2Config.AuthCodeURL(state)
}

// Exchange trades the callback's authorization code for a verified
// identity. The email claim is required since email is the account key.
func (p *Provider) Exchange(ctx context.Context, code string) (*Claims, error) {
	if code == "" {
		return nil, fmt.Errorf("missing authorization code")
	}

	oauth2Token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("missing id_token in response")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}
	if claims.Subject == "" {
		claims.Subject = idToken.Subject
	}
	if claims.Email == "" {
		return nil, fmt.Errorf("missing email in ID token")
	}

	return &claims, nil
}

// GenerateState returns an unguessable value for the OAuth2 state
// parameter
func GenerateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return hex.EncodeToString(b), nil
}
