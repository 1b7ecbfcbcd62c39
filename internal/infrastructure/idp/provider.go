// Package idp adapts an OpenID Connect provider (Keycloak) to the session domain.
// It performs discovery, the authorization-code + PKCE flow, refresh grants and builds end-session URLs.
package idp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"

	"github.com/turtacn/portal-gateway/internal/domain/models"
	"github.com/turtacn/portal-gateway/internal/domain/service"
	"github.com/turtacn/portal-gateway/pkg/logger"
)

var _ service.IdentityProvider = (*Provider)(nil)

// Config holds the OIDC client registration.
type Config struct {
	IssuerURL             string
	ClientID              string
	ClientSecret          string
	RedirectURL           string
	PostLogoutRedirectURL string
	Scopes                []string
	// HTTPClient is used for discovery, JWKS and token calls; nil uses a 10s-timeout client.
	HTTPClient *http.Client
}

// Provider talks to the identity provider.
type Provider struct {
	oauth      *oauth2.Config
	verifier   *oidc.IDTokenVerifier
	endSession string
	postLogout string
	clientID   string
	httpClient *http.Client
	logger     logger.Logger
}

// NewProvider runs discovery against the issuer and prepares the OAuth2 client.
func NewProvider(ctx context.Context, cfg Config, log logger.Logger) (*Provider, error) {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	discovered, err := oidc.NewProvider(oidc.ClientContext(ctx, httpClient), cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("OIDC discovery failed: %w", err)
	}

	var extra struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := discovered.Claims(&extra); err != nil {
		return nil, fmt.Errorf("failed to parse discovery document: %w", err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	log.Info(ctx, "OIDC provider discovered",
		logger.String("issuer", cfg.IssuerURL),
		logger.Bool("end_session_supported", extra.EndSessionEndpoint != ""),
	)

	return &Provider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     discovered.Endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
		},
		verifier:   discovered.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		endSession: extra.EndSessionEndpoint,
		postLogout: cfg.PostLogoutRedirectURL,
		clientID:   cfg.ClientID,
		httpClient: httpClient,
		logger:     log.WithComponent("idp"),
	}, nil
}

// AuthCodeURL builds the authorization URL with an S256 PKCE challenge.
func (p *Provider) AuthCodeURL(state, verifier string) string {
	return p.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

// Exchange trades the authorization code for tokens and verifies the ID token.
func (p *Provider) Exchange(ctx context.Context, code, verifier string) (*models.TokenSet, error) {
	ctx = p.clientContext(ctx)

	token, err := p.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, classify("code exchange", err)
	}

	ts := toTokenSet(token)
	if ts.IDToken != "" {
		if _, err := p.verifier.Verify(ctx, ts.IDToken); err != nil {
			return nil, fmt.Errorf("ID token verification failed: %w", err)
		}
	}
	return ts, nil
}

// Refresh performs a refresh_token grant.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*models.TokenSet, error) {
	ctx = p.clientContext(ctx)

	token, err := p.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, classify("refresh", err)
	}
	return toTokenSet(token), nil
}

// EndSessionURL returns the provider logout URL, or "" if the provider has none.
func (p *Provider) EndSessionURL(idTokenHint string) string {
	if p.endSession == "" {
		return ""
	}

	params := url.Values{}
	params.Set("client_id", p.clientID)
	if idTokenHint != "" {
		params.Set("id_token_hint", idTokenHint)
	}
	if p.postLogout != "" {
		params.Set("post_logout_redirect_uri", p.postLogout)
	}
	return p.endSession + "?" + params.Encode()
}

func (p *Provider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

func toTokenSet(token *oauth2.Token) *models.TokenSet {
	ts := &models.TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.Type(),
		Expiry:       token.Expiry,
	}
	if idToken, ok := token.Extra("id_token").(string); ok {
		ts.IDToken = idToken
	}
	return ts
}

// classify maps provider rejections of the grant to service.ErrGrantRejected.
func classify(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.ErrorCode == "invalid_grant" {
		return fmt.Errorf("%s: %w: %s", op, service.ErrGrantRejected, re.ErrorDescription)
	}
	return fmt.Errorf("%s failed: %w", op, err)
}
