// Package oidc adapts OpenID Connect providers to provider.Client. Token
// metadata comes from the signature-verified ID token; audience and expiry
// checks are left to the validator.
package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"social-login-service/internal/auth"
	"social-login-service/internal/auth/provider"
	"social-login-service/internal/logger"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// Config describes one OIDC relying-party registration.
type Config struct {
	Name         string
	ClientID     string
	ClientSecret string
	Scopes       []string

	// Endpoint overrides the discovered endpoints when set.
	Endpoint oauth2.Endpoint
}

type Client struct {
	name        string
	clientID    string
	scopes      []string
	oauthConfig *oauth2.Config
	verifier    *gooidc.IDTokenVerifier
	httpClient  *http.Client
}

var _ provider.Client = (*Client)(nil)

// Discover initializes a client from the issuer's discovery document.
func Discover(ctx context.Context, issuer string, cfg Config, httpClient *http.Client) (*Client, error) {
	if issuer == "" || cfg.Name == "" || cfg.ClientID == "" {
		return nil, errors.New("oidc config missing required fields")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	oidcProvider, err := gooidc.NewProvider(gooidc.ClientContext(ctx, httpClient), issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to init %s oidc provider: %w", cfg.Name, err)
	}

	if cfg.Endpoint.AuthURL == "" {
		cfg.Endpoint.AuthURL = oidcProvider.Endpoint().AuthURL
	}
	if cfg.Endpoint.TokenURL == "" {
		cfg.Endpoint.TokenURL = oidcProvider.Endpoint().TokenURL
	}

	return New(cfg, oidcProvider.Verifier(verifierConfig(cfg.ClientID)), httpClient), nil
}

// NewStatic builds a client around fixed endpoints and keys, for issuers
// that are not reachable at startup.
func NewStatic(issuer string, keys gooidc.KeySet, cfg Config, httpClient *http.Client) *Client {
	return New(cfg, gooidc.NewVerifier(issuer, keys, verifierConfig(cfg.ClientID)), httpClient)
}

func New(cfg Config, verifier *gooidc.IDTokenVerifier, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{gooidc.ScopeOpenID, "profile", "email"}
	}
	return &Client{
		name:     cfg.Name,
		clientID: cfg.ClientID,
		scopes:   scopes,
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     cfg.Endpoint,
		},
		verifier:   verifier,
		httpClient: httpClient,
	}
}

func verifierConfig(clientID string) *gooidc.Config {
	return &gooidc.Config{
		ClientID:          clientID,
		SkipClientIDCheck: true,
		SkipExpiryCheck:   true,
	}
}

// Name returns the provider identifier used by the registry.
func (c *Client) Name() string {
	return c.name
}

func (c *Client) AppID() string {
	return c.clientID
}

func (c *Client) DefaultScopes() []string {
	return append([]string(nil), c.scopes...)
}

// AuthorizationURL builds the OAuth authorization URL with PKCE parameters.
func (c *Client) AuthorizationURL(returnURL string, scopes []string, state string, codeChallenge string) string {
	if len(scopes) == 0 {
		scopes = c.scopes
	}
	if !slices.Contains(scopes, gooidc.ScopeOpenID) {
		scopes = append([]string{gooidc.ScopeOpenID}, scopes...)
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.AccessTypeOnline,
		oauth2.SetAuthURLParam("redirect_uri", returnURL),
		oauth2.SetAuthURLParam("scope", strings.Join(scopes, " ")),
	}
	if codeChallenge != "" {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", codeChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		)
	}
	return c.oauthConfig.AuthCodeURL(state, opts...)
}

// ExchangeCode exchanges the authorization code and keeps the raw ID token
// on the returned access token. OIDC has no short/long-lived distinction,
// so tokens are reported long-lived and their own expiry is authoritative.
func (c *Client) ExchangeCode(ctx context.Context, cb provider.Callback) (auth.AccessToken, error) {
	if cb.Denied() {
		return auth.AccessToken{}, fmt.Errorf("%w: %s %s", auth.ErrProviderDenied, cb.Error, cb.ErrorDescription)
	}
	if cb.Code == "" || cb.RedirectURI == "" {
		return auth.AccessToken{}, auth.ErrInvalidCallback
	}

	opts := []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("redirect_uri", cb.RedirectURI)}
	if cb.CodeVerifier != "" {
		opts = append(opts, oauth2.SetAuthURLParam("code_verifier", cb.CodeVerifier))
	}

	token, err := c.oauthConfig.Exchange(context.WithValue(ctx, oauth2.HTTPClient, c.httpClient), cb.Code, opts...)
	if err != nil {
		logger.Error("oidc token exchange failed", map[string]any{
			"provider": c.name,
			"error":    err.Error(),
		})
		return auth.AccessToken{}, fmt.Errorf("%w: %s token exchange: %v", auth.ErrProvider, c.name, err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return auth.AccessToken{}, fmt.Errorf("%w: %s did not return id_token", auth.ErrProvider, c.name)
	}

	return auth.AccessToken{
		Value:       token.AccessToken,
		IsLongLived: true,
		ExpiresAt:   token.Expiry,
		IDToken:     rawIDToken,
	}, nil
}

func (c *Client) UpgradeToLongLived(_ context.Context, token auth.AccessToken) (auth.AccessToken, error) {
	return token, nil
}

func (c *Client) FetchTokenMetadata(ctx context.Context, token auth.AccessToken) (auth.TokenMetadata, error) {
	idToken, err := c.verify(ctx, token)
	if err != nil {
		return auth.TokenMetadata{}, err
	}

	appID := ""
	if slices.Contains(idToken.Audience, c.clientID) {
		appID = c.clientID
	} else if len(idToken.Audience) > 0 {
		appID = idToken.Audience[0]
	}

	return auth.TokenMetadata{
		AppID:     appID,
		UserID:    idToken.Subject,
		ExpiresAt: idToken.Expiry,
		IsValid:   true,
	}, nil
}

func (c *Client) FetchIdentity(ctx context.Context, token auth.AccessToken) (auth.Identity, error) {
	idToken, err := c.verify(ctx, token)
	if err != nil {
		return auth.Identity{}, err
	}

	var claims struct {
		Subject       string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		GivenName     string `json:"given_name"`
		FamilyName    string `json:"family_name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return auth.Identity{}, fmt.Errorf("%w: %s id_token claims parse failed: %v", auth.ErrProvider, c.name, err)
	}
	if claims.Subject == "" {
		return auth.Identity{}, fmt.Errorf("%w: %s id_token missing subject", auth.ErrProvider, c.name)
	}

	logger.Info("oidc claims verified", map[string]any{
		"provider":       c.name,
		"issuer":         idToken.Issuer,
		"email_present":  claims.Email != "",
		"email_verified": claims.EmailVerified,
	})

	return auth.Identity{
		Provider:       c.name,
		ProviderUserID: claims.Subject,
		Email:          claims.Email,
		EmailVerified:  claims.EmailVerified,
		FirstName:      claims.GivenName,
		LastName:       claims.FamilyName,
	}, nil
}

func (c *Client) verify(ctx context.Context, token auth.AccessToken) (*gooidc.IDToken, error) {
	if token.IDToken == "" {
		return nil, fmt.Errorf("%w: %s token carries no id_token", auth.ErrInvalidToken, c.name)
	}
	idToken, err := c.verifier.Verify(gooidc.ClientContext(ctx, c.httpClient), token.IDToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %s id_token verification failed: %v", auth.ErrInvalidToken, c.name, err)
	}
	return idToken, nil
}
