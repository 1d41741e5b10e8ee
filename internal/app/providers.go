package app

import (
	"context"
	"net/http"

	"social-login-service/internal/auth/provider"
	"social-login-service/internal/auth/provider/facebook"
	"social-login-service/internal/auth/provider/google"
	"social-login-service/internal/auth/provider/keycloak"
	"social-login-service/internal/config"
	"social-login-service/internal/logger"
)

// setupProviders builds the registry. Facebook is required; Google and
// Keycloak are registered only when configured.
func setupProviders(ctx context.Context, cfg config.Config) (*provider.Registry, error) {
	httpClient := &http.Client{Timeout: cfg.ProviderTimeout}

	fb, err := facebook.New(
		cfg.FacebookAppID,
		cfg.FacebookAppSecret,
		facebook.WithGraphVersion(cfg.FacebookGraphVersion),
		facebook.WithScopes(cfg.FacebookScopes),
		facebook.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, err
	}
	clients := []provider.Client{fb}

	if cfg.GoogleClientID != "" {
		g, err := google.New(ctx, cfg.GoogleClientID, cfg.GoogleClientSecret, httpClient)
		if err != nil {
			return nil, err
		}
		clients = append(clients, g)
	}

	if cfg.KeycloakIssuer != "" {
		kc, err := keycloak.New(ctx, cfg.KeycloakIssuer, cfg.KeycloakClientID, cfg.KeycloakPublicBaseURL, httpClient)
		if err != nil {
			return nil, err
		}
		clients = append(clients, kc)
	}

	registry := provider.NewRegistry(clients...)
	logger.Info("oauth providers registered", map[string]any{
		"providers": registry.Names(),
	})
	return registry, nil
}
