package google

import (
	"context"
	"errors"
	"net/http"

	"social-login-service/internal/auth/provider/oidc"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
)

const (
	providerName = "google"
	issuer       = "https://accounts.google.com"
)

// New initializes the Google OIDC client using discovery.
func New(
	ctx context.Context,
	clientID string,
	clientSecret string,
	httpClient *http.Client,
) (*oidc.Client, error) {

	if clientID == "" || clientSecret == "" {
		return nil, errors.New("google oauth config missing required fields")
	}

	return oidc.Discover(ctx, issuer, oidc.Config{
		Name:         providerName,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes: []string{
			gooidc.ScopeOpenID,
			"profile",
			"email",
		},
	}, httpClient)
}
