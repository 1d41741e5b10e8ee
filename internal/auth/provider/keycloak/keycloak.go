package keycloak

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"social-login-service/internal/auth/provider/oidc"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

const providerName = "keycloak"

// New initializes a Keycloak OIDC client using discovery.
// issuer must be the realm issuer URL as seen from this service, e.g.
// http://keycloak:8080/realms/main. When the browser reaches Keycloak on
// a different origin, publicBaseURL replaces the issuer origin in the
// authorize endpoint only.
func New(
	ctx context.Context,
	issuer string,
	clientID string,
	publicBaseURL string,
	httpClient *http.Client,
) (*oidc.Client, error) {

	if issuer == "" || clientID == "" {
		return nil, errors.New("keycloak oauth config missing required fields")
	}

	var endpoint oauth2.Endpoint
	if publicBaseURL != "" {
		authURL, err := publicAuthURL(issuer, publicBaseURL)
		if err != nil {
			return nil, err
		}
		endpoint.AuthURL = authURL
	}

	return oidc.Discover(ctx, issuer, oidc.Config{
		Name:     providerName,
		ClientID: clientID,
		Endpoint: endpoint,
		Scopes: []string{
			gooidc.ScopeOpenID,
			"email",
			"profile",
		},
	}, httpClient)
}

func publicAuthURL(issuer, publicBaseURL string) (string, error) {
	u, err := url.Parse(issuer)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("keycloak issuer %q is not an absolute URL", issuer)
	}
	return strings.TrimRight(publicBaseURL, "/") + strings.TrimRight(u.Path, "/") + "/protocol/openid-connect/auth", nil
}
