package provider

import (
	"context"

	"social-login-service/internal/auth"
)

// Callback carries what the provider sent back to the callback endpoint,
// plus the values this service bound to the authorization request.
type Callback struct {
	Code             string
	AccessToken      string
	Error            string
	ErrorReason      string
	ErrorDescription string

	RedirectURI  string // must equal the redirect_uri of the authorization request
	CodeVerifier string // PKCE verifier, empty when the provider does not use PKCE
}

// Denied reports whether the provider attached an error to the callback.
func (c Callback) Denied() bool {
	return c.Error != "" || c.ErrorReason != "" || c.ErrorDescription != ""
}

// Client defines the contract every external identity provider must
// implement. Implementations return tokens and identity facts only and
// must not perform account creation, linking, or session management.
type Client interface {
	// Name returns the provider identifier (e.g. "facebook", "google").
	Name() string

	// AppID is the application id tokens must be minted for.
	AppID() string

	// DefaultScopes are requested when the caller supplies none.
	DefaultScopes() []string

	// AuthorizationURL returns the provider's authorize URL. It is a pure
	// function of its arguments.
	AuthorizationURL(returnURL string, scopes []string, state string, codeChallenge string) string

	// ExchangeCode turns the callback's authorization code into an access
	// token. Fails with auth.ErrProviderDenied, auth.ErrInvalidCallback or
	// auth.ErrProvider.
	ExchangeCode(ctx context.Context, cb Callback) (auth.AccessToken, error)

	// UpgradeToLongLived returns token unchanged when it is already
	// long-lived, otherwise the provider's long-lived replacement.
	UpgradeToLongLived(ctx context.Context, token auth.AccessToken) (auth.AccessToken, error)

	// FetchTokenMetadata returns the provider's introspection of token.
	FetchTokenMetadata(ctx context.Context, token auth.AccessToken) (auth.TokenMetadata, error)

	// FetchIdentity returns the minimal profile claims for token.
	FetchIdentity(ctx context.Context, token auth.AccessToken) (auth.Identity, error)
}
