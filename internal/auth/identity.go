package auth

import "time"

// Identity represents the verified claims a provider returned for the
// current token. It contains facts only, no decisions.
type Identity struct {
	Provider       string // e.g. "facebook", "google"
	ProviderUserID string // provider-scoped unique user identifier
	Email          string // may be empty when the user withheld it
	EmailVerified  bool   // whether provider asserts email ownership
	FirstName      string
	LastName       string
}

// AccessToken is a provider access token as held by this service.
type AccessToken struct {
	Value       string
	IsLongLived bool
	ExpiresAt   time.Time // zero when the provider did not say

	// IDToken is the raw OIDC ID token, set only by OIDC providers.
	IDToken string
}

// TokenMetadata is the provider's introspection of an access token.
type TokenMetadata struct {
	AppID     string
	UserID    string
	ExpiresAt time.Time
	IsValid   bool
}
