package auth

import "errors"

// Provider-side failures.
var (
	ErrProviderDenied  = errors.New("provider: user denied authorization")
	ErrInvalidCallback = errors.New("provider: callback missing required parameters")
	ErrProvider        = errors.New("provider: request failed")
)

// Token integrity failures. These may indicate an attack and are never
// retried automatically.
var (
	ErrInvalidAppID = errors.New("token: issued for a different application")
	ErrExpired      = errors.New("token: expired")
	ErrInvalidToken = errors.New("token: rejected by provider")
)

// IsSecurityFailure reports whether err is an integrity failure that must
// be audited rather than offered a retry.
func IsSecurityFailure(err error) bool {
	return errors.Is(err, ErrInvalidAppID) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrInvalidCallback)
}
