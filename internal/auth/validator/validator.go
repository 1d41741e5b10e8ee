package validator

import (
	"fmt"
	"time"

	"social-login-service/internal/auth"
)

// Validator checks provider token metadata before any identity fetch or
// account mutation is allowed to happen.
type Validator struct {
	now func() time.Time
}

type Option func(*Validator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

func New(opts ...Option) *Validator {
	v := &Validator{now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate returns nil when the token was minted for expectedAppID and has
// not expired. The app id is checked first, then the expiry, then the
// provider's validity flag. Expired tokens also come back flagged invalid,
// so the expiry is looked at before the flag.
func (v *Validator) Validate(meta auth.TokenMetadata, expectedAppID string) error {
	if expectedAppID == "" || meta.AppID != expectedAppID {
		return fmt.Errorf("%w: got app %q", auth.ErrInvalidAppID, meta.AppID)
	}

	// an invalid token with no expiry at all is reported as invalid
	unknownExpiry := meta.ExpiresAt.IsZero() && !meta.IsValid
	if !unknownExpiry && !meta.ExpiresAt.After(v.now()) {
		return fmt.Errorf("%w: at %s", auth.ErrExpired, meta.ExpiresAt.UTC().Format(time.RFC3339))
	}

	if !meta.IsValid || meta.UserID == "" {
		return auth.ErrInvalidToken
	}

	return nil
}
