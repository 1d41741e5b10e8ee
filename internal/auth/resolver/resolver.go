package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"social-login-service/internal/account"
	"social-login-service/internal/auth"
	"social-login-service/internal/logger"
)

// ErrLinkConfirmationRequired is returned when a provider identity matches
// an existing account by email but policy forbids linking it silently.
var ErrLinkConfirmationRequired = errors.New("resolver: email matches an existing account, link requires confirmation")

// ErrAccountConflict is returned when the identity collides with another
// account in a way a fresh lookup cannot fix: the email account is already
// linked to a different provider user, or the linked account's new email
// belongs to someone else.
var ErrAccountConflict = errors.New("resolver: identity conflicts with another account")

// Resolver determines which local account an external identity belongs to.
// It is the ONLY place where identity-to-account mapping logic lives.
type Resolver interface {
	Resolve(
		ctx context.Context,
		identity auth.Identity,
		token auth.AccessToken,
		tokenExpiresAt time.Time,
	) (*account.Account, error)
}

// LinkPolicy decides whether an identity may attach itself to an account
// that merely shares its email address.
type LinkPolicy int

const (
	// LinkVerifiedEmail links only when the provider asserts the email
	// is verified.
	LinkVerifiedEmail LinkPolicy = iota
	// LinkNever refuses email-based linking.
	LinkNever
)

// ParseLinkPolicy maps the configuration value onto a LinkPolicy.
func ParseLinkPolicy(s string) (LinkPolicy, error) {
	switch s {
	case "", "verified-email":
		return LinkVerifiedEmail, nil
	case "never":
		return LinkNever, nil
	}
	return 0, fmt.Errorf("resolver: unknown link policy %q", s)
}

const defaultMaxAttempts = 3

// StoreResolver resolves identities against an account.Store.
type StoreResolver struct {
	store       account.Store
	policy      LinkPolicy
	maxAttempts int
}

type Option func(*StoreResolver)

func WithLinkPolicy(p LinkPolicy) Option {
	return func(r *StoreResolver) {
		r.policy = p
	}
}

// WithMaxAttempts bounds how often a conflicting write is retried.
func WithMaxAttempts(n int) Option {
	return func(r *StoreResolver) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

func NewStoreResolver(store account.Store, opts ...Option) *StoreResolver {
	r := &StoreResolver{
		store:       store,
		policy:      LinkVerifiedEmail,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve finds the account by provider identity, then by email, and
// creates one when neither matches. The provider is the source of truth
// for profile and token fields, which are overwritten on every login.
// A write that loses a uniqueness race is retried as a fresh lookup.
func (r *StoreResolver) Resolve(
	ctx context.Context,
	identity auth.Identity,
	token auth.AccessToken,
	tokenExpiresAt time.Time,
) (*account.Account, error) {

	if identity.Provider == "" || identity.ProviderUserID == "" {
		return nil, errors.New("resolver: identity missing provider user id")
	}
	if token.Value == "" {
		return nil, errors.New("resolver: empty access token")
	}

	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		acct, found, err := r.locate(ctx, identity)
		if err != nil {
			return nil, err
		}
		created := found == foundNone

		apply(acct, identity, token, tokenExpiresAt)

		if created {
			err = r.store.Create(ctx, acct)
		} else {
			err = r.store.Save(ctx, acct)
		}

		if err == nil {
			logger.Info("identity resolved", map[string]any{
				"provider":   identity.Provider,
				"account_id": acct.ID,
				"created":    created,
				"attempt":    attempt,
			})
			return acct, nil
		}

		if errors.Is(err, account.ErrAlreadyLinked) {
			return nil, fmt.Errorf("%w: %w", ErrAccountConflict, err)
		}
		if !errors.Is(err, account.ErrConflict) {
			return nil, fmt.Errorf("resolver: persist account: %w", err)
		}
		// the identity lookup would return this same account again
		if found == foundByIdentity {
			return nil, fmt.Errorf("%w: %w", ErrAccountConflict, err)
		}

		lastErr = err
		logger.Warn("account write conflicted, retrying lookup", map[string]any{
			"provider": identity.Provider,
			"attempt":  attempt,
			"error":    err.Error(),
		})
	}

	return nil, fmt.Errorf("resolver: gave up after %d attempts: %w", r.maxAttempts, lastErr)
}

// foundBy records which lookup produced the account.
type foundBy int

const (
	foundNone foundBy = iota
	foundByIdentity
	foundByEmail
)

func (r *StoreResolver) locate(ctx context.Context, identity auth.Identity) (*account.Account, foundBy, error) {
	// 1. Identity lookup (provider + provider_user_id)
	acct, err := r.store.FindByProviderUserID(ctx, identity.Provider, identity.ProviderUserID)
	if err == nil {
		return acct, foundByIdentity, nil
	}
	if !errors.Is(err, account.ErrNotFound) {
		return nil, foundNone, err
	}

	// 2. Email-based linking (existing account, new provider)
	if identity.Email != "" {
		acct, err = r.store.FindByEmail(ctx, identity.Email)
		switch {
		case err == nil:
			if r.policy == LinkNever || !identity.EmailVerified {
				return nil, foundNone, ErrLinkConfirmationRequired
			}
			logger.Info("linking provider identity by email", map[string]any{
				"provider":   identity.Provider,
				"account_id": acct.ID,
			})
			return acct, foundByEmail, nil
		case !errors.Is(err, account.ErrNotFound):
			return nil, foundNone, err
		}
	}

	// 3. New account
	return &account.Account{}, foundNone, nil
}

func apply(acct *account.Account, identity auth.Identity, token auth.AccessToken, expiresAt time.Time) {
	// keep a known email when the provider withheld it this time
	if identity.Email != "" {
		acct.Email = identity.Email
	}
	acct.FirstName = identity.FirstName
	acct.LastName = identity.LastName
	acct.Provider = identity.Provider
	acct.ProviderUserID = identity.ProviderUserID
	acct.ProviderToken = token.Value
	acct.ProviderTokenExpires = expiresAt
}
