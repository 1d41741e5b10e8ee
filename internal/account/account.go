package account

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("account: not found")

	// ErrConflict is returned when a write would break one of the store's
	// uniqueness constraints (provider identity or email). Callers racing
	// on the same identity should re-read instead of failing.
	ErrConflict = errors.New("account: uniqueness conflict")

	// ErrAlreadyLinked is returned when a save would re-point an account's
	// existing link for a provider to a different provider user.
	ErrAlreadyLinked = errors.New("account: already linked to another provider user")
)

// Account is the durable local user record together with its link to one
// provider identity. An account found by email alone has no link yet.
type Account struct {
	ID        string
	Email     string
	FirstName string
	LastName  string

	Provider             string
	ProviderUserID       string
	ProviderToken        string
	ProviderTokenExpires time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Linked reports whether the account carries a provider identity.
func (a *Account) Linked() bool {
	return a.Provider != "" && a.ProviderUserID != ""
}

// CanResetPassword is false for accounts that sign in through a provider;
// they have no local password to recover.
func (a *Account) CanResetPassword() bool {
	return a.ProviderToken == ""
}

// Store reads and writes accounts. Implementations must enforce that a
// (provider, provider user id) pair belongs to at most one account and
// that a non-empty email (case-insensitive) belongs to at most one account.
type Store interface {
	FindByProviderUserID(ctx context.Context, provider, providerUserID string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)

	// FindByID loads an account with its most recently used provider link,
	// if it has one.
	FindByID(ctx context.Context, id string) (*Account, error)

	// Create inserts a new account and its provider link, filling ID and
	// timestamps.
	Create(ctx context.Context, a *Account) error

	// Save updates profile fields and upserts the provider link. It never
	// replaces a link to a different provider user.
	Save(ctx context.Context, a *Account) error
}
