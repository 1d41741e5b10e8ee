package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"social-login-service/internal/account"
	"social-login-service/internal/auth/flow"
	"social-login-service/internal/logger"
)

const (
	DefaultTTL    = 24 * time.Hour
	PersistentTTL = 30 * 24 * time.Hour
)

// Issuer turns a resolved account into a browser session.
type Issuer struct {
	store         Store
	cookie        CookieOptions
	ttl           time.Duration
	persistentTTL time.Duration
	now           func() time.Time
}

var _ flow.SessionIssuer = (*Issuer)(nil)

type IssuerOption func(*Issuer)

func WithTTL(ttl, persistent time.Duration) IssuerOption {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
		if persistent > 0 {
			i.persistentTTL = persistent
		}
	}
}

func WithIssuerClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) {
		i.now = now
	}
}

func NewIssuer(store Store, cookie CookieOptions, opts ...IssuerOption) *Issuer {
	i := &Issuer{
		store:         store,
		cookie:        cookie,
		ttl:           DefaultTTL,
		persistentTTL: PersistentTTL,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// LogIn creates a session for acct and sets the cookie. Any session the
// browser already carried is dropped first.
func (i *Issuer) LogIn(ctx context.Context, acct *account.Account, persistent bool, rc flow.RequestContext) error {
	if acct == nil || acct.ID == "" {
		return errors.New("session: account has no id")
	}
	if rc.Writer == nil {
		return errors.New("session: no response writer")
	}

	if rc.Request != nil {
		if old, err := rc.Request.Cookie(CookieName); err == nil && old.Value != "" {
			_ = i.store.Delete(ctx, old.Value)
		}
	}

	sessionID, err := GenerateID()
	if err != nil {
		return err
	}

	now := i.now()
	ttl := i.ttl
	if persistent {
		ttl = i.persistentTTL
	}
	expiresAt := now.Add(ttl)

	err = i.store.Create(ctx, Session{
		SessionID:  sessionID,
		UserID:     acct.ID,
		Provider:   acct.Provider,
		Persistent: persistent,
		CreatedAt:  now,
		ExpiresAt:  expiresAt,
	})
	if err != nil {
		return fmt.Errorf("session: failed to persist: %w", err)
	}

	cookieExpiry := time.Time{}
	if persistent {
		cookieExpiry = expiresAt
	}
	SetCookie(rc.Writer, sessionID, cookieExpiry, i.cookie)

	logger.Info("session issued", map[string]any{
		"user_id":    acct.ID,
		"provider":   acct.Provider,
		"persistent": persistent,
	})
	return nil
}

// LogOut deletes the session named by the request cookie, if any, and
// clears the cookie. It is idempotent.
func (i *Issuer) LogOut(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		if err := i.store.Delete(ctx, cookie.Value); err != nil {
			logger.Warn("session delete failed", map[string]any{
				"error": err.Error(),
			})
		}
	}
	ClearCookie(w, i.cookie)
}
