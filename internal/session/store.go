package session

import (
	"context"
	"time"
)

// Session represents an authenticated user session.
// It stores identity pointers only, never provider tokens.
type Session struct {
	SessionID  string    `json:"session_id"`
	UserID     string    `json:"user_id"` // references users.id
	Provider   string    `json:"provider,omitempty"`
	Persistent bool      `json:"persistent"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"` // absolute expiry time
}

// Store defines how sessions are stored and retrieved.
// Get returns nil, nil for unknown or expired sessions.
type Store interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, sessionID string) (*Session, error)
	Delete(ctx context.Context, sessionID string) error
}
