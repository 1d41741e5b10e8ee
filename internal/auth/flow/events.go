package flow

import (
	"context"
	"sync"
	"time"
)

type Kind string

const (
	KindLinkBuilt      Kind = "link_built"
	KindLoginFailed    Kind = "login_failed"
	KindLoginSucceeded Kind = "login_succeeded"
)

// Event is published by the controller at the edges of a flow.
type Event interface {
	Kind() Kind
}

// LinkBuilt fires once an authorization URL has been produced.
type LinkBuilt struct {
	Provider         string    `json:"provider"`
	AuthorizationURL string    `json:"authorization_url"`
	Scopes           []string  `json:"scopes"`
	At               time.Time `json:"at"`
}

type LoginFailed struct {
	Provider string    `json:"provider"`
	Reason   Reason    `json:"reason"`
	Security bool      `json:"security"`
	Detail   string    `json:"detail,omitempty"`
	ClientIP string    `json:"client_ip,omitempty"`
	At       time.Time `json:"at"`
}

type LoginSucceeded struct {
	Provider  string    `json:"provider"`
	AccountID string    `json:"account_id"`
	ClientIP  string    `json:"client_ip,omitempty"`
	At        time.Time `json:"at"`
}

func (LinkBuilt) Kind() Kind      { return KindLinkBuilt }
func (LoginFailed) Kind() Kind    { return KindLoginFailed }
func (LoginSucceeded) Kind() Kind { return KindLoginSucceeded }

type Handler func(ctx context.Context, e Event)

// Bus delivers events synchronously to handlers in registration order.
// A nil *Bus drops everything.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind][]Handler
	all      []Handler
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[Kind][]Handler)}
}

// Subscribe registers h for one event kind.
func (b *Bus) Subscribe(kind Kind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

// SubscribeAll registers h for every kind.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

func (b *Bus) Publish(ctx context.Context, e Event) {
	if b == nil || e == nil {
		return
	}

	b.mu.RLock()
	hs := make([]Handler, 0, len(b.handlers[e.Kind()])+len(b.all))
	hs = append(hs, b.handlers[e.Kind()]...)
	hs = append(hs, b.all...)
	b.mu.RUnlock()

	for _, h := range hs {
		h(ctx, e)
	}
}
