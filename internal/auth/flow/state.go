package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ErrStateNotFound is returned when no pending flow exists for a key,
// either because it was never started, already consumed, or expired.
var ErrStateNotFound = errors.New("flow: state not found")

// State is what survives the round trip to the provider.
type State struct {
	Key          string    `json:"key"`
	Nonce        string    `json:"nonce"`
	Provider     string    `json:"provider"`
	BackURL      string    `json:"back_url,omitempty"`
	FormName     string    `json:"form_name,omitempty"`
	CodeVerifier string    `json:"code_verifier,omitempty"`
	Persistent   bool      `json:"persistent,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// StateStore keeps pending flows between start and callback.
// Take must remove the state it returns so a callback cannot be replayed.
type StateStore interface {
	Save(ctx context.Context, s State, ttl time.Duration) error
	Take(ctx context.Context, key string) (*State, error)
}

type RedisStateStore struct {
	client *goredis.Client
	prefix string
}

func NewRedisStateStore(client *goredis.Client) *RedisStateStore {
	return &RedisStateStore{
		client: client,
		prefix: "oauth_flow:",
	}
}

func (r *RedisStateStore) key(k string) string {
	return r.prefix + k
}

func (r *RedisStateStore) Save(ctx context.Context, s State, ttl time.Duration) error {
	if s.Key == "" || s.Nonce == "" {
		return fmt.Errorf("flow: missing key or nonce")
	}
	if ttl <= 0 {
		return fmt.Errorf("flow: ttl must be positive")
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("flow: failed to marshal state: %w", err)
	}
	return r.client.Set(ctx, r.key(s.Key), data, ttl).Err()
}

func (r *RedisStateStore) Take(ctx context.Context, key string) (*State, error) {
	if key == "" {
		return nil, ErrStateNotFound
	}

	val, err := r.client.GetDel(ctx, r.key(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("flow: load state: %w", err)
	}

	var s State
	if err := json.Unmarshal([]byte(val), &s); err != nil {
		return nil, fmt.Errorf("flow: failed to unmarshal state: %w", err)
	}
	return &s, nil
}
