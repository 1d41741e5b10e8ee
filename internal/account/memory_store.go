package account

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryLink struct {
	providerUserID string
	token          string
	expires        time.Time
	updated        time.Time
}

// MemoryStore is a Store kept in process memory. It enforces the same
// uniqueness rules as the Postgres schema.
type MemoryStore struct {
	mu         sync.Mutex
	users      map[string]Account    // profile fields only
	links      map[string]memoryLink // user id + provider -> link
	identities map[string]string     // provider + provider user id -> user id
	emails     map[string]string     // lower(email) -> user id
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[string]Account),
		links:      make(map[string]memoryLink),
		identities: make(map[string]string),
		emails:     make(map[string]string),
		now:        time.Now,
	}
}

func pairKey(a, b string) string {
	return a + "\x00" + b
}

func (s *MemoryStore) FindByProviderUserID(_ context.Context, provider, providerUserID string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.identities[pairKey(provider, providerUserID)]
	if !ok {
		return nil, ErrNotFound
	}
	a := s.users[id]
	l := s.links[pairKey(id, provider)]
	a.Provider = provider
	a.ProviderUserID = l.providerUserID
	a.ProviderToken = l.token
	a.ProviderTokenExpires = l.expires
	return &a, nil
}

func (s *MemoryStore) FindByEmail(_ context.Context, email string) (*Account, error) {
	if email == "" {
		return nil, ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.emails[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	a := s.users[id]
	return &a, nil
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}

	var (
		latest memoryLink
		found  bool
	)
	prefix := pairKey(id, "")
	for key, l := range s.links {
		provider, ok := strings.CutPrefix(key, prefix)
		if !ok {
			continue
		}
		if found && (l.updated.Before(latest.updated) ||
			l.updated.Equal(latest.updated) && provider > a.Provider) {
			continue
		}
		found = true
		latest = l
		a.Provider = provider
	}
	a.ProviderUserID = latest.providerUserID
	a.ProviderToken = latest.token
	a.ProviderTokenExpires = latest.expires
	return &a, nil
}

func (s *MemoryStore) Create(_ context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	if err := s.checkUnique(id, a); err != nil {
		return err
	}

	now := s.now()
	a.ID = id
	a.CreatedAt = now
	a.UpdatedAt = now
	s.put(a)
	return nil
}

func (s *MemoryStore) Save(_ context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.users[a.ID]
	if !ok {
		return ErrNotFound
	}
	if err := s.checkUnique(a.ID, a); err != nil {
		return err
	}

	if a.Linked() {
		if old, ok := s.links[pairKey(a.ID, a.Provider)]; ok && old.providerUserID != a.ProviderUserID {
			return ErrAlreadyLinked
		}
	}
	if prev.Email != "" {
		delete(s.emails, strings.ToLower(prev.Email))
	}

	a.CreatedAt = prev.CreatedAt
	a.UpdatedAt = s.now()
	s.put(a)
	return nil
}

func (s *MemoryStore) checkUnique(id string, a *Account) error {
	if a.Linked() {
		if owner, ok := s.identities[pairKey(a.Provider, a.ProviderUserID)]; ok && owner != id {
			return ErrConflict
		}
	}
	if a.Email != "" {
		if owner, ok := s.emails[strings.ToLower(a.Email)]; ok && owner != id {
			return ErrConflict
		}
	}
	return nil
}

func (s *MemoryStore) put(a *Account) {
	s.users[a.ID] = Account{
		ID:        a.ID,
		Email:     a.Email,
		FirstName: a.FirstName,
		LastName:  a.LastName,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
	if a.Email != "" {
		s.emails[strings.ToLower(a.Email)] = a.ID
	}
	if a.Linked() {
		s.identities[pairKey(a.Provider, a.ProviderUserID)] = a.ID
		s.links[pairKey(a.ID, a.Provider)] = memoryLink{
			providerUserID: a.ProviderUserID,
			token:          a.ProviderToken,
			expires:        a.ProviderTokenExpires,
			updated:        a.UpdatedAt,
		}
	}
}

// Len returns the number of stored accounts.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}
