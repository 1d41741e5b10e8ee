package provider

import (
	"fmt"
	"sort"
)

// Registry holds all configured provider clients and allows lookup by
// provider name. It performs no auth logic itself.
type Registry struct {
	providers map[string]Client
}

// NewRegistry registers the given clients by name. Nil clients are
// skipped so optional providers can be passed unconditionally.
func NewRegistry(list ...Client) *Registry {
	m := make(map[string]Client)
	for _, p := range list {
		if p == nil {
			continue
		}
		m[p.Name()] = p
	}
	return &Registry{providers: m}
}

// Get returns the client by name or an error if not registered.
func (r *Registry) Get(name string) (Client, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown oauth provider: %s", name)
	}
	return p, nil
}

// Names lists registered providers in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
