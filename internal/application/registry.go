package application

import (
	"slices"
	"sync"

	"github.com/ericfisherdev/coinsplit/internal/domain/model"
	"github.com/ericfisherdev/coinsplit/internal/domain/port/driven"
)

// ProviderRegistry maps provider types to their clients. The composition
// root builds one at startup and passes it to the services that need it.
type ProviderRegistry struct {
	mu        sync.RWMutex
	providers map[model.ProviderType]driven.ExpenseProvider
}

// NewProviderRegistry returns a registry holding the given providers.
func NewProviderRegistry(providers ...driven.ExpenseProvider) *ProviderRegistry {
	r := &ProviderRegistry{providers: make(map[model.ProviderType]driven.ExpenseProvider, len(providers))}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds or replaces the client for p.Type().
func (r *ProviderRegistry) Register(p driven.ExpenseProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Type()] = p
}

// Get returns the client for a provider type.
func (r *ProviderRegistry) Get(pt model.ProviderType) (driven.ExpenseProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[pt]
	return p, ok
}

// OAuth returns the client for a provider type if it supports the OAuth
// authorization-code flow.
func (r *ProviderRegistry) OAuth(pt model.ProviderType) (driven.OAuthProvider, bool) {
	p, ok := r.Get(pt)
	if !ok {
		return nil, false
	}
	op, ok := p.(driven.OAuthProvider)
	return op, ok
}

// Types returns the registered provider types in sorted order.
func (r *ProviderRegistry) Types() []model.ProviderType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]model.ProviderType, 0, len(r.providers))
	for pt := range r.providers {
		types = append(types, pt)
	}
	slices.Sort(types)
	return types
}
