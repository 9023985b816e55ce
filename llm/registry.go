package llm

import (
	"fmt"
	"sort"
	"sync"
)

// ProviderRegistry 按名称登记 Provider，CLI 与配置通过名称选择模型能力。
type ProviderRegistry struct {
	mu              sync.RWMutex
	providers       map[string]Provider
	defaultProvider string
}

// NewProviderRegistry creates an empty ProviderRegistry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{providers: make(map[string]Provider)}
}

// Register adds p under p.Name(), replacing any provider with the same name.
// The first registered provider becomes the default.
func (r *ProviderRegistry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
	if r.defaultProvider == "" {
		r.defaultProvider = p.Name()
	}
}

// SetDefault designates an existing registered provider as the default.
func (r *ProviderRegistry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return fmt.Errorf("provider %q not registered", name)
	}
	r.defaultProvider = name
	return nil
}

// Resolve returns the provider called name, or the default when name is empty.
func (r *ProviderRegistry) Resolve(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.defaultProvider
	}
	if p, ok := r.providers[name]; ok {
		return p, nil
	}
	return nil, &Error{
		Code:    ErrProviderUnavailable,
		Message: fmt.Sprintf("provider %q not registered", name),
	}
}

// List returns the sorted names of all registered providers.
func (r *ProviderRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
