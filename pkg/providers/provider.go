package providers

import "fmt"

// Registry keeps the configured LLMProviders by id and lets a caller pick
// the first one, the first that supports native tool calling, or a named
// one. Registration order is preserved so First is deterministic.
type Registry struct {
	order     []string
	providers map[string]LLMProvider
}

// NewRegistry builds an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]LLMProvider)}
}

// Register adds or replaces the provider under its own ID.
func (r *Registry) Register(p LLMProvider) {
	id := p.ID()
	if _, exists := r.providers[id]; !exists {
		r.order = append(r.order, id)
	}
	r.providers[id] = p
}

// Get looks up a provider by id.
func (r *Registry) Get(id string) (LLMProvider, bool) {
	p, ok := r.providers[id]
	return p, ok
}

// First returns the first registered provider, in registration order.
func (r *Registry) First() (LLMProvider, error) {
	for _, id := range r.order {
		return r.providers[id], nil
	}
	return nil, fmt.Errorf("providers: registry is empty")
}

// FirstWithTools returns the first registered provider that supports native
// tool calling.
func (r *Registry) FirstWithTools() (LLMProvider, error) {
	for _, id := range r.order {
		if p := r.providers[id]; p.SupportsTools() {
			return p, nil
		}
	}
	return nil, fmt.Errorf("providers: no registered provider supports tools")
}

// ListModels returns the provider ids known to the registry, in
// registration order.
func (r *Registry) ListModels() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
