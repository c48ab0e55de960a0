package llm

import (
	"fmt"
	"sync"
)

// ErrProviderNotFound is returned by [Registry.Resolve] when no factory is
// registered under the requested name.
var ErrProviderNotFound = fmt.Errorf("llm: provider not found")

// Factory constructs an [Adapter]. Factories run at most once per registry:
// the constructed adapter is memoized and shared by all subsequent resolves.
type Factory func() (Adapter, error)

// Registry maps provider names to adapter factories and memoizes the adapters
// they build. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	adapters  map[string]Adapter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		adapters:  make(map[string]Adapter),
	}
}

// Register adds factory under name, replacing any previous registration and
// discarding a previously memoized adapter for that name.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
	delete(r.adapters, name)
}

// RegisterAdapter registers an already-constructed adapter under its own name.
func (r *Registry) RegisterAdapter(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := a.Name()
	r.factories[name] = func() (Adapter, error) { return a, nil }
	r.adapters[name] = a
}

// Resolve returns the adapter registered under name, constructing it on first
// use. Unknown names yield an error wrapping [ErrProviderNotFound].
func (r *Registry) Resolve(name string) (Adapter, error) {
	r.mu.RLock()
	if a, ok := r.adapters[name]; ok {
		r.mu.RUnlock()
		return a, nil
	}
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotFound, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another goroutine may have constructed it between the lock switch.
	if a, ok := r.adapters[name]; ok {
		return a, nil
	}
	a, err := factory()
	if err != nil {
		return nil, fmt.Errorf("llm: constructing provider %q: %w", name, err)
	}
	r.adapters[name] = a
	return a, nil
}

// Names returns the registered provider names in unspecified order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}
