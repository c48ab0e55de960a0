package config

import (
	"errors"
	"fmt"
	"sync"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/repliq/internal/resilience"
	"github.com/MrWong99/repliq/pkg/provider/llm"
	"github.com/MrWong99/repliq/pkg/provider/llm/anyllm"
	"github.com/MrWong99/repliq/pkg/provider/llm/openai"
)

// ErrBackendNotRegistered is returned by [Registry.CreateAdapter] when no
// factory has been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: backend not registered")

// AdapterFactory constructs an [llm.Adapter] from a provider entry.
type AdapterFactory func(entry ProviderEntry) (llm.Adapter, error)

// Registry maps backend names to adapter factories. It is safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]AdapterFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]AdapterFactory)}
}

// RegisterBackend registers an adapter factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterBackend(name string, factory AdapterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// CreateAdapter constructs an adapter for entry using the factory registered
// under the entry's backend name.
func (r *Registry) CreateAdapter(entry ProviderEntry) (llm.Adapter, error) {
	r.mu.RLock()
	factory, ok := r.factories[entry.BackendName()]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotRegistered, entry.BackendName())
	}
	return factory(entry)
}

// DefaultRegistry returns a [Registry] with factories for every built-in
// backend: the native OpenAI adapter plus the any-llm backends. When
// functions is non-nil it is attached to every adapter as the managed tool
// server backend.
func DefaultRegistry(functions llm.FunctionBackend) *Registry {
	r := NewRegistry()

	r.RegisterBackend("openai", func(entry ProviderEntry) (llm.Adapter, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if functions != nil {
			opts = append(opts, openai.WithFunctionBackend(functions))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	for _, backend := range []string{"anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"} {
		r.RegisterBackend(backend, func(entry ProviderEntry) (llm.Adapter, error) {
			var backendOpts []anyllmlib.Option
			if entry.APIKey != "" {
				backendOpts = append(backendOpts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				backendOpts = append(backendOpts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			opts := []anyllm.Option{anyllm.WithBackendOptions(backendOpts...)}
			if functions != nil {
				opts = append(opts, anyllm.WithFunctionBackend(functions))
			}
			return anyllm.New(entry.BackendName(), entry.Model, opts...)
		})
	}

	return r
}

// BuildProviders constructs every configured adapter and registers it in a
// fresh provider registry. Entries with fallbacks are wrapped in a
// [resilience.Failover] registered under the entry's name.
func BuildProviders(cfg *Config, backends *Registry) (*llm.Registry, error) {
	providers := llm.NewRegistry()

	// First pass: construct all plain adapters so fallback references resolve
	// regardless of declaration order.
	adapters := make(map[string]llm.Adapter, len(cfg.Providers.LLM))
	for _, entry := range cfg.Providers.LLM {
		a, err := backends.CreateAdapter(entry)
		if err != nil {
			return nil, fmt.Errorf("config: provider %q: %w", entry.Name, err)
		}
		adapters[entry.Name] = a
	}

	for _, entry := range cfg.Providers.LLM {
		a := adapters[entry.Name]
		if len(entry.Fallbacks) > 0 {
			failover := resilience.NewFailover(entry.Name, a, resilience.FallbackConfig{})
			for _, fb := range entry.Fallbacks {
				fallback, ok := adapters[fb]
				if !ok {
					return nil, fmt.Errorf("config: provider %q: unknown fallback %q", entry.Name, fb)
				}
				failover.AddFallback(fallback)
			}
			providers.RegisterAdapter(failover)
			continue
		}
		providers.Register(entry.Name, func() (llm.Adapter, error) { return a, nil })
	}

	return providers, nil
}
