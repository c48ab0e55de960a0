package health

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/repliq/internal/cache"
	"github.com/MrWong99/repliq/pkg/provider/llm"
)

// Providers returns a checker that fails when the registry has no LLM
// providers. A server without providers can accept requests but never answer
// one, so it should not receive traffic.
func Providers(reg *llm.Registry) Checker {
	return Checker{
		Name: "providers",
		Check: func(_ context.Context) error {
			if len(reg.Names()) == 0 {
				return errors.New("no providers registered")
			}
			return nil
		},
	}
}

// Pinger is implemented by cache backends that can probe their backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ResponseCache returns a checker for the response cache. Backends without a
// Ping method (the in-memory cache) always report healthy.
func ResponseCache(c cache.Cache) Checker {
	return Checker{
		Name: "cache",
		Check: func(ctx context.Context) error {
			p, ok := c.(Pinger)
			if !ok {
				return nil
			}
			if err := p.Ping(ctx); err != nil {
				return fmt.Errorf("cache unreachable: %w", err)
			}
			return nil
		},
	}
}
