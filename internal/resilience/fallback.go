package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every backend in a [FallbackGroup] either
// failed or was skipped due to an open circuit breaker.
var ErrAllFailed = errors.New("all backends failed")

// FallbackConfig carries the breaker settings applied to every backend in a
// [FallbackGroup]. The breaker name is overridden per backend.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// guarded pairs a backend with its dedicated circuit breaker.
type guarded[T any] struct {
	name    string
	backend T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary backend and an ordered list of fallbacks, each
// behind its own circuit breaker. Calls walk the list until one backend
// succeeds; entries with an open breaker are skipped without being invoked.
//
// FallbackGroup is safe for concurrent use once assembled. AddFallback is not
// safe to call concurrently with Execute.
type FallbackGroup[T any] struct {
	entries []guarded[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a group with primary as its first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.add(primaryName, primary)
	return fg
}

// AddFallback appends a backend tried after all previously registered entries.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	fg.add(name, fallback)
}

func (fg *FallbackGroup[T]) add(name string, backend T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, guarded[T]{
		name:    name,
		backend: backend,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Execute tries fn against each backend in order until one succeeds.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(backend T) (struct{}, error) {
		return struct{}{}, fn(backend)
	})
	return err
}

// ExecuteWithResult walks the group in order, returning the first successful
// result. When every entry fails it returns [ErrAllFailed] wrapping the last
// error seen. A package-level function because methods cannot introduce the
// result type parameter.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var lastErr error
	for i := range fg.entries {
		entry := &fg.entries[i]

		var result R
		err := entry.breaker.Execute(func() error {
			var callErr error
			result, callErr = fn(entry.backend)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err

		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping backend with open breaker", "backend", entry.name)
		} else {
			slog.Warn("backend failed, trying next",
				"backend", entry.name, "error", err)
		}
	}

	var zero R
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
