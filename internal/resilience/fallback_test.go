package resilience

import (
	"errors"
	"testing"
	"time"
)

// newBackendGroup builds a two-backend group keyed by provider name.
func newBackendGroup(cfg CircuitBreakerConfig) *FallbackGroup[string] {
	fg := NewFallbackGroup("openai-main", "openai-main", FallbackConfig{CircuitBreaker: cfg})
	fg.AddFallback("ollama-local", "ollama-local")
	return fg
}

func TestFallbackGroup_PrimaryServes(t *testing.T) {
	fg := newBackendGroup(CircuitBreakerConfig{MaxFailures: 3})

	var served string
	if err := fg.Execute(func(backend string) error {
		served = backend
		return nil
	}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if served != "openai-main" {
		t.Fatalf("served by %q, want the primary", served)
	}
}

func TestFallbackGroup_FailsOverToSecondary(t *testing.T) {
	fg := newBackendGroup(CircuitBreakerConfig{MaxFailures: 3})

	var served string
	err := fg.Execute(func(backend string) error {
		if backend == "openai-main" {
			return errBackendDown
		}
		served = backend
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if served != "ollama-local" {
		t.Fatalf("served by %q, want the fallback", served)
	}
}

func TestFallbackGroup_AllBackendsFail(t *testing.T) {
	fg := newBackendGroup(CircuitBreakerConfig{MaxFailures: 3})

	err := fg.Execute(func(string) error { return errBackendDown })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestFallbackGroup_OpenBreakerSkipsPrimary(t *testing.T) {
	fg := newBackendGroup(CircuitBreakerConfig{
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	})

	// Trip the primary's breaker.
	for range 2 {
		_ = fg.Execute(func(backend string) error {
			if backend == "openai-main" {
				return errBackendDown
			}
			return nil
		})
	}

	primaryCalls := 0
	var served string
	err := fg.Execute(func(backend string) error {
		if backend == "openai-main" {
			primaryCalls++
		}
		served = backend
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if primaryCalls != 0 {
		t.Errorf("primary was invoked %d times behind an open breaker", primaryCalls)
	}
	if served != "ollama-local" {
		t.Fatalf("served by %q, want the fallback", served)
	}
}

func TestExecuteWithResult_PrimaryResult(t *testing.T) {
	fg := newBackendGroup(CircuitBreakerConfig{MaxFailures: 3})

	got, err := ExecuteWithResult(fg, func(backend string) (string, error) {
		return "answer from " + backend, nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithResult: %v", err)
	}
	if got != "answer from openai-main" {
		t.Fatalf("result = %q", got)
	}
}

func TestExecuteWithResult_Failover(t *testing.T) {
	fg := newBackendGroup(CircuitBreakerConfig{MaxFailures: 3})

	got, err := ExecuteWithResult(fg, func(backend string) (string, error) {
		if backend == "openai-main" {
			return "", errBackendDown
		}
		return "answer from " + backend, nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithResult: %v", err)
	}
	if got != "answer from ollama-local" {
		t.Fatalf("result = %q", got)
	}
}

func TestExecuteWithResult_AllFail(t *testing.T) {
	fg := NewFallbackGroup("openai-main", "openai-main", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})

	_, err := ExecuteWithResult(fg, func(string) (string, error) {
		return "", errBackendDown
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
