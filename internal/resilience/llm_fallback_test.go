package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/repliq/pkg/provider/llm"
	"github.com/MrWong99/repliq/pkg/provider/llm/mock"
)

func TestFailover_PrimaryServes(t *testing.T) {
	primary := &mock.Adapter{
		NameValue:     "primary",
		CallResponses: []*llm.RawResponse{{Content: "from primary"}},
	}
	secondary := &mock.Adapter{NameValue: "secondary"}

	f := NewFailover("llm", primary, FallbackConfig{})
	f.AddFallback(secondary)

	raw, err := f.Call(context.Background(), &llm.CallOptions{Model: "m"})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if raw.Content != "from primary" {
		t.Errorf("Content = %q, want the primary's response", raw.Content)
	}
	if len(secondary.CallCalls) != 0 {
		t.Errorf("fallback was called %d times while the primary is healthy", len(secondary.CallCalls))
	}
}

func TestFailover_FallsBackWhenPrimaryFails(t *testing.T) {
	primary := &mock.Adapter{
		NameValue: "primary",
		CallErrs:  []error{errors.New("upstream down")},
	}
	secondary := &mock.Adapter{
		NameValue:     "secondary",
		CallResponses: []*llm.RawResponse{{Content: "from fallback"}},
	}

	f := NewFailover("llm", primary, FallbackConfig{})
	f.AddFallback(secondary)

	raw, err := f.Call(context.Background(), &llm.CallOptions{Model: "m"})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if raw.Content != "from fallback" {
		t.Errorf("Content = %q, want the fallback's response", raw.Content)
	}
	if len(primary.CallCalls) != 1 {
		t.Errorf("primary called %d times, want 1", len(primary.CallCalls))
	}
}

func TestFailover_AllBackendsFailing(t *testing.T) {
	primary := &mock.Adapter{NameValue: "primary", CallErrs: []error{errors.New("a")}}
	secondary := &mock.Adapter{NameValue: "secondary", CallErrs: []error{errors.New("b")}}

	f := NewFailover("llm", primary, FallbackConfig{})
	f.AddFallback(secondary)

	_, err := f.Call(context.Background(), &llm.CallOptions{Model: "m"})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestFailover_OpenBreakerSkipsPrimary(t *testing.T) {
	primary := &mock.Adapter{
		NameValue: "primary",
		CallErrs:  []error{errors.New("x"), errors.New("x"), errors.New("x")},
	}
	secondary := &mock.Adapter{
		NameValue:     "secondary",
		CallResponses: []*llm.RawResponse{{Content: "ok"}},
	}

	cfg := FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2}}
	f := NewFailover("llm", primary, cfg)
	f.AddFallback(secondary)

	ctx := context.Background()
	for range 3 {
		if _, err := f.Call(ctx, &llm.CallOptions{Model: "m"}); err != nil {
			t.Fatalf("Call() error = %v", err)
		}
	}

	// After two failures the primary's breaker is open, so the third round
	// must not touch it.
	if got := len(primary.CallCalls); got != 2 {
		t.Errorf("primary called %d times, want 2 (breaker open afterwards)", got)
	}
	if got := len(secondary.CallCalls); got != 3 {
		t.Errorf("fallback called %d times, want 3", got)
	}
}

func TestFailover_ConvertRelabelsProvider(t *testing.T) {
	primary := &mock.Adapter{NameValue: "primary"}
	f := NewFailover("llm-group", primary, FallbackConfig{})

	resp, err := f.Convert(&llm.RawResponse{Content: "x", Model: "m"}, &llm.CallOptions{})
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if resp.Provider != "llm-group" {
		t.Errorf("Provider = %q, want the failover group name", resp.Provider)
	}
}

func TestFailover_NameAndCapabilities(t *testing.T) {
	primary := &mock.Adapter{
		NameValue: "primary",
		Caps:      llm.Capabilities{SupportsStreaming: true},
	}
	f := NewFailover("llm", primary, FallbackConfig{})

	if f.Name() != "llm" {
		t.Errorf("Name() = %q, want %q", f.Name(), "llm")
	}
	if !f.Capabilities().SupportsStreaming {
		t.Error("Capabilities() did not come from the primary")
	}
}
