package resilience

import (
	"context"

	"github.com/MrWong99/repliq/pkg/provider/llm"
	"github.com/MrWong99/repliq/pkg/types"
)

// Failover implements [llm.Adapter] with automatic failover across multiple
// LLM backends. Each backend has its own circuit breaker; when the primary
// fails or its breaker is open, the next healthy fallback is tried.
//
// Only the I/O steps (Call, Stream) participate in failover. CallOptions are
// vendor-neutral, so a bundle prepared by the primary is valid against every
// entry. Local steps (PrepareOptions, Convert, EstimateTokens) and function
// execution always go through the primary; converted responses carry the
// failover group's name as Provider, since callers address the group, not the
// backend that happened to answer.
type Failover struct {
	name    string
	primary llm.Adapter
	group   *FallbackGroup[llm.Adapter]
}

// Compile-time interface assertion.
var _ llm.Adapter = (*Failover)(nil)

// NewFailover creates a [Failover] registered under name with primary as the
// preferred backend.
func NewFailover(name string, primary llm.Adapter, cfg FallbackConfig) *Failover {
	return &Failover{
		name:    name,
		primary: primary,
		group:   NewFallbackGroup(primary, primary.Name(), cfg),
	}
}

// AddFallback registers an additional adapter as a fallback. Fallbacks are
// tried in registration order, after the primary.
func (f *Failover) AddFallback(adapter llm.Adapter) {
	f.group.AddFallback(adapter.Name(), adapter)
}

// Name returns the failover group's registry name.
func (f *Failover) Name() string {
	return f.name
}

// Capabilities returns the primary's capabilities. This does not participate
// in failover because capabilities are static metadata.
func (f *Failover) Capabilities() llm.Capabilities {
	return f.primary.Capabilities()
}

// EstimateTokens delegates to the primary.
func (f *Failover) EstimateTokens(text string) int {
	return f.primary.EstimateTokens(text)
}

// PrepareOptions delegates to the primary. Preparation is local and cannot
// fail in a way failover would help with.
func (f *Failover) PrepareOptions(in llm.PrepareInput) (*llm.CallOptions, error) {
	return f.primary.PrepareOptions(in)
}

// Call sends the completion to the first healthy backend.
func (f *Failover) Call(ctx context.Context, opts *llm.CallOptions) (*llm.RawResponse, error) {
	return ExecuteWithResult(f.group, func(a llm.Adapter) (*llm.RawResponse, error) {
		return a.Call(ctx, opts)
	})
}

// Stream opens a stream against the first healthy backend. Only the initial
// connection attempt is covered by failover; once a stream is established,
// mid-stream errors reach the caller as fragments.
func (f *Failover) Stream(ctx context.Context, opts *llm.CallOptions) (<-chan llm.Fragment, error) {
	return ExecuteWithResult(f.group, func(a llm.Adapter) (<-chan llm.Fragment, error) {
		return a.Stream(ctx, opts)
	})
}

// Convert delegates to the primary and relabels the response with the group
// name.
func (f *Failover) Convert(raw *llm.RawResponse, opts *llm.CallOptions) (*types.LLMResponse, error) {
	resp, err := f.primary.Convert(raw, opts)
	if err != nil {
		return nil, err
	}
	resp.Provider = f.name
	return resp, nil
}

// ExecuteFunctionCall delegates to the primary's function backend.
func (f *Failover) ExecuteFunctionCall(ctx context.Context, call types.ToolCall, available []types.ToolDefinition, repo *types.RepositoryContext) (*types.ToolExecutionResult, error) {
	return f.primary.ExecuteFunctionCall(ctx, call, available, repo)
}

// AvailableFunctions delegates to the primary.
func (f *Failover) AvailableFunctions() []types.ToolDefinition {
	return f.primary.AvailableFunctions()
}
