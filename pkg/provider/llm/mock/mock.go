// Package mock provides a test double for the llm.Adapter interface.
//
// Use Adapter in unit tests to verify that the orchestrator prepares correct
// call options and to feed controlled responses without a live LLM backend.
// All fields are safe to set before calling any method; mutating them during a
// concurrent call is the caller's responsibility.
//
// Example:
//
//	a := &mock.Adapter{
//	    CallResponses: []*llm.RawResponse{{Content: "Hello!"}},
//	}
//	raw, err := a.Call(ctx, opts)
package mock

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/MrWong99/repliq/pkg/provider/llm"
	"github.com/MrWong99/repliq/pkg/types"
)

// PrepareCall records a single invocation of PrepareOptions.
type PrepareCall struct {
	// In is the input passed to PrepareOptions.
	In llm.PrepareInput
}

// CallCall records a single invocation of Call.
type CallCall struct {
	// Ctx is the context passed to Call.
	Ctx context.Context
	// Opts is the options bundle passed to Call.
	Opts *llm.CallOptions
}

// StreamCall records a single invocation of Stream.
type StreamCall struct {
	// Ctx is the context passed to Stream.
	Ctx context.Context
	// Opts is the options bundle passed to Stream.
	Opts *llm.CallOptions
}

// ExecuteCall records a single invocation of ExecuteFunctionCall.
type ExecuteCall struct {
	// Call is the tool call passed in.
	Call types.ToolCall
	// Available is the definition set passed in.
	Available []types.ToolDefinition
}

// Adapter is a mock implementation of llm.Adapter.
// Zero values for response fields cause methods to return zero values and nil
// errors. Set Err fields to inject errors.
type Adapter struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// NameValue is returned by Name. Defaults to "mock".
	NameValue string

	// Caps is returned by Capabilities.
	Caps llm.Capabilities

	// TokensPerText, when positive, divides text length to produce the
	// EstimateTokens result. Zero means 4 chars per token.
	TokensPerText int

	// PrepareErr, if non-nil, is returned by PrepareOptions.
	PrepareErr error

	// CallResponses is the queue of responses returned by successive Call
	// invocations. The last element is repeated once the queue is exhausted.
	CallResponses []*llm.RawResponse

	// CallErrs, if non-empty, is consumed in lockstep with CallResponses:
	// a non-nil element at the same index makes that Call fail instead.
	CallErrs []error

	// StreamFragments is the sequence emitted on the channel returned by
	// Stream. All fragments are sent before the channel is closed.
	StreamFragments []llm.Fragment

	// StreamErr, if non-nil, is returned as the error from Stream instead of
	// starting a channel.
	StreamErr error

	// ExecuteResults maps function name to the result returned by
	// ExecuteFunctionCall. Unlisted names yield a Success=false record.
	ExecuteResults map[string]*types.ToolExecutionResult

	// Functions is returned by AvailableFunctions.
	Functions []types.ToolDefinition

	// --- Call records (read after test) ---

	// PrepareCalls records every invocation of PrepareOptions in order.
	PrepareCalls []PrepareCall

	// CallCalls records every invocation of Call in order.
	CallCalls []CallCall

	// StreamCalls records every invocation of Stream in order.
	StreamCalls []StreamCall

	// ExecuteCalls records every invocation of ExecuteFunctionCall in order.
	ExecuteCalls []ExecuteCall
}

// Name returns NameValue, or "mock" when unset.
func (a *Adapter) Name() string {
	if a.NameValue == "" {
		return "mock"
	}
	return a.NameValue
}

// Capabilities returns Caps.
func (a *Adapter) Capabilities() llm.Capabilities {
	return a.Caps
}

// EstimateTokens returns len(text) divided by TokensPerText (default 4).
func (a *Adapter) EstimateTokens(text string) int {
	ratio := a.TokensPerText
	if ratio <= 0 {
		ratio = 4
	}
	return len(text) / ratio
}

// PrepareOptions records the call and assembles a minimal options bundle, or
// returns PrepareErr when set. The bundle carries the inputs through verbatim
// so tests can assert on what the orchestrator assembled.
func (a *Adapter) PrepareOptions(in llm.PrepareInput) (*llm.CallOptions, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.PrepareCalls = append(a.PrepareCalls, PrepareCall{In: in})
	if a.PrepareErr != nil {
		return nil, a.PrepareErr
	}
	if strings.TrimSpace(in.Prompt) == "" {
		return nil, errors.New("mock: prompt must not be empty")
	}
	messages := make([]types.Message, 0, len(in.History)+1)
	messages = append(messages, in.History...)
	messages = append(messages, types.NewUserMessage(in.Prompt))
	model := in.Model
	if model == "" {
		model = "mock-model"
	}
	return &llm.CallOptions{
		Model:        model,
		Messages:     messages,
		SystemPrompt: in.SystemPrompt,
		Tools:        in.Tools,
		ToolChoice:   in.ToolChoice,
		Extra:        in.Options,
	}, nil
}

// Call records the call and returns the next queued response.
func (a *Adapter) Call(ctx context.Context, opts *llm.CallOptions) (*llm.RawResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := len(a.CallCalls)
	a.CallCalls = append(a.CallCalls, CallCall{Ctx: ctx, Opts: opts})
	if idx < len(a.CallErrs) && a.CallErrs[idx] != nil {
		return nil, a.CallErrs[idx]
	}
	if len(a.CallResponses) == 0 {
		return &llm.RawResponse{Model: opts.Model}, nil
	}
	if idx >= len(a.CallResponses) {
		idx = len(a.CallResponses) - 1
	}
	return a.CallResponses[idx], nil
}

// Stream records the call and returns a channel that emits StreamFragments.
// If StreamErr is set, it returns nil, StreamErr without opening a channel.
func (a *Adapter) Stream(ctx context.Context, opts *llm.CallOptions) (<-chan llm.Fragment, error) {
	a.mu.Lock()
	if a.StreamErr != nil {
		err := a.StreamErr
		a.StreamCalls = append(a.StreamCalls, StreamCall{Ctx: ctx, Opts: opts})
		a.mu.Unlock()
		return nil, err
	}
	fragments := make([]llm.Fragment, len(a.StreamFragments))
	copy(fragments, a.StreamFragments)
	a.StreamCalls = append(a.StreamCalls, StreamCall{Ctx: ctx, Opts: opts})
	a.mu.Unlock()

	ch := make(chan llm.Fragment, len(fragments))
	go func() {
		defer close(ch)
		for _, f := range fragments {
			select {
			case <-ctx.Done():
				return
			case ch <- f:
			}
		}
	}()
	return ch, nil
}

// Convert builds the normalized response from raw.
func (a *Adapter) Convert(raw *llm.RawResponse, opts *llm.CallOptions) (*types.LLMResponse, error) {
	return &types.LLMResponse{
		Content:          raw.Content,
		Model:            raw.Model,
		Provider:         a.Name(),
		Usage:            raw.Usage,
		ToolCalls:        raw.ToolCalls,
		OptimizedHistory: []types.Message{},
	}, nil
}

// ExecuteFunctionCall records the call and returns the scripted result for the
// function name, or a Success=false record for unlisted names.
func (a *Adapter) ExecuteFunctionCall(ctx context.Context, call types.ToolCall, available []types.ToolDefinition, repo *types.RepositoryContext) (*types.ToolExecutionResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ExecuteCalls = append(a.ExecuteCalls, ExecuteCall{Call: call, Available: available})
	if res, ok := a.ExecuteResults[call.Name]; ok {
		return res, nil
	}
	return &types.ToolExecutionResult{
		ToolCallID:   call.ID,
		FunctionName: call.Name,
		Success:      false,
		Error:        "function not scripted: " + call.Name,
	}, nil
}

// AvailableFunctions returns Functions.
func (a *Adapter) AvailableFunctions() []types.ToolDefinition {
	return a.Functions
}

// Reset clears all recorded calls. Thread-safe.
func (a *Adapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.PrepareCalls = nil
	a.CallCalls = nil
	a.StreamCalls = nil
	a.ExecuteCalls = nil
}

// Ensure Adapter implements llm.Adapter at compile time.
var _ llm.Adapter = (*Adapter)(nil)
