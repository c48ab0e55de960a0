// Package llm defines the Adapter contract for Large Language Model backends
// and the registry that resolves adapters by provider name.
//
// An adapter wraps a remote or local model API (e.g. OpenAI, Anthropic via
// any-llm, or a local Ollama instance) and exposes a uniform prepare → call →
// convert pipeline so the orchestrator never couples to a vendor SDK:
//
//	opts, err := adapter.PrepareOptions(llm.PrepareInput{Prompt: "...", ...})
//	raw, err := adapter.Call(ctx, opts)
//	resp, err := adapter.Convert(raw, opts)
//
// Implementors must be safe for concurrent use. Channels returned by Stream
// must be closed by the implementation when the stream ends or when the
// supplied context is cancelled.
package llm

import (
	"context"

	"github.com/MrWong99/repliq/pkg/types"
)

// Adapter is the abstraction over any LLM backend. One implementation exists
// per vendor integration; the orchestrator consumes adapters exclusively
// through this interface.
//
// PrepareOptions is local and CPU-bound; Call and Stream are the only
// I/O-bound steps. Each method must propagate context cancellation promptly.
type Adapter interface {
	// Name returns the registry name of this adapter (e.g. "openai").
	Name() string

	// Capabilities describes the models and features this backend supports.
	Capabilities() Capabilities

	// EstimateTokens estimates the token count of text in this backend's
	// native token unit. Estimates may be heuristic.
	EstimateTokens(text string) int

	// PrepareOptions assembles a vendor-ready options bundle from the
	// normalized inputs. It performs no I/O and returns an error only for
	// structurally invalid input (e.g. an unknown role).
	PrepareOptions(in PrepareInput) (*CallOptions, error)

	// Call performs one blocking completion round-trip.
	Call(ctx context.Context, opts *CallOptions) (*RawResponse, error)

	// Stream performs one streaming completion. The returned channel emits
	// text fragments and is closed when generation finishes, fails, or ctx is
	// cancelled. Errors after the stream has started are delivered as a
	// fragment with Err set; the initial error return is non-nil only when
	// the stream cannot be started at all.
	Stream(ctx context.Context, opts *CallOptions) (<-chan Fragment, error)

	// Convert turns a raw vendor response into the normalized response model.
	// It must populate Content, Model, Provider, Usage, and ToolCalls when
	// present. History-optimization fields are the orchestrator's concern.
	Convert(raw *RawResponse, opts *CallOptions) (*types.LLMResponse, error)

	// ExecuteFunctionCall executes a model-issued function call through a
	// vendor-specific backend (e.g. a managed tool server), when one is
	// configured. Adapters without such a backend return a Success=false
	// result record; they never return a Go error for an unknown function.
	ExecuteFunctionCall(ctx context.Context, call types.ToolCall, available []types.ToolDefinition, repo *types.RepositoryContext) (*types.ToolExecutionResult, error)

	// AvailableFunctions lists the function definitions this adapter offers
	// on top of the locally registered ones. May be empty.
	AvailableFunctions() []types.ToolDefinition
}

// FunctionBackend executes function calls on behalf of an adapter. It is the
// plug-in point for managed tool servers (e.g. an MCP host): adapters with a
// backend route ExecuteFunctionCall through it instead of the local registry.
type FunctionBackend interface {
	// Execute runs the named function with JSON-encoded args.
	Execute(ctx context.Context, call types.ToolCall) (*types.ToolExecutionResult, error)

	// Definitions lists the functions this backend provides.
	Definitions() []types.ToolDefinition
}
