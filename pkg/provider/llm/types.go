package llm

import "github.com/MrWong99/repliq/pkg/types"

// Capabilities describes what an LLM backend supports.
type Capabilities struct {
	// AvailableModels lists the model names this backend can serve.
	AvailableModels []string

	// MaxTokens maps model name → context window size in tokens.
	MaxTokens map[string]int

	// SupportsStreaming indicates the backend supports streaming completions.
	SupportsStreaming bool

	// SupportsFunctionCalling indicates native function/tool calling support.
	SupportsFunctionCalling bool
}

// ContextWindow returns the context window for model, or fallback when the
// model is unknown to this backend.
func (c Capabilities) ContextWindow(model string, fallback int) int {
	if n, ok := c.MaxTokens[model]; ok && n > 0 {
		return n
	}
	return fallback
}

// PrepareInput carries the normalized inputs to [Adapter.PrepareOptions].
//
// The follow-up call of the tool workflow is constructed through
// [FollowupInput], which has no field through which tools could be attached —
// the no-recursive-tool-calling rule is structural, not a flag.
type PrepareInput struct {
	// Prompt is the user's query for this turn. Required.
	Prompt string

	// History is the (already optimized) prior conversation, oldest first.
	History []types.Message

	// Options is the free-form provider options map from the request.
	// Recognised keys are adapter-specific (e.g. "temperature", "max_tokens").
	Options map[string]any

	// SystemPrompt is an optional instruction block prepended to the
	// conversation. Empty means no system prompt.
	SystemPrompt string

	// Model optionally overrides the adapter's default model.
	Model string

	// Tools is the set of function definitions offered to the model.
	Tools []types.ToolDefinition

	// ToolChoice is the selection strategy forwarded to the vendor
	// ("auto", "none", or a function name). Ignored when Tools is empty.
	ToolChoice string
}

// FollowupInput carries the inputs for the follow-up call made after tool
// execution. It deliberately has no tool-related fields.
type FollowupInput struct {
	// Prompt is the follow-up instruction summarising the tool results.
	Prompt string

	// History is the conversation including the original prompt and the
	// assistant's tool-call turn rendered as text.
	History []types.Message

	// Options is the free-form provider options map from the request.
	Options map[string]any

	// SystemPrompt is the same system prompt used for the initial call.
	SystemPrompt string

	// Model optionally overrides the adapter's default model.
	Model string
}

// CallOptions is the prepared options bundle consumed by [Adapter.Call],
// [Adapter.Stream], and [Adapter.Convert]. Callers obtain it from
// PrepareOptions and treat it as opaque; the exported fields exist for
// adapters and tests, not for the orchestrator to mutate.
type CallOptions struct {
	// Model is the resolved model name for this call.
	Model string

	// Messages is the fully assembled conversation, including the system
	// prompt and the current user prompt.
	Messages []types.Message

	// SystemPrompt is kept separately for vendors with a dedicated system field.
	SystemPrompt string

	// Temperature, when positive, overrides the vendor default.
	Temperature float64

	// MaxTokens, when positive, caps completion length.
	MaxTokens int

	// Tools is the function set attached to this call. Empty for follow-up calls.
	Tools []types.ToolDefinition

	// ToolChoice is the vendor tool selection strategy.
	ToolChoice string

	// Extra holds unrecognised provider options, forwarded verbatim where the
	// vendor protocol permits.
	Extra map[string]any
}

// RawResponse is a vendor response in normalized-but-unconverted form.
// Adapters populate it in Call and interpret it in Convert; the split keeps
// the I/O step free of response-shaping policy.
type RawResponse struct {
	// Content is the assistant's text reply. Empty when the model responded
	// exclusively with tool calls.
	Content string

	// Model is the concrete model that produced the response, as reported by
	// the vendor (may differ from the requested alias).
	Model string

	// ToolCalls lists function invocations requested by the model.
	ToolCalls []types.ToolCall

	// Usage is the vendor-reported token accounting.
	Usage types.Usage
}

// Fragment is a single element of a streaming completion.
type Fragment struct {
	// Text is the incremental text content. May be empty on the final fragment.
	Text string

	// Done marks the end of the stream.
	Done bool

	// Err carries a mid-stream failure; the stream ends after an Err fragment.
	Err error
}
