// Package types defines the shared types used across all repliq packages.
//
// These types form the lingua franca between provider adapters, the tool
// executor, the history optimizer, and the orchestrator. They are intentionally
// minimal — each package defines its own domain types, but cross-cutting data
// structures live here to avoid circular imports.
package types

import "time"

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleSystem marks non-conversational instructions injected by the backend.
	RoleSystem Role = "system"

	// RoleUser marks messages authored by the querying end user.
	RoleUser Role = "user"

	// RoleAssistant marks messages generated by the model.
	RoleAssistant Role = "assistant"
)

// IsValid reports whether r is a recognised conversation role.
func (r Role) IsValid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is a single entry in a conversation history. Messages are immutable
// once created; ordering within a conversation is significant and every
// component that rearranges histories must work on copies, never in place.
type Message struct {
	// Role is who authored this message.
	Role Role

	// Content is the text content of the message.
	Content string

	// Timestamp is when this message was created.
	Timestamp time.Time
}

// NewSystemMessage returns a system-role message stamped with the current time.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content, Timestamp: time.Now()}
}

// NewUserMessage returns a user-role message stamped with the current time.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content, Timestamp: time.Now()}
}

// NewAssistantMessage returns an assistant-role message stamped with the current time.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content, Timestamp: time.Now()}
}

// CopyMessages returns a fresh slice containing the same messages.
// Components that return histories to callers must never alias their input.
func CopyMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// ToolCall is a tool/function invocation requested by the model.
type ToolCall struct {
	// ID is the provider-assigned identifier for this call. It is opaque to
	// repliq and must be echoed back in the corresponding ToolExecutionResult.
	ID string

	// Name is the tool/function name.
	Name string

	// Arguments is the JSON-encoded arguments string.
	Arguments string
}

// ToolDefinition describes a callable function that can be offered to an LLM.
type ToolDefinition struct {
	// Name is the tool's unique identifier within a registry.
	Name string

	// Description explains what the tool does (included in LLM prompts).
	Description string

	// Parameters is the JSON-Schema-like description of the tool's input:
	// an object with "properties" and an optional "required" list.
	Parameters map[string]any
}

// ToolExecutionResult records the outcome of executing one tool call.
// The executor always produces a result record — handler errors, panics,
// missing handlers and malformed arguments all land here as Success=false.
type ToolExecutionResult struct {
	// ToolCallID echoes the originating ToolCall.ID.
	ToolCallID string

	// FunctionName is the name of the function that was (or should have been) invoked.
	FunctionName string

	// Success reports whether the handler ran to completion.
	Success bool

	// Result holds the handler's return value when Success is true.
	Result any

	// Error holds a human-readable failure description when Success is false.
	Error string
}

// Usage holds token accounting information returned by an LLM backend.
// All counts are in the model's native token unit and may differ between
// providers for the same textual content.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages and
	// system prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// Add returns the component-wise sum of u and other. Used when merging a
// follow-up response into the original tool-call response: usage is summed,
// never replaced.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
	}
}

// DocumentType classifies the document a query is about.
type DocumentType string

const (
	// DocumentCode marks a source-code file.
	DocumentCode DocumentType = "code"

	// DocumentDocumentation marks a prose documentation file.
	DocumentDocumentation DocumentType = "documentation"
)

// RepositoryContext identifies the repository a query is scoped to.
type RepositoryContext struct {
	// Owner is the repository owner/organisation (e.g. "MrWong99").
	Owner string

	// Name is the repository name.
	Name string

	// CurrentPath is the file path currently in focus, if any.
	CurrentPath string
}

// FullName returns "owner/name", the canonical repository identity.
func (r RepositoryContext) FullName() string {
	return r.Owner + "/" + r.Name
}

// DocumentMetadata describes the document the query is about.
type DocumentMetadata struct {
	// Path is the document's path within the repository.
	Path string

	// Type classifies the document (code vs. documentation).
	Type DocumentType

	// Content is the fetched document body. Populated only when the request
	// asked for automatic content inclusion.
	Content string
}

// ToolOptions is the tool-configuration group of a QueryRequest.
type ToolOptions struct {
	// Enable turns on the tool-calling workflow for this query.
	Enable bool

	// Choice is the tool selection strategy forwarded to the provider
	// (e.g. "auto", "none", or a specific function name).
	Choice string

	// CompleteFlow requests the full execute-then-follow-up workflow. When
	// false, tool calls are returned to the caller unexecuted.
	CompleteFlow bool
}

// QueryContext is the document/repository context group of a QueryRequest.
type QueryContext struct {
	// Repository identifies the repository the query is about. May be nil.
	Repository *RepositoryContext

	// Document describes the document in focus. May be nil.
	Document *DocumentMetadata

	// AutoFetchDocument requests that the document body be fetched and
	// included before the provider call.
	AutoFetchDocument bool
}

// ProcessingOptions is the processing group of a QueryRequest.
type ProcessingOptions struct {
	// BypassCache skips both cache lookup and cache store for this query.
	BypassCache bool

	// ProviderOptions is a free-form options map forwarded to the provider
	// adapter (temperature, max tokens, vendor extensions, ...).
	ProviderOptions map[string]any
}

// QueryRequest is one inbound natural-language query. It is composed of four
// independent, optionally-absent groups: the core fields, tool configuration,
// document/repository context, and processing options.
//
// Validation invariant: Prompt must be non-empty after trimming whitespace.
// Requests violating this are rejected before any provider call.
type QueryRequest struct {
	// Prompt is the user's natural-language query. Required.
	Prompt string

	// Provider selects the LLM backend by registry name. Required.
	Provider string

	// Model optionally overrides the provider's default model.
	Model string

	// History is the prior conversation, oldest first. May be empty.
	History []Message

	// Tools configures the tool-calling workflow. Nil means tools disabled.
	Tools *ToolOptions

	// Context supplies repository/document context. May be nil.
	Context *QueryContext

	// Processing supplies cache and provider options. May be nil.
	Processing *ProcessingOptions
}

// ToolsEnabled reports whether the tool-calling workflow applies to q.
func (q *QueryRequest) ToolsEnabled() bool {
	return q.Tools != nil && q.Tools.Enable
}

// BypassCache reports whether the caller asked to skip the response cache.
func (q *QueryRequest) BypassCache() bool {
	return q.Processing != nil && q.Processing.BypassCache
}

// ProviderOptions returns the free-form provider options map, or nil.
func (q *QueryRequest) ProviderOptions() map[string]any {
	if q.Processing == nil {
		return nil
	}
	return q.Processing.ProviderOptions
}

// HistoryOptimization reports what the history optimizer did (or did not do)
// to a conversation before it was sent to the provider.
type HistoryOptimization struct {
	// Optimized is true when the history was reduced or summarised.
	Optimized bool

	// OriginalMessages and OptimizedMessages are the message counts before
	// and after optimization.
	OriginalMessages  int
	OptimizedMessages int

	// OriginalTokens and OptimizedTokens are the token estimates before and
	// after optimization. When the preserved tail alone exceeds the budget,
	// OptimizedTokens reports the over-budget value rather than hiding it.
	OriginalTokens  int
	OptimizedTokens int

	// SummarizationError records why LLM summarisation fell back to plain
	// truncation, when that happened. Empty otherwise.
	SummarizationError string
}

// LLMResponse is the normalized response model returned for every query.
//
// OptimizedHistory and Optimization are always populated — possibly as an
// empty slice and a "not optimized" record — never left unset. Clients rely
// on this for predictable decoding.
type LLMResponse struct {
	// Content is the model's natural-language answer.
	Content string

	// Model is the concrete model that produced the response.
	Model string

	// Provider is the registry name of the backend that served the request.
	Provider string

	// Usage is the token accounting, summed across the initial and follow-up
	// calls when the tool workflow ran.
	Usage Usage

	// ToolCalls lists the tool invocations the model requested, if any.
	ToolCalls []ToolCall

	// ToolExecutionResults holds one record per executed tool call.
	ToolExecutionResults []ToolExecutionResult

	// OptimizedHistory is the conversation history actually sent to the
	// provider after budget optimization. Never nil.
	OptimizedHistory []Message

	// Optimization describes what the optimizer did. Always populated.
	Optimization HistoryOptimization
}

// StreamChunk is one element of a streaming query's response sequence.
// A stream consists of zero or more chunks with Done=false followed by
// exactly one terminal chunk. Failures after the stream has started are
// delivered as a terminal chunk with Err set rather than an out-of-band
// error, since the transport is already a sequence.
type StreamChunk struct {
	// Content is the incremental text of this chunk. Empty on the terminal chunk.
	Content string

	// Done marks the terminal chunk.
	Done bool

	// Err carries a mid-stream failure. Only ever set on a terminal chunk.
	Err error
}
