// Package anyllm provides a universal [llm.Adapter] backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and more.
//
// Usage:
//
//	a, err := anyllm.New("anthropic", "claude-3-5-sonnet-latest",
//		anyllm.WithBackendOptions(anyllmlib.WithAPIKey("sk-ant-...")))
package anyllm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/repliq/pkg/provider/llm"
	"github.com/MrWong99/repliq/pkg/tokens"
	"github.com/MrWong99/repliq/pkg/types"
)

// Adapter implements [llm.Adapter] by wrapping github.com/mozilla-ai/any-llm-go.
type Adapter struct {
	providerName string
	defaultModel string
	backend      anyllmlib.Provider
	backendOpts  []anyllmlib.Option
	estimator    tokens.Estimator
	functions    llm.FunctionBackend
}

// Option configures an [Adapter].
type Option func(*Adapter)

// WithBackendOptions forwards configuration to the any-llm-go backend
// (e.g. anyllmlib.WithAPIKey, anyllmlib.WithBaseURL). Without an API key
// option, the backend falls back to the provider's environment variable
// (OPENAI_API_KEY, ANTHROPIC_API_KEY, ...).
func WithBackendOptions(opts ...anyllmlib.Option) Option {
	return func(a *Adapter) { a.backendOpts = append(a.backendOpts, opts...) }
}

// WithEstimator overrides the token estimator. The default is the char
// heuristic, since any-llm backends span many incompatible tokenizers.
func WithEstimator(e tokens.Estimator) Option {
	return func(a *Adapter) { a.estimator = e }
}

// WithFunctionBackend attaches a managed tool server (e.g. an MCP host) whose
// functions are offered alongside locally registered ones.
func WithFunctionBackend(fb llm.FunctionBackend) Option {
	return func(a *Adapter) { a.functions = fb }
}

// New creates an [Adapter] for the given any-llm provider name.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama",
// "deepseek", "mistral", "groq", "llamacpp", "llamafile".
//
// defaultModel is used for calls that do not override the model
// (e.g. "gpt-4o", "claude-3-5-sonnet-latest").
func New(providerName, defaultModel string, opts ...Option) (*Adapter, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if defaultModel == "" {
		return nil, fmt.Errorf("anyllm: defaultModel must not be empty")
	}

	a := &Adapter{
		providerName: strings.ToLower(providerName),
		defaultModel: defaultModel,
		estimator:    tokens.CharEstimator{},
	}
	for _, opt := range opts {
		opt(a)
	}

	backend, err := createBackend(a.providerName, a.backendOpts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}
	a.backend = backend
	return a, nil
}

// createBackend creates the underlying any-llm-go provider for the given name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch providerName {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", providerName)
	}
}

// Name implements [llm.Adapter].
func (a *Adapter) Name() string {
	return a.providerName
}

// Capabilities implements [llm.Adapter].
func (a *Adapter) Capabilities() llm.Capabilities {
	return llm.Capabilities{
		AvailableModels: []string{a.defaultModel},
		MaxTokens: map[string]int{
			a.defaultModel: contextWindowFor(a.defaultModel),
		},
		SupportsStreaming:       true,
		SupportsFunctionCalling: supportsToolCalling(a.defaultModel),
	}
}

// EstimateTokens implements [llm.Adapter].
func (a *Adapter) EstimateTokens(text string) int {
	return a.estimator.EstimateText(text)
}

// PrepareOptions implements [llm.Adapter].
func (a *Adapter) PrepareOptions(in llm.PrepareInput) (*llm.CallOptions, error) {
	if strings.TrimSpace(in.Prompt) == "" {
		return nil, fmt.Errorf("anyllm: prompt must not be empty")
	}
	for i, m := range in.History {
		if !m.Role.IsValid() {
			return nil, fmt.Errorf("anyllm: history message %d has unknown role %q", i, m.Role)
		}
	}

	opts := &llm.CallOptions{
		Model:        a.defaultModel,
		SystemPrompt: in.SystemPrompt,
		Tools:        in.Tools,
		ToolChoice:   in.ToolChoice,
	}
	if in.Model != "" {
		opts.Model = in.Model
	}

	messages := make([]types.Message, 0, len(in.History)+1)
	messages = append(messages, in.History...)
	messages = append(messages, types.NewUserMessage(in.Prompt))
	opts.Messages = messages

	for key, val := range in.Options {
		switch key {
		case "temperature":
			t, ok := floatOption(val)
			if !ok {
				return nil, fmt.Errorf("anyllm: option %q: expected number, got %T", key, val)
			}
			opts.Temperature = t
		case "max_tokens":
			n, ok := intOption(val)
			if !ok {
				return nil, fmt.Errorf("anyllm: option %q: expected integer, got %T", key, val)
			}
			opts.MaxTokens = n
		default:
			if opts.Extra == nil {
				opts.Extra = make(map[string]any)
			}
			opts.Extra[key] = val
		}
	}

	return opts, nil
}

// Call implements [llm.Adapter].
func (a *Adapter) Call(ctx context.Context, opts *llm.CallOptions) (*llm.RawResponse, error) {
	params := buildParams(opts)

	resp, err := a.backend.Completion(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: empty choices in response")
	}

	choice := resp.Choices[0]
	raw := &llm.RawResponse{
		Content: choice.Message.ContentString(),
		Model:   opts.Model,
	}
	if resp.Model != "" {
		raw.Model = resp.Model
	}
	if resp.Usage != nil {
		raw.Usage = types.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	for _, tc := range choice.Message.ToolCalls {
		raw.ToolCalls = append(raw.ToolCalls, types.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return raw, nil
}

// Stream implements [llm.Adapter].
func (a *Adapter) Stream(ctx context.Context, opts *llm.CallOptions) (<-chan llm.Fragment, error) {
	params := buildParams(opts)

	backendChunks, backendErrs := a.backend.CompletionStream(ctx, params)

	ch := make(chan llm.Fragment, 32)
	go func() {
		defer close(ch)

		for chunk := range backendChunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta
			if delta.Content == "" {
				continue
			}
			select {
			case ch <- llm.Fragment{Text: delta.Content}:
			case <-ctx.Done():
				return
			}
		}

		// The error channel resolves only after the chunk channel is drained.
		if err := <-backendErrs; err != nil {
			select {
			case ch <- llm.Fragment{Err: fmt.Errorf("anyllm: stream: %w", err), Done: true}:
			case <-ctx.Done():
			}
			return
		}
		select {
		case ch <- llm.Fragment{Done: true}:
		case <-ctx.Done():
		}
	}()

	return ch, nil
}

// Convert implements [llm.Adapter].
func (a *Adapter) Convert(raw *llm.RawResponse, opts *llm.CallOptions) (*types.LLMResponse, error) {
	if raw == nil {
		return nil, fmt.Errorf("anyllm: nil raw response")
	}
	return &types.LLMResponse{
		Content:          raw.Content,
		Model:            raw.Model,
		Provider:         a.providerName,
		Usage:            raw.Usage,
		ToolCalls:        raw.ToolCalls,
		OptimizedHistory: []types.Message{},
	}, nil
}

// ExecuteFunctionCall implements [llm.Adapter]. Without a configured function
// backend every call yields a failed result record rather than an error.
func (a *Adapter) ExecuteFunctionCall(ctx context.Context, call types.ToolCall, available []types.ToolDefinition, repo *types.RepositoryContext) (*types.ToolExecutionResult, error) {
	if a.functions == nil {
		return &types.ToolExecutionResult{
			ToolCallID:   call.ID,
			FunctionName: call.Name,
			Success:      false,
			Error:        fmt.Sprintf("no function backend configured for provider %q", a.providerName),
		}, nil
	}
	return a.functions.Execute(ctx, call)
}

// AvailableFunctions implements [llm.Adapter].
func (a *Adapter) AvailableFunctions() []types.ToolDefinition {
	if a.functions == nil {
		return nil
	}
	return a.functions.Definitions()
}

// buildParams converts prepared call options into anyllm CompletionParams.
func buildParams(opts *llm.CallOptions) anyllmlib.CompletionParams {
	var messages []anyllmlib.Message

	if opts.SystemPrompt != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: opts.SystemPrompt,
		})
	}
	for _, m := range opts.Messages {
		messages = append(messages, anyllmlib.Message{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	params := anyllmlib.CompletionParams{
		Model:    opts.Model,
		Messages: messages,
	}

	if opts.Temperature != 0 {
		t := opts.Temperature
		params.Temperature = &t
	}
	if opts.MaxTokens > 0 {
		mt := opts.MaxTokens
		params.MaxTokens = &mt
	}

	for _, td := range opts.Tools {
		params.Tools = append(params.Tools, anyllmlib.Tool{
			Type: "function",
			Function: anyllmlib.Function{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  td.Parameters,
			},
		})
	}

	return params
}

// floatOption coerces a provider option value into a float64. JSON decoding
// and YAML config produce different numeric types for the same setting.
func floatOption(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// intOption coerces a provider option value into an int.
func intOption(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	}
	return 0, false
}

// contextWindowFor returns the context window in tokens for known model
// families. Unknown models receive a conservative 128k default.
func contextWindowFor(model string) int {
	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "gpt-4o"):
		return 128_000
	case strings.HasPrefix(lower, "gpt-4-turbo"):
		return 128_000
	case strings.HasPrefix(lower, "gpt-4"):
		return 8_192
	case strings.HasPrefix(lower, "gpt-3.5-turbo"):
		return 16_385
	case strings.HasPrefix(lower, "o1-mini"):
		return 128_000
	case strings.HasPrefix(lower, "o1"), strings.HasPrefix(lower, "o3"):
		return 200_000
	case strings.HasPrefix(lower, "claude"):
		return 200_000
	case strings.Contains(lower, "gemini-1.5-pro"):
		return 2_097_152
	case strings.Contains(lower, "gemini-1.5-flash"), strings.Contains(lower, "gemini-2.0-flash"):
		return 1_048_576
	case strings.HasPrefix(lower, "gemini"):
		return 128_000
	default:
		return 128_000
	}
}

// supportsToolCalling reports whether the model family supports native
// function calling. Only o1-mini among the known families does not.
func supportsToolCalling(model string) bool {
	return !strings.HasPrefix(strings.ToLower(model), "o1-mini")
}

var _ llm.Adapter = (*Adapter)(nil)
