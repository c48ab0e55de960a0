// Package openai provides an [llm.Adapter] backed directly by the OpenAI API.
//
// Unlike the anyllm adapter, this one uses the official SDK and so gets exact
// token accounting via tiktoken and native tool_choice control.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/repliq/pkg/provider/llm"
	"github.com/MrWong99/repliq/pkg/tokens"
	"github.com/MrWong99/repliq/pkg/types"
)

// Adapter implements [llm.Adapter] using the OpenAI API.
type Adapter struct {
	client       oai.Client
	defaultModel string
	estimator    tokens.Estimator
	functions    llm.FunctionBackend
}

// config holds optional configuration for the adapter.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	functions    llm.FunctionBackend
}

// Option is a functional option for [New].
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Useful for
// OpenAI-compatible servers.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithFunctionBackend attaches a managed tool server whose functions are
// offered alongside locally registered ones.
func WithFunctionBackend(fb llm.FunctionBackend) Option {
	return func(c *config) {
		c.functions = fb
	}
}

// New constructs an OpenAI [Adapter].
func New(apiKey string, defaultModel string, opts ...Option) (*Adapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if defaultModel == "" {
		return nil, fmt.Errorf("openai: defaultModel must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Adapter{
		client:       oai.NewClient(reqOpts...),
		defaultModel: defaultModel,
		estimator:    tokens.ForModel(defaultModel),
		functions:    cfg.functions,
	}, nil
}

// Name implements [llm.Adapter].
func (a *Adapter) Name() string {
	return "openai"
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

// EstimateTokens implements [llm.Adapter]. Counts are exact BPE counts when
// tiktoken knows the model, heuristic otherwise.
func (a *Adapter) EstimateTokens(text string) int {
	return a.estimator.EstimateText(text)
}

// PrepareOptions implements [llm.Adapter].
func (a *Adapter) PrepareOptions(in llm.PrepareInput) (*llm.CallOptions, error) {
	if strings.TrimSpace(in.Prompt) == "" {
		return nil, fmt.Errorf("openai: prompt must not be empty")
	}
	for i, m := range in.History {
		if !m.Role.IsValid() {
			return nil, fmt.Errorf("openai: history message %d has unknown role %q", i, m.Role)
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
			t, ok := val.(float64)
			if !ok {
				return nil, fmt.Errorf("openai: option %q: expected number, got %T", key, val)
			}
			opts.Temperature = t
		case "max_tokens":
			switch n := val.(type) {
			case int:
				opts.MaxTokens = n
			case float64:
				opts.MaxTokens = int(n)
			default:
				return nil, fmt.Errorf("openai: option %q: expected integer, got %T", key, val)
			}
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
	params, err := buildParams(opts)
	if err != nil {
		return nil, fmt.Errorf("openai: build params: %w", err)
	}

	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices in response")
	}

	choice := resp.Choices[0]
	raw := &llm.RawResponse{
		Content: choice.Message.Content,
		Model:   resp.Model,
		Usage: types.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
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
	params, err := buildParams(opts)
	if err != nil {
		return nil, fmt.Errorf("openai: build params: %w", err)
	}

	stream := a.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai: start stream: %w", err)
	}

	ch := make(chan llm.Fragment, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
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

		if err := stream.Err(); err != nil {
			select {
			case ch <- llm.Fragment{Err: fmt.Errorf("openai: stream: %w", err), Done: true}:
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
		return nil, fmt.Errorf("openai: nil raw response")
	}
	return &types.LLMResponse{
		Content:          raw.Content,
		Model:            raw.Model,
		Provider:         a.Name(),
		Usage:            raw.Usage,
		ToolCalls:        raw.ToolCalls,
		OptimizedHistory: []types.Message{},
	}, nil
}

// ExecuteFunctionCall implements [llm.Adapter].
func (a *Adapter) ExecuteFunctionCall(ctx context.Context, call types.ToolCall, available []types.ToolDefinition, repo *types.RepositoryContext) (*types.ToolExecutionResult, error) {
	if a.functions == nil {
		return &types.ToolExecutionResult{
			ToolCallID:   call.ID,
			FunctionName: call.Name,
			Success:      false,
			Error:        "no function backend configured for provider \"openai\"",
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

// buildParams converts prepared call options into OpenAI SDK params.
func buildParams(opts *llm.CallOptions) (oai.ChatCompletionNewParams, error) {
	var messages []oai.ChatCompletionMessageParamUnion

	if opts.SystemPrompt != "" {
		messages = append(messages, oai.SystemMessage(opts.SystemPrompt))
	}

	for _, m := range opts.Messages {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, msg)
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(opts.Model),
		Messages: messages,
	}

	if opts.Temperature != 0 {
		params.Temperature = param.NewOpt(opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(opts.MaxTokens))
	}

	for _, td := range opts.Tools {
		params.Tools = append(params.Tools, oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        td.Name,
				Description: param.NewOpt(td.Description),
				Parameters:  shared.FunctionParameters(td.Parameters),
			},
		})
	}
	if len(opts.Tools) > 0 && opts.ToolChoice != "" {
		switch opts.ToolChoice {
		case "auto", "none", "required":
			params.ToolChoice = oai.ChatCompletionToolChoiceOptionUnionParam{
				OfAuto: param.NewOpt(opts.ToolChoice),
			}
		default:
			params.ToolChoice = oai.ChatCompletionToolChoiceOptionUnionParam{
				OfChatCompletionNamedToolChoice: &oai.ChatCompletionNamedToolChoiceParam{
					Function: oai.ChatCompletionNamedToolChoiceFunctionParam{
						Name: opts.ToolChoice,
					},
				},
			}
		}
	}

	return params, nil
}

// convertMessage converts a types.Message to an OpenAI SDK message param.
func convertMessage(m types.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case types.RoleSystem:
		return oai.SystemMessage(m.Content), nil

	case types.RoleUser:
		return oai.UserMessage(m.Content), nil

	case types.RoleAssistant:
		asst := oai.ChatCompletionAssistantMessageParam{}
		if m.Content != "" {
			asst.Content.OfString = oai.String(m.Content)
		}
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil

	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
	}
}

// contextWindowFor returns the context window in tokens for known OpenAI
// model names.
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
	default:
		return 128_000
	}
}

// supportsToolCalling reports whether the model supports function calling.
func supportsToolCalling(model string) bool {
	return !strings.HasPrefix(strings.ToLower(model), "o1-mini")
}

var _ llm.Adapter = (*Adapter)(nil)
