// Package orchestrator coordinates the full lifecycle of a query: validation,
// provider resolution, history optimization, system prompt construction,
// response caching, tool execution, and the post-tool follow-up call.
//
// The orchestrator owns all cross-cutting policy. Provider adapters stay
// vendor-shaped and policy-free; everything above them (what to cache, when
// to truncate history, how tool results flow back into a second call) is
// decided here and nowhere else.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/repliq/internal/cache"
	"github.com/MrWong99/repliq/internal/history"
	"github.com/MrWong99/repliq/internal/observe"
	"github.com/MrWong99/repliq/internal/promptbuild"
	"github.com/MrWong99/repliq/internal/toolexec"
	"github.com/MrWong99/repliq/pkg/provider/llm"
	"github.com/MrWong99/repliq/pkg/types"
)

const (
	// defaultCacheTTL bounds how long a cached response stays servable.
	defaultCacheTTL = 15 * time.Minute

	// defaultHistoryBudget is the token budget applied to conversation
	// histories before the provider call.
	defaultHistoryBudget = 6000

	// defaultPreserveRecent is how many of the newest history messages survive
	// optimization unconditionally.
	defaultPreserveRecent = 4

	// defaultCallTimeout bounds the initial provider round trip.
	defaultCallTimeout = 60 * time.Second

	// defaultFollowupTimeout bounds the post-tool follow-up round trip. It is
	// tighter than the initial timeout because by then the user already waited
	// for the first call and the tool executions.
	defaultFollowupTimeout = 30 * time.Second
)

// DocumentFetcher loads document bodies on demand when a request asks for
// automatic content inclusion.
type DocumentFetcher interface {
	// Fetch returns the content of the document at path within repo.
	Fetch(ctx context.Context, repo *types.RepositoryContext, path string) (string, error)
}

// Orchestrator executes queries end to end. Construct with [New]; the zero
// value is not usable. Safe for concurrent use.
type Orchestrator struct {
	providers *llm.Registry
	tools     *toolexec.Registry
	executor  *toolexec.Executor
	cache     cache.Cache
	optimizer *history.Optimizer
	prompts   *promptbuild.Builder
	metrics   *observe.Metrics
	fetcher   DocumentFetcher

	summarizer         history.Summarizer
	customInstructions string

	cacheTTL        time.Duration
	historyBudget   int
	preserveRecent  int
	callTimeout     time.Duration
	followupTimeout time.Duration
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithCache installs a response cache. Without one, every query hits the
// provider.
func WithCache(c cache.Cache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithCacheTTL sets the TTL for stored responses.
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *Orchestrator) { o.cacheTTL = ttl }
}

// WithTools installs the local function registry and its executor.
func WithTools(reg *toolexec.Registry, exec *toolexec.Executor) Option {
	return func(o *Orchestrator) {
		o.tools = reg
		o.executor = exec
	}
}

// WithHistoryBudget sets the token budget and the preserved tail length for
// history optimization. A budget of zero or below disables truncation.
func WithHistoryBudget(maxTokens, preserveRecent int) Option {
	return func(o *Orchestrator) {
		o.historyBudget = maxTokens
		o.preserveRecent = preserveRecent
	}
}

// WithOptimizer replaces the default history optimizer.
func WithOptimizer(opt *history.Optimizer) Option {
	return func(o *Orchestrator) { o.optimizer = opt }
}

// WithSummarizer switches history optimization from plain truncation to
// LLM-backed summarisation.
func WithSummarizer(s history.Summarizer) Option {
	return func(o *Orchestrator) { o.summarizer = s }
}

// WithMetrics replaces the default metrics instance. Tests use this to
// isolate instrument state.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithDocumentFetcher installs the fetcher used when a request sets
// AutoFetchDocument.
func WithDocumentFetcher(f DocumentFetcher) Option {
	return func(o *Orchestrator) { o.fetcher = f }
}

// WithCustomInstructions sets deployment-wide instructions that lead every
// system prompt.
func WithCustomInstructions(text string) Option {
	return func(o *Orchestrator) { o.customInstructions = text }
}

// WithCallTimeout bounds the initial provider round trip.
func WithCallTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.callTimeout = d }
}

// WithFollowupTimeout bounds the post-tool follow-up round trip.
func WithFollowupTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.followupTimeout = d }
}

// New creates an [Orchestrator] over the given provider registry.
func New(providers *llm.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		providers:       providers,
		optimizer:       history.NewOptimizer(nil),
		prompts:         promptbuild.NewBuilder(),
		cacheTTL:        defaultCacheTTL,
		historyBudget:   defaultHistoryBudget,
		preserveRecent:  defaultPreserveRecent,
		callTimeout:     defaultCallTimeout,
		followupTimeout: defaultFollowupTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// Query executes one blocking query and returns the normalized response.
//
// The flow is: validate → resolve provider → (cache lookup) → optimize
// history → build system prompt → prepare → call → convert. When the request
// enables tools, the tool workflow in followup.go takes over after provider
// resolution and the cache is skipped entirely: tool execution has side
// effects that must not be replayed from a cache.
func (o *Orchestrator) Query(ctx context.Context, req *types.QueryRequest) (*types.LLMResponse, error) {
	start := time.Now()

	if err := validateRequest(req); err != nil {
		return nil, err
	}
	adapter, err := o.providers.Resolve(req.Provider)
	if err != nil {
		return nil, err
	}

	ctx, span := observe.StartSpan(ctx, "orchestrator.Query")
	defer span.End()
	defer func() {
		o.metrics.QueryDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(observe.Attr("provider", req.Provider)))
	}()

	log := observe.Logger(ctx).With(
		slog.String("request_id", uuid.NewString()),
		slog.String("provider", req.Provider),
	)

	toolsEnabled := req.ToolsEnabled()

	var key string
	if !toolsEnabled && !req.BypassCache() && o.cache != nil {
		key = cache.Key(req.Provider, req.Model, req.Prompt, req.History, req.ProviderOptions(), req.Context)
		cached, found, err := o.cache.Get(ctx, key)
		switch {
		case err != nil:
			// Cache failures are advisory; proceed as a miss.
			o.metrics.RecordCacheLookup(ctx, "error")
			log.Warn("cache lookup failed", slog.Any("error", err))
		case found:
			o.metrics.RecordCacheLookup(ctx, "hit")
			log.Debug("serving cached response")
			return cached, nil
		default:
			o.metrics.RecordCacheLookup(ctx, "miss")
		}
	}

	optimized, info := o.optimizeHistory(ctx, req)
	systemPrompt := o.systemPromptFor(ctx, log, req, toolsEnabled)

	if toolsEnabled {
		return o.queryWithTools(ctx, log, adapter, req, optimized, info, systemPrompt)
	}

	opts, err := adapter.PrepareOptions(llm.PrepareInput{
		Prompt:       req.Prompt,
		History:      optimized,
		Options:      req.ProviderOptions(),
		SystemPrompt: systemPrompt,
		Model:        req.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	raw, err := o.callProvider(ctx, adapter, opts, o.callTimeout)
	if err != nil {
		return nil, err
	}
	resp, err := adapter.Convert(raw, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: convert %s response: %v", ErrProviderCall, adapter.Name(), err)
	}
	o.attachOptimization(resp, optimized, info)

	if key != "" {
		if err := o.cache.Set(ctx, key, resp, o.cacheTTL); err != nil {
			log.Warn("cache store failed", slog.Any("error", err))
		}
	}
	return resp, nil
}

// StreamQuery executes one streaming query. The returned channel emits zero
// or more content chunks followed by exactly one terminal chunk, then closes.
// Failures after the stream has started arrive as a terminal chunk with Err
// set. Tool calling does not apply to streaming queries; the provider call is
// always prepared without tools.
func (o *Orchestrator) StreamQuery(ctx context.Context, req *types.QueryRequest) (<-chan types.StreamChunk, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	adapter, err := o.providers.Resolve(req.Provider)
	if err != nil {
		return nil, err
	}

	log := observe.Logger(ctx).With(
		slog.String("request_id", uuid.NewString()),
		slog.String("provider", req.Provider),
	)

	optimized, _ := o.optimizeHistory(ctx, req)
	systemPrompt := o.systemPromptFor(ctx, log, req, false)

	opts, err := adapter.PrepareOptions(llm.PrepareInput{
		Prompt:       req.Prompt,
		History:      optimized,
		Options:      req.ProviderOptions(),
		SystemPrompt: systemPrompt,
		Model:        req.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	fragments, err := adapter.Stream(ctx, opts)
	if err != nil {
		o.metrics.RecordProviderError(ctx, adapter.Name(), "llm")
		return nil, fmt.Errorf("%w: %s: %v", ErrProviderCall, adapter.Name(), err)
	}

	out := make(chan types.StreamChunk)
	o.metrics.ActiveStreams.Add(ctx, 1)

	go func() {
		defer close(out)
		defer o.metrics.ActiveStreams.Add(context.WithoutCancel(ctx), -1)

		send := func(c types.StreamChunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for f := range fragments {
			switch {
			case f.Err != nil:
				log.Warn("stream failed", slog.Any("error", f.Err))
				send(types.StreamChunk{Done: true, Err: f.Err})
				return
			case f.Done:
				send(types.StreamChunk{Done: true})
				return
			default:
				if !send(types.StreamChunk{Content: f.Text}) {
					return
				}
			}
		}
		// The adapter closed without a terminal fragment; synthesise one so
		// consumers always see exactly one Done chunk.
		send(types.StreamChunk{Done: true})
	}()

	return out, nil
}

// validateRequest rejects structurally invalid requests before any provider
// work happens.
func validateRequest(req *types.QueryRequest) error {
	if req == nil {
		return fmt.Errorf("%w: request is nil", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return fmt.Errorf("%w: prompt must not be empty", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Provider) == "" {
		return fmt.Errorf("%w: provider must not be empty", ErrInvalidRequest)
	}
	for i, m := range req.History {
		if !m.Role.IsValid() {
			return fmt.Errorf("%w: history message %d has unknown role %q", ErrInvalidRequest, i, m.Role)
		}
	}
	return nil
}

// callProvider performs one provider round trip with timeout and metrics.
func (o *Orchestrator) callProvider(ctx context.Context, adapter llm.Adapter, opts *llm.CallOptions, timeout time.Duration) (*llm.RawResponse, error) {
	cctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := adapter.Call(cctx, opts)
	o.metrics.ProviderCallDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("provider", adapter.Name())))

	if err != nil {
		o.metrics.RecordProviderRequest(ctx, adapter.Name(), "llm", "error")
		o.metrics.RecordProviderError(ctx, adapter.Name(), "llm")
		return nil, fmt.Errorf("%w: %s: %v", ErrProviderCall, adapter.Name(), err)
	}
	o.metrics.RecordProviderRequest(ctx, adapter.Name(), "llm", "ok")
	return raw, nil
}

// optimizeHistory applies the configured optimization strategy.
func (o *Orchestrator) optimizeHistory(ctx context.Context, req *types.QueryRequest) ([]types.Message, types.HistoryOptimization) {
	if o.summarizer != nil {
		return o.optimizer.SummarizeOptimize(ctx, req.History, o.summarizer, o.preserveRecent)
	}
	return o.optimizer.Optimize(req.History, o.historyBudget, o.preserveRecent)
}

// systemPromptFor builds the system prompt for req, including fetched or
// supplied document content when available.
func (o *Orchestrator) systemPromptFor(ctx context.Context, log *slog.Logger, req *types.QueryRequest, toolsEnabled bool) string {
	in := promptbuild.Input{
		IncludeContext:     req.Context != nil || toolsEnabled,
		ToolsEnabled:       toolsEnabled,
		CustomInstructions: o.customInstructions,
	}

	var doc *types.DocumentMetadata
	if req.Context != nil {
		in.Repository = req.Context.Repository
		in.Document = req.Context.Document
		doc = req.Context.Document
	}
	prompt := o.prompts.Build(in)

	var content string
	if doc != nil {
		content = doc.Content
	}
	if content == "" && doc != nil && req.Context.AutoFetchDocument && o.fetcher != nil {
		fetched, err := o.fetcher.Fetch(ctx, req.Context.Repository, doc.Path)
		if err != nil {
			log.Warn("document fetch failed",
				slog.String("path", doc.Path), slog.Any("error", err))
		} else {
			content = fetched
		}
	}
	if content != "" {
		section := fmt.Sprintf("Content of %s:\n%s", doc.Path, content)
		prompt = strings.TrimSpace(prompt + "\n\n" + section)
	}
	return prompt
}

// attachOptimization populates the history fields every response must carry.
func (o *Orchestrator) attachOptimization(resp *types.LLMResponse, optimized []types.Message, info types.HistoryOptimization) {
	resp.OptimizedHistory = types.CopyMessages(optimized)
	resp.Optimization = info
}
