package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/repliq/internal/observe"
	"github.com/MrWong99/repliq/pkg/provider/llm"
	"github.com/MrWong99/repliq/pkg/types"
)

// queryWithTools runs the tool-calling workflow: offer tools on the initial
// call, execute whatever the model requested, then make a tool-free follow-up
// call whose answer replaces the original content.
//
// Degradation rules:
//   - A failing tool never aborts the batch; it becomes a Success=false record.
//   - A failing follow-up call never fails the query; the original response is
//     returned with an empty ToolExecutionResults slice so clients can tell
//     "no follow-up happened" apart from "tools ran and produced results".
//
// Responses from this path are never cached.
func (o *Orchestrator) queryWithTools(ctx context.Context, log *slog.Logger, adapter llm.Adapter, req *types.QueryRequest, optimized []types.Message, info types.HistoryOptimization, systemPrompt string) (*types.LLMResponse, error) {
	defs := o.toolDefinitions(adapter)

	opts, err := adapter.PrepareOptions(llm.PrepareInput{
		Prompt:       req.Prompt,
		History:      optimized,
		Options:      req.ProviderOptions(),
		SystemPrompt: systemPrompt,
		Model:        req.Model,
		Tools:        defs,
		ToolChoice:   req.Tools.Choice,
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

	if len(raw.ToolCalls) == 0 {
		return resp, nil
	}
	if !req.Tools.CompleteFlow {
		// Caller wants the raw tool calls back, unexecuted.
		return resp, nil
	}

	results := o.executeToolCalls(ctx, adapter, req, raw.ToolCalls, defs)

	followupHistory := make([]types.Message, 0, len(optimized)+2)
	followupHistory = append(followupHistory, optimized...)
	followupHistory = append(followupHistory, types.NewUserMessage(req.Prompt))
	followupHistory = append(followupHistory, types.NewAssistantMessage(renderToolCallTurn(raw.ToolCalls)))

	degrade := func(stage string, err error) (*types.LLMResponse, error) {
		log.Warn("follow-up generation failed, returning tool-call response",
			slog.String("stage", stage), slog.Any("error", err))
		resp.ToolExecutionResults = []types.ToolExecutionResult{}
		return resp, nil
	}

	fopts, err := llm.PrepareFollowup(adapter, llm.FollowupInput{
		Prompt:       buildFollowupPrompt(results),
		History:      followupHistory,
		Options:      req.ProviderOptions(),
		SystemPrompt: systemPrompt,
		Model:        req.Model,
	})
	if err != nil {
		return degrade("prepare", err)
	}
	fraw, err := o.callProvider(ctx, adapter, fopts, o.followupTimeout)
	if err != nil {
		return degrade("call", err)
	}
	fresp, err := adapter.Convert(fraw, fopts)
	if err != nil {
		return degrade("convert", err)
	}

	// Merge: content is replaced, usage is summed, tool results attached.
	resp.Content = fresp.Content
	resp.Usage = resp.Usage.Add(fresp.Usage)
	resp.ToolExecutionResults = results
	return resp, nil
}

// toolDefinitions merges locally registered functions with the adapter's own
// offerings. Local definitions win on name collisions.
func (o *Orchestrator) toolDefinitions(adapter llm.Adapter) []types.ToolDefinition {
	var defs []types.ToolDefinition
	if o.tools != nil {
		defs = o.tools.Definitions()
	}
	seen := make(map[string]bool, len(defs))
	for _, d := range defs {
		seen[d.Name] = true
	}
	for _, d := range adapter.AvailableFunctions() {
		if !seen[d.Name] {
			defs = append(defs, d)
			seen[d.Name] = true
		}
	}
	return defs
}

// executeToolCalls runs every requested call and returns one result per call,
// in request order. Locally registered functions go through the executor;
// everything else is routed to the adapter's function backend.
func (o *Orchestrator) executeToolCalls(ctx context.Context, adapter llm.Adapter, req *types.QueryRequest, calls []types.ToolCall, defs []types.ToolDefinition) []types.ToolExecutionResult {
	var repo *types.RepositoryContext
	if req.Context != nil {
		repo = req.Context.Repository
	}

	start := time.Now()

	allLocal := o.executor != nil && o.tools != nil
	if allLocal {
		for _, c := range calls {
			if !o.tools.Has(c.Name) {
				allLocal = false
				break
			}
		}
	}

	var results []types.ToolExecutionResult
	if allLocal {
		results = o.executor.ExecuteAll(ctx, calls)
	} else {
		results = make([]types.ToolExecutionResult, len(calls))
		for i, call := range calls {
			if o.executor != nil && o.tools != nil && o.tools.Has(call.Name) {
				results[i] = o.executor.Execute(ctx, call)
				continue
			}
			res, err := adapter.ExecuteFunctionCall(ctx, call, defs, repo)
			switch {
			case err != nil:
				results[i] = types.ToolExecutionResult{
					ToolCallID:   call.ID,
					FunctionName: call.Name,
					Error:        err.Error(),
				}
			case res == nil:
				results[i] = types.ToolExecutionResult{
					ToolCallID:   call.ID,
					FunctionName: call.Name,
					Error:        "adapter returned no result",
				}
			default:
				results[i] = *res
			}
		}
	}

	o.metrics.ToolExecutionDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("provider", adapter.Name())))
	for _, r := range results {
		status := "ok"
		if !r.Success {
			status = "error"
		}
		o.metrics.RecordToolCall(ctx, r.FunctionName, status)
	}
	return results
}

// buildFollowupPrompt renders tool outcomes into the instruction for the
// follow-up call.
func buildFollowupPrompt(results []types.ToolExecutionResult) string {
	var sb strings.Builder
	sb.WriteString("The requested tools were executed with the following results:\n")
	for _, r := range results {
		if r.Success {
			fmt.Fprintf(&sb, "- %s returned: %s\n", r.FunctionName, renderResult(r.Result))
		} else {
			fmt.Fprintf(&sb, "- %s failed: %s\n", r.FunctionName, r.Error)
		}
	}
	sb.WriteString("\nAnswer the user's original question using these results. Do not mention the tool mechanics.")
	return sb.String()
}

// renderResult formats a tool result value for inclusion in a prompt.
func renderResult(v any) string {
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return fmt.Sprintf("%v", v)
}

// renderToolCallTurn renders the model's tool-call turn as plain text so it
// can appear in the follow-up history.
func renderToolCallTurn(calls []types.ToolCall) string {
	parts := make([]string, 0, len(calls))
	for _, c := range calls {
		parts = append(parts, fmt.Sprintf("%s(%s)", c.Name, c.Arguments))
	}
	return "Calling tools: " + strings.Join(parts, ", ")
}
