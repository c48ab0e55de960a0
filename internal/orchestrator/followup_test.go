package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/repliq/internal/cache"
	"github.com/MrWong99/repliq/internal/toolexec"
	"github.com/MrWong99/repliq/pkg/provider/llm"
	"github.com/MrWong99/repliq/pkg/provider/llm/mock"
	"github.com/MrWong99/repliq/pkg/types"
)

// newAddRegistry registers the add_numbers function used across the tool
// workflow tests.
func newAddRegistry() (*toolexec.Registry, *toolexec.Executor) {
	reg := toolexec.NewRegistry()
	reg.Register("add_numbers",
		func(ctx context.Context, args map[string]any) (any, error) {
			a, _ := args["a"].(float64)
			b, _ := args["b"].(float64)
			return a + b, nil
		},
		"Adds two numbers.",
		map[string]any{
			"properties": map[string]any{
				"a": map[string]any{"type": "number"},
				"b": map[string]any{"type": "number"},
			},
			"required": []any{"a", "b"},
		},
	)
	return reg, toolexec.NewExecutor(reg)
}

func toolRequest(prompt string) *types.QueryRequest {
	return &types.QueryRequest{
		Prompt:   prompt,
		Provider: "mock",
		Tools:    &types.ToolOptions{Enable: true, Choice: "auto", CompleteFlow: true},
	}
}

func addCall(id string) types.ToolCall {
	return types.ToolCall{ID: id, Name: "add_numbers", Arguments: `{"a":2,"b":3}`}
}

func TestQuery_ToolRoundTrip(t *testing.T) {
	a := &mock.Adapter{
		CallResponses: []*llm.RawResponse{
			{
				ToolCalls: []types.ToolCall{addCall("c1")},
				Usage:     types.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
			},
			{
				Content: "The sum is 5.",
				Usage:   types.Usage{PromptTokens: 20, CompletionTokens: 7, TotalTokens: 27},
			},
		},
	}
	reg, exec := newAddRegistry()
	o := newOrchestrator(a, WithTools(reg, exec))

	resp, err := o.Query(context.Background(), toolRequest("what is 2 plus 3"))
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	if resp.Content != "The sum is 5." {
		t.Errorf("Content = %q, want the follow-up answer", resp.Content)
	}
	if len(resp.ToolExecutionResults) != 1 {
		t.Fatalf("got %d tool results, want 1", len(resp.ToolExecutionResults))
	}
	res := resp.ToolExecutionResults[0]
	if res.ToolCallID != "c1" {
		t.Errorf("ToolCallID = %q, want %q", res.ToolCallID, "c1")
	}
	if !res.Success {
		t.Errorf("tool execution failed: %s", res.Error)
	}
	if got, ok := res.Result.(float64); !ok || got != 5 {
		t.Errorf("Result = %v, want 5", res.Result)
	}
	if resp.Usage.TotalTokens != 42 {
		t.Errorf("TotalTokens = %d, want 42 (summed across both calls)", resp.Usage.TotalTokens)
	}
	if len(a.CallCalls) != 2 {
		t.Errorf("adapter.Call invoked %d times, want 2", len(a.CallCalls))
	}
}

func TestQuery_FollowupCallNeverCarriesTools(t *testing.T) {
	a := &mock.Adapter{
		CallResponses: []*llm.RawResponse{
			{ToolCalls: []types.ToolCall{addCall("c1")}},
			{Content: "done"},
		},
	}
	reg, exec := newAddRegistry()
	o := newOrchestrator(a, WithTools(reg, exec))

	if _, err := o.Query(context.Background(), toolRequest("add them")); err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	if len(a.PrepareCalls) != 2 {
		t.Fatalf("PrepareOptions called %d times, want 2", len(a.PrepareCalls))
	}
	if len(a.PrepareCalls[0].In.Tools) == 0 {
		t.Error("initial call carried no tool definitions")
	}
	followup := a.PrepareCalls[1].In
	if len(followup.Tools) != 0 {
		t.Error("follow-up call carried tool definitions")
	}
	if followup.ToolChoice != "" {
		t.Errorf("follow-up ToolChoice = %q, want empty", followup.ToolChoice)
	}
}

func TestQuery_NoToolCallsReturnsDirectly(t *testing.T) {
	a := &mock.Adapter{
		CallResponses: []*llm.RawResponse{{Content: "plain answer"}},
	}
	reg, exec := newAddRegistry()
	o := newOrchestrator(a, WithTools(reg, exec))

	resp, err := o.Query(context.Background(), toolRequest("just answer"))
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if resp.Content != "plain answer" {
		t.Errorf("Content = %q, want %q", resp.Content, "plain answer")
	}
	if len(a.CallCalls) != 1 {
		t.Errorf("adapter.Call invoked %d times, want 1 when no tools were requested", len(a.CallCalls))
	}
}

func TestQuery_IncompleteFlowReturnsCallsUnexecuted(t *testing.T) {
	a := &mock.Adapter{
		CallResponses: []*llm.RawResponse{
			{ToolCalls: []types.ToolCall{addCall("c1")}},
		},
	}
	reg, exec := newAddRegistry()
	o := newOrchestrator(a, WithTools(reg, exec))

	req := toolRequest("add them")
	req.Tools.CompleteFlow = false

	resp, err := o.Query(context.Background(), req)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Errorf("got %d tool calls, want 1", len(resp.ToolCalls))
	}
	if len(resp.ToolExecutionResults) != 0 {
		t.Errorf("got %d tool results, want none without the complete flow", len(resp.ToolExecutionResults))
	}
	if len(a.CallCalls) != 1 {
		t.Errorf("adapter.Call invoked %d times, want 1", len(a.CallCalls))
	}
}

func TestQuery_FailingToolDoesNotAbortBatch(t *testing.T) {
	a := &mock.Adapter{
		CallResponses: []*llm.RawResponse{
			{ToolCalls: []types.ToolCall{
				addCall("c1"),
				{ID: "c2", Name: "no_such_tool", Arguments: `{}`},
				addCall("c3"),
			}},
			{Content: "merged answer"},
		},
	}
	reg, exec := newAddRegistry()
	o := newOrchestrator(a, WithTools(reg, exec))

	resp, err := o.Query(context.Background(), toolRequest("mixed batch"))
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	if len(resp.ToolExecutionResults) != 3 {
		t.Fatalf("got %d results, want 3", len(resp.ToolExecutionResults))
	}
	if !resp.ToolExecutionResults[0].Success || !resp.ToolExecutionResults[2].Success {
		t.Error("successful calls around the failure did not succeed")
	}
	failed := resp.ToolExecutionResults[1]
	if failed.Success {
		t.Error("unknown tool reported success")
	}
	if failed.ToolCallID != "c2" {
		t.Errorf("failed result ToolCallID = %q, want %q (order preserved)", failed.ToolCallID, "c2")
	}
	if resp.Content != "merged answer" {
		t.Errorf("Content = %q, want the follow-up answer despite one failing tool", resp.Content)
	}
}

func TestQuery_FollowupFailureDegradesGracefully(t *testing.T) {
	a := &mock.Adapter{
		CallResponses: []*llm.RawResponse{
			{
				Content:   "",
				ToolCalls: []types.ToolCall{addCall("c1")},
				Usage:     types.Usage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12},
			},
		},
		CallErrs: []error{nil, errors.New("rate limited")},
	}
	reg, exec := newAddRegistry()
	o := newOrchestrator(a, WithTools(reg, exec))

	resp, err := o.Query(context.Background(), toolRequest("add them"))
	if err != nil {
		t.Fatalf("Query() error = %v, want graceful degradation", err)
	}

	if resp.ToolExecutionResults == nil {
		t.Fatal("ToolExecutionResults is nil, want empty slice")
	}
	if len(resp.ToolExecutionResults) != 0 {
		t.Errorf("got %d tool results, want 0 after follow-up failure", len(resp.ToolExecutionResults))
	}
	if len(resp.ToolCalls) != 1 {
		t.Errorf("original tool calls were lost: got %d, want 1", len(resp.ToolCalls))
	}
	if resp.Usage.TotalTokens != 12 {
		t.Errorf("TotalTokens = %d, want the original 12 only", resp.Usage.TotalTokens)
	}
}

func TestQuery_ToolPathNeverCached(t *testing.T) {
	a := &mock.Adapter{
		CallResponses: []*llm.RawResponse{
			{ToolCalls: []types.ToolCall{addCall("c1")}},
			{Content: "answer"},
		},
	}
	mem := cache.NewMemory()
	reg, exec := newAddRegistry()
	o := newOrchestrator(a, WithTools(reg, exec), WithCache(mem))

	if _, err := o.Query(context.Background(), toolRequest("add them")); err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if mem.Len() != 0 {
		t.Errorf("cache holds %d entries, want 0 for the tool path", mem.Len())
	}
}

func TestQuery_AdapterFunctionsRoutedToAdapter(t *testing.T) {
	a := &mock.Adapter{
		Functions: []types.ToolDefinition{{Name: "search_code", Description: "Searches the repository."}},
		ExecuteResults: map[string]*types.ToolExecutionResult{
			"search_code": {ToolCallID: "c1", FunctionName: "search_code", Success: true, Result: "3 matches"},
		},
		CallResponses: []*llm.RawResponse{
			{ToolCalls: []types.ToolCall{{ID: "c1", Name: "search_code", Arguments: `{"query":"foo"}`}}},
			{Content: "found it"},
		},
	}
	reg, exec := newAddRegistry()
	o := newOrchestrator(a, WithTools(reg, exec))

	resp, err := o.Query(context.Background(), toolRequest("search for foo"))
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	if len(a.ExecuteCalls) != 1 {
		t.Fatalf("adapter.ExecuteFunctionCall invoked %d times, want 1", len(a.ExecuteCalls))
	}
	if len(resp.ToolExecutionResults) != 1 || !resp.ToolExecutionResults[0].Success {
		t.Fatalf("unexpected results: %+v", resp.ToolExecutionResults)
	}
	if resp.ToolExecutionResults[0].Result != "3 matches" {
		t.Errorf("Result = %v, want the adapter backend's result", resp.ToolExecutionResults[0].Result)
	}
}

func TestQuery_ToolDefinitionsMergedLocalWins(t *testing.T) {
	a := &mock.Adapter{
		Functions: []types.ToolDefinition{
			{Name: "add_numbers", Description: "shadowed"},
			{Name: "search_code", Description: "Searches the repository."},
		},
		CallResponses: []*llm.RawResponse{{Content: "no tools needed"}},
	}
	reg, exec := newAddRegistry()
	o := newOrchestrator(a, WithTools(reg, exec))

	if _, err := o.Query(context.Background(), toolRequest("hi")); err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	offered := a.PrepareCalls[0].In.Tools
	if len(offered) != 2 {
		t.Fatalf("offered %d definitions, want 2 after dedup", len(offered))
	}
	byName := make(map[string]types.ToolDefinition, len(offered))
	for _, d := range offered {
		byName[d.Name] = d
	}
	if byName["add_numbers"].Description == "shadowed" {
		t.Error("adapter definition shadowed the locally registered one")
	}
	if _, ok := byName["search_code"]; !ok {
		t.Error("adapter-only definition was dropped")
	}
}

func TestQuery_SystemPromptIncludesToolPolicy(t *testing.T) {
	a := &mock.Adapter{
		CallResponses: []*llm.RawResponse{{Content: "ok"}},
	}
	reg, exec := newAddRegistry()
	o := newOrchestrator(a, WithTools(reg, exec))

	if _, err := o.Query(context.Background(), toolRequest("hi")); err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if got := a.PrepareCalls[0].In.SystemPrompt; got == "" {
		t.Error("tool-enabled query produced an empty system prompt")
	}
}
