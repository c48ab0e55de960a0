package toolexec

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/repliq/pkg/types"
)

func addNumbersSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
		"required": []any{"a", "b"},
	}
}

func addNumbers(ctx context.Context, args map[string]any) (any, error) {
	a, _ := args["a"].(float64)
	b, _ := args["b"].(float64)
	return a + b, nil
}

func newAddRegistry() *Registry {
	r := NewRegistry()
	r.Register("add_numbers", addNumbers, "Adds two numbers.", addNumbersSchema())
	return r
}

func TestValidate(t *testing.T) {
	def := types.ToolDefinition{Name: "add_numbers", Parameters: addNumbersSchema()}

	tests := []struct {
		name    string
		call    types.ToolCall
		wantErr bool
	}{
		{
			name: "exactly the required fields",
			call: types.ToolCall{Name: "add_numbers", Arguments: `{"a":2,"b":3}`},
		},
		{
			name:    "missing required field",
			call:    types.ToolCall{Name: "add_numbers", Arguments: `{"a":2}`},
			wantErr: true,
		},
		{
			name:    "undeclared field rejected",
			call:    types.ToolCall{Name: "add_numbers", Arguments: `{"a":2,"b":3,"c":4}`},
			wantErr: true,
		},
		{
			name:    "name mismatch",
			call:    types.ToolCall{Name: "subtract_numbers", Arguments: `{"a":2,"b":3}`},
			wantErr: true,
		},
		{
			name:    "malformed payload",
			call:    types.ToolCall{Name: "add_numbers", Arguments: `{"a":`},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.call, def)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_NativeStringSliceRequired(t *testing.T) {
	// Schemas built in Go carry "required" as []string instead of the []any a
	// JSON round-trip produces. Both forms enforce the same strictness.
	def := types.ToolDefinition{
		Name: "add_numbers",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"a": map[string]any{"type": "number"},
				"b": map[string]any{"type": "number"},
			},
			"required": []string{"a", "b"},
		},
	}

	if err := Validate(types.ToolCall{Name: "add_numbers", Arguments: `{"a":2}`}, def); err == nil {
		t.Error("Validate() accepted a call missing required parameter \"b\"")
	}
	if err := Validate(types.ToolCall{Name: "add_numbers", Arguments: `{"a":2,"b":3}`}, def); err != nil {
		t.Errorf("Validate() rejected a complete call: %v", err)
	}
}

func TestExecute_Success(t *testing.T) {
	e := NewExecutor(newAddRegistry())

	got := e.Execute(context.Background(), types.ToolCall{
		ID:        "c1",
		Name:      "add_numbers",
		Arguments: `{"a":2,"b":3}`,
	})

	if !got.Success {
		t.Fatalf("Success = false, error = %q", got.Error)
	}
	if got.ToolCallID != "c1" {
		t.Errorf("ToolCallID = %q, want c1", got.ToolCallID)
	}
	if got.Result != float64(5) {
		t.Errorf("Result = %v, want 5", got.Result)
	}
}

func TestExecute_FailureRecords(t *testing.T) {
	reg := newAddRegistry()
	reg.Register("fail", func(ctx context.Context, args map[string]any) (any, error) {
		return nil, errors.New("boom")
	}, "Always fails.", map[string]any{"type": "object", "properties": map[string]any{}})
	reg.Register("panic", func(ctx context.Context, args map[string]any) (any, error) {
		panic("unexpected state")
	}, "Always panics.", map[string]any{"type": "object", "properties": map[string]any{}})
	e := NewExecutor(reg)

	tests := []struct {
		name string
		call types.ToolCall
	}{
		{"unknown function", types.ToolCall{ID: "x1", Name: "nope", Arguments: `{}`}},
		{"malformed arguments", types.ToolCall{ID: "x2", Name: "add_numbers", Arguments: `not json`}},
		{"missing required argument", types.ToolCall{ID: "x3", Name: "add_numbers", Arguments: `{"a":1}`}},
		{"handler error", types.ToolCall{ID: "x4", Name: "fail", Arguments: `{}`}},
		{"handler panic", types.ToolCall{ID: "x5", Name: "panic", Arguments: `{}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Execute(context.Background(), tt.call)
			if got.Success {
				t.Errorf("Success = true, want failure record")
			}
			if got.Error == "" {
				t.Errorf("Error is empty, want failure description")
			}
			if got.ToolCallID != tt.call.ID {
				t.Errorf("ToolCallID = %q, want %q", got.ToolCallID, tt.call.ID)
			}
		})
	}
}

func TestExecuteAll_MiddleFailureDoesNotAbortBatch(t *testing.T) {
	reg := newAddRegistry()
	reg.Register("explode", func(ctx context.Context, args map[string]any) (any, error) {
		panic("kaboom")
	}, "Always panics.", map[string]any{"type": "object", "properties": map[string]any{}})
	e := NewExecutor(reg)

	calls := []types.ToolCall{
		{ID: "c1", Name: "add_numbers", Arguments: `{"a":1,"b":1}`},
		{ID: "c2", Name: "explode", Arguments: `{}`},
		{ID: "c3", Name: "add_numbers", Arguments: `{"a":2,"b":2}`},
	}

	results := e.ExecuteAll(context.Background(), calls)

	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	if !results[0].Success || !results[2].Success {
		t.Errorf("outer calls failed: %+v, %+v", results[0], results[2])
	}
	if results[1].Success {
		t.Errorf("middle call succeeded, want failure record")
	}
	for i, call := range calls {
		if results[i].ToolCallID != call.ID {
			t.Errorf("results[%d].ToolCallID = %q, want %q", i, results[i].ToolCallID, call.ID)
		}
	}
}

func TestExecuteAll_ParallelPreservesOrder(t *testing.T) {
	e := NewExecutor(newAddRegistry(), WithParallelExecution(true), WithParallelLimit(8))

	var calls []types.ToolCall
	for i := 0; i < 16; i++ {
		calls = append(calls, types.ToolCall{
			ID:        string(rune('a' + i)),
			Name:      "add_numbers",
			Arguments: `{"a":1,"b":1}`,
		})
	}

	results := e.ExecuteAll(context.Background(), calls)

	if len(results) != len(calls) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(calls))
	}
	for i, call := range calls {
		if results[i].ToolCallID != call.ID {
			t.Errorf("results[%d].ToolCallID = %q, want %q", i, results[i].ToolCallID, call.ID)
		}
		if !results[i].Success {
			t.Errorf("results[%d] failed: %q", i, results[i].Error)
		}
	}
}

func TestRegister_OverwritesByName(t *testing.T) {
	reg := NewRegistry()
	reg.Register("tool", func(ctx context.Context, args map[string]any) (any, error) {
		return "first", nil
	}, "v1", map[string]any{"type": "object", "properties": map[string]any{}})
	reg.Register("tool", func(ctx context.Context, args map[string]any) (any, error) {
		return "second", nil
	}, "v2", map[string]any{"type": "object", "properties": map[string]any{}})

	defs := reg.Definitions()
	if len(defs) != 1 {
		t.Fatalf("len(defs) = %d, want 1", len(defs))
	}
	if defs[0].Description != "v2" {
		t.Errorf("Description = %q, want the last registration to win", defs[0].Description)
	}

	e := NewExecutor(reg)
	got := e.Execute(context.Background(), types.ToolCall{ID: "c1", Name: "tool", Arguments: `{}`})
	if got.Result != "second" {
		t.Errorf("Result = %v, want %q", got.Result, "second")
	}
}
