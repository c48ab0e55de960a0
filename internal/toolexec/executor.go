package toolexec

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/repliq/pkg/types"
)

// defaultParallelLimit bounds concurrent handler invocations in parallel mode.
const defaultParallelLimit = 4

// Executor runs tool calls against a [Registry].
type Executor struct {
	registry *Registry
	parallel bool
	limit    int
}

// ExecutorOption configures an [Executor].
type ExecutorOption func(*Executor)

// WithParallelExecution enables concurrent batch execution. Result ordering
// stays aligned with the input calls either way; only wall-clock behavior
// changes. The default is sequential execution.
func WithParallelExecution(on bool) ExecutorOption {
	return func(e *Executor) { e.parallel = on }
}

// WithParallelLimit caps the number of concurrently running handlers in
// parallel mode. Values below one fall back to the default of 4.
func WithParallelLimit(n int) ExecutorOption {
	return func(e *Executor) { e.limit = n }
}

// NewExecutor creates an [Executor] over the given registry.
func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{registry: registry, limit: defaultParallelLimit}
	for _, opt := range opts {
		opt(e)
	}
	if e.limit < 1 {
		e.limit = defaultParallelLimit
	}
	return e
}

// Execute runs one tool call and always returns a result record, never an
// error: lookup failures, invalid arguments, handler errors and handler
// panics are all captured as Success=false.
func (e *Executor) Execute(ctx context.Context, call types.ToolCall) types.ToolExecutionResult {
	result := types.ToolExecutionResult{
		ToolCallID:   call.ID,
		FunctionName: call.Name,
	}

	reg, ok := e.registry.lookup(call.Name)
	if !ok {
		result.Error = fmt.Sprintf("function %q not found", call.Name)
		return result
	}

	if err := Validate(call, reg.def); err != nil {
		result.Error = err.Error()
		return result
	}

	args, err := parseArguments(call.Arguments)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	value, err := e.invoke(ctx, reg.handler, args)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Success = true
	result.Result = value
	return result
}

// ExecuteAll runs every call independently and returns one result per call,
// in input order. A failing call never aborts the rest of the batch.
func (e *Executor) ExecuteAll(ctx context.Context, calls []types.ToolCall) []types.ToolExecutionResult {
	results := make([]types.ToolExecutionResult, len(calls))

	if !e.parallel || len(calls) < 2 {
		for i, call := range calls {
			results[i] = e.Execute(ctx, call)
		}
		return results
	}

	var g errgroup.Group
	g.SetLimit(e.limit)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = e.Execute(ctx, call)
			return nil
		})
	}
	// Handlers never surface errors through the group.
	_ = g.Wait()
	return results
}

// invoke calls the handler with panic recovery.
func (e *Executor) invoke(ctx context.Context, handler Handler, args map[string]any) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = fmt.Errorf("toolexec: handler panicked: %v", r)
		}
	}()
	return handler(ctx, args)
}
