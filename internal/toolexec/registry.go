// Package toolexec holds the function registry and the executor that runs
// LLM-issued tool calls against it.
//
// The executor never lets a failure escape as a Go error: missing handlers,
// malformed arguments, schema violations, handler errors and handler panics
// all become [types.ToolExecutionResult] records with Success=false. A batch
// therefore always yields exactly one result per call.
package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/MrWong99/repliq/pkg/types"
)

// Handler is an invocable tool implementation. args holds the parsed JSON
// arguments of the call.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// registration pairs a definition with its handler.
type registration struct {
	def     types.ToolDefinition
	handler Handler
}

// Registry maps function names to definitions and handlers.
// Registration overwrites by name; reads and writes are safe concurrently.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registration)}
}

// Register adds a function under name, replacing any previous registration.
// parameters is the JSON-schema-like description of the arguments: an object
// with "properties" and an optional "required" list.
func (r *Registry) Register(name string, handler Handler, description string, parameters map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = registration{
		def: types.ToolDefinition{
			Name:        name,
			Description: description,
			Parameters:  parameters,
		},
		handler: handler,
	}
}

// Definitions returns all registered definitions sorted by name.
func (r *Registry) Definitions() []types.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]types.ToolDefinition, 0, len(r.entries))
	for _, e := range r.entries {
		defs = append(defs, e.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Has reports whether a function is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// lookup returns the registration for name.
func (r *Registry) lookup(name string) (registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Validate checks call against def and returns a descriptive error when the
// call is invalid. The schema is closed: beyond requiring every parameter in
// the schema's "required" list, any argument key not declared under
// "properties" rejects the call.
func Validate(call types.ToolCall, def types.ToolDefinition) error {
	if call.Name != def.Name {
		return fmt.Errorf("toolexec: call names %q, definition is %q", call.Name, def.Name)
	}

	args, err := parseArguments(call.Arguments)
	if err != nil {
		return err
	}

	properties, _ := def.Parameters["properties"].(map[string]any)

	for _, name := range requiredNames(def.Parameters["required"]) {
		if _, present := args[name]; !present {
			return fmt.Errorf("toolexec: required parameter %q missing", name)
		}
	}

	for key := range args {
		if _, declared := properties[key]; !declared {
			return fmt.Errorf("toolexec: parameter %q not declared in schema", key)
		}
	}

	return nil
}

// requiredNames extracts the schema's required parameter list. Schemas that
// went through a JSON round-trip carry []any; natively built Go schemas carry
// []string. Both must enforce the same strictness.
func requiredNames(v any) []string {
	switch required := v.(type) {
	case []string:
		return required
	case []any:
		names := make([]string, 0, len(required))
		for _, r := range required {
			if name, ok := r.(string); ok {
				names = append(names, name)
			}
		}
		return names
	default:
		return nil
	}
}

// parseArguments decodes a call's JSON argument payload. Empty payloads
// decode to an empty map.
func parseArguments(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("toolexec: malformed arguments: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
