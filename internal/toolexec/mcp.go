package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/repliq/pkg/provider/llm"
	"github.com/MrWong99/repliq/pkg/types"
)

// Transport selects how a remote tool server is reached.
type Transport string

const (
	// TransportStdio launches the server as a subprocess speaking MCP over
	// stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP connects to a server over streamable HTTP.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a known transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// ServerConfig describes one external MCP tool server.
type ServerConfig struct {
	// Name identifies the server within the source. Required.
	Name string

	// Transport selects stdio or streamable-http.
	Transport Transport

	// Command is the executable plus arguments for stdio transport,
	// split on spaces.
	Command string

	// URL is the endpoint for streamable-http transport.
	URL string

	// Env holds additional environment variables for stdio servers.
	Env map[string]string
}

// remoteTool pairs an imported definition with its owning server.
type remoteTool struct {
	def        types.ToolDefinition
	serverName string
}

// RemoteSource imports tool definitions from external MCP servers and routes
// execution to them. It implements [llm.FunctionBackend], so it can be
// attached to a provider adapter as a managed tool backend.
//
// Safe for concurrent use.
type RemoteSource struct {
	mu       sync.RWMutex
	tools    map[string]remoteTool
	sessions map[string]*mcpsdk.ClientSession

	// client is reused across all server connections. The SDK allows a single
	// Client to manage multiple sessions concurrently.
	client *mcpsdk.Client
}

var _ llm.FunctionBackend = (*RemoteSource)(nil)

// NewRemoteSource creates a [RemoteSource] with no connected servers.
func NewRemoteSource() *RemoteSource {
	client := mcpsdk.NewClient(
		&mcpsdk.Implementation{Name: "repliq", Version: "1.0.0"},
		nil,
	)
	return &RemoteSource{
		tools:    make(map[string]remoteTool),
		sessions: make(map[string]*mcpsdk.ClientSession),
		client:   client,
	}
}

// RegisterServer connects to the server described by cfg and imports its tool
// catalogue. Registering a name again closes the old connection and replaces
// its tools.
func (s *RemoteSource) RegisterServer(ctx context.Context, cfg ServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("toolexec: server config must have a non-empty name")
	}
	if !cfg.Transport.IsValid() {
		return fmt.Errorf("toolexec: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case TransportStdio:
		parts := strings.Fields(cfg.Command)
		if len(parts) == 0 {
			return fmt.Errorf("toolexec: stdio server %q requires a non-empty Command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("toolexec: streamable-http server %q requires a non-empty URL", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	}

	session, err := s.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("toolexec: connect to server %q: %w", cfg.Name, err)
	}

	var imported []types.ToolDefinition
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("toolexec: list tools of server %q: %w", cfg.Name, err)
		}
		imported = append(imported, types.ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  schemaToMap(tool.InputSchema),
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.sessions[cfg.Name]; ok {
		_ = old.Close()
		for name, t := range s.tools {
			if t.serverName == cfg.Name {
				delete(s.tools, name)
			}
		}
	}

	s.sessions[cfg.Name] = session
	for _, def := range imported {
		s.tools[def.Name] = remoteTool{def: def, serverName: cfg.Name}
	}

	return nil
}

// Definitions implements [llm.FunctionBackend]. Definitions are sorted by
// name so that prompts built from them are deterministic.
func (s *RemoteSource) Definitions() []types.ToolDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defs := make([]types.ToolDefinition, 0, len(s.tools))
	for _, t := range s.tools {
		defs = append(defs, t.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute implements [llm.FunctionBackend]. Like the local executor it never
// returns a Go error for tool-level failures; unknown tools, bad argument
// payloads, transport failures and server-side errors all produce a
// Success=false record.
func (s *RemoteSource) Execute(ctx context.Context, call types.ToolCall) (*types.ToolExecutionResult, error) {
	result := &types.ToolExecutionResult{
		ToolCallID:   call.ID,
		FunctionName: call.Name,
	}

	s.mu.RLock()
	tool, ok := s.tools[call.Name]
	var session *mcpsdk.ClientSession
	if ok {
		session = s.sessions[tool.serverName]
	}
	s.mu.RUnlock()

	if !ok || session == nil {
		result.Error = fmt.Sprintf("remote tool %q not found", call.Name)
		return result, nil
	}

	var args map[string]any
	if call.Arguments != "" && call.Arguments != "{}" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			result.Error = fmt.Sprintf("invalid args JSON: %v", err)
			return result, nil
		}
	}

	callResult, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      call.Name,
		Arguments: args,
	})
	if err != nil {
		result.Error = fmt.Sprintf("call to server %q failed: %v", tool.serverName, err)
		return result, nil
	}

	var sb strings.Builder
	for _, c := range callResult.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}

	if callResult.IsError {
		result.Error = sb.String()
		return result, nil
	}
	result.Success = true
	result.Result = sb.String()
	return result, nil
}

// Close shuts down all server connections. The source must not be used after
// Close returns.
func (s *RemoteSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for name, session := range s.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("toolexec: closing server %q: %w", name, err)
		}
		delete(s.sessions, name)
	}
	s.tools = make(map[string]remoteTool)
	return firstErr
}

// schemaToMap converts any schema value to a map[string]any via a JSON
// round-trip when needed.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}
