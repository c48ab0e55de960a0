package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/MrWong99/repliq/internal/orchestrator"
	"github.com/MrWong99/repliq/pkg/provider/llm"
	"github.com/MrWong99/repliq/pkg/types"
)

// queryPayload is the JSON body accepted by the query endpoints. It mirrors
// the optional groups of [types.QueryRequest].
type queryPayload struct {
	Prompt   string           `json:"prompt"`
	Provider string           `json:"provider"`
	Model    string           `json:"model,omitempty"`
	History  []messagePayload `json:"history,omitempty"`

	Tools *struct {
		Enable       bool   `json:"enable"`
		Choice       string `json:"choice,omitempty"`
		CompleteFlow bool   `json:"complete_flow,omitempty"`
	} `json:"tools,omitempty"`

	Context *struct {
		Repository *struct {
			Owner       string `json:"owner"`
			Name        string `json:"name"`
			CurrentPath string `json:"current_path,omitempty"`
		} `json:"repository,omitempty"`
		Document *struct {
			Path    string `json:"path"`
			Type    string `json:"type,omitempty"`
			Content string `json:"content,omitempty"`
		} `json:"document,omitempty"`
		AutoFetchDocument bool `json:"auto_fetch_document,omitempty"`
	} `json:"context,omitempty"`

	Processing *struct {
		BypassCache     bool           `json:"bypass_cache,omitempty"`
		ProviderOptions map[string]any `json:"provider_options,omitempty"`
	} `json:"processing,omitempty"`
}

type messagePayload struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// toRequest converts the wire payload into the internal request model.
func (p *queryPayload) toRequest() *types.QueryRequest {
	req := &types.QueryRequest{
		Prompt:   p.Prompt,
		Provider: p.Provider,
		Model:    p.Model,
	}
	for _, m := range p.History {
		req.History = append(req.History, types.Message{
			Role:    types.Role(m.Role),
			Content: m.Content,
		})
	}
	if p.Tools != nil {
		req.Tools = &types.ToolOptions{
			Enable:       p.Tools.Enable,
			Choice:       p.Tools.Choice,
			CompleteFlow: p.Tools.CompleteFlow,
		}
	}
	if p.Context != nil {
		qc := &types.QueryContext{AutoFetchDocument: p.Context.AutoFetchDocument}
		if p.Context.Repository != nil {
			qc.Repository = &types.RepositoryContext{
				Owner:       p.Context.Repository.Owner,
				Name:        p.Context.Repository.Name,
				CurrentPath: p.Context.Repository.CurrentPath,
			}
		}
		if p.Context.Document != nil {
			qc.Document = &types.DocumentMetadata{
				Path:    p.Context.Document.Path,
				Type:    types.DocumentType(p.Context.Document.Type),
				Content: p.Context.Document.Content,
			}
		}
		req.Context = qc
	}
	if p.Processing != nil {
		req.Processing = &types.ProcessingOptions{
			BypassCache:     p.Processing.BypassCache,
			ProviderOptions: p.Processing.ProviderOptions,
		}
	}
	return req
}

// queryResponse is the JSON body returned by /v1/query.
type queryResponse struct {
	Content  string       `json:"content"`
	Model    string       `json:"model,omitempty"`
	Provider string       `json:"provider"`
	Usage    usagePayload `json:"usage"`

	ToolCalls            []toolCallPayload   `json:"tool_calls,omitempty"`
	ToolExecutionResults []toolResultPayload `json:"tool_execution_results,omitempty"`

	OptimizedHistory []messagePayload    `json:"optimized_history"`
	Optimization     optimizationPayload `json:"optimization"`
}

type usagePayload struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type toolCallPayload struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type toolResultPayload struct {
	ToolCallID   string `json:"tool_call_id"`
	FunctionName string `json:"function_name"`
	Success      bool   `json:"success"`
	Result       any    `json:"result,omitempty"`
	Error        string `json:"error,omitempty"`
}

type optimizationPayload struct {
	Optimized          bool   `json:"optimized"`
	OriginalMessages   int    `json:"original_messages"`
	OptimizedMessages  int    `json:"optimized_messages"`
	OriginalTokens     int    `json:"original_tokens"`
	OptimizedTokens    int    `json:"optimized_tokens"`
	SummarizationError string `json:"summarization_error,omitempty"`
}

func toResponsePayload(resp *types.LLMResponse) queryResponse {
	out := queryResponse{
		Content:  resp.Content,
		Model:    resp.Model,
		Provider: resp.Provider,
		Usage: usagePayload{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		OptimizedHistory: make([]messagePayload, 0, len(resp.OptimizedHistory)),
		Optimization: optimizationPayload{
			Optimized:          resp.Optimization.Optimized,
			OriginalMessages:   resp.Optimization.OriginalMessages,
			OptimizedMessages:  resp.Optimization.OptimizedMessages,
			OriginalTokens:     resp.Optimization.OriginalTokens,
			OptimizedTokens:    resp.Optimization.OptimizedTokens,
			SummarizationError: resp.Optimization.SummarizationError,
		},
	}
	for _, m := range resp.OptimizedHistory {
		out.OptimizedHistory = append(out.OptimizedHistory, messagePayload{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	for _, c := range resp.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, toolCallPayload{
			ID: c.ID, Name: c.Name, Arguments: c.Arguments,
		})
	}
	if resp.ToolExecutionResults != nil {
		out.ToolExecutionResults = make([]toolResultPayload, 0, len(resp.ToolExecutionResults))
		for _, r := range resp.ToolExecutionResults {
			out.ToolExecutionResults = append(out.ToolExecutionResults, toolResultPayload{
				ToolCallID:   r.ToolCallID,
				FunctionName: r.FunctionName,
				Success:      r.Success,
				Result:       r.Result,
				Error:        r.Error,
			})
		}
	}
	return out
}

type errorPayload struct {
	Error string `json:"error"`
}

// handleQuery serves POST /v1/query: decode, run the query workflow, encode.
func handleQuery(orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload queryPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
			return
		}

		resp, err := orch.Query(r.Context(), payload.toRequest())
		if err != nil {
			status := statusFor(err)
			writeError(w, status, err.Error())
			return
		}

		writeJSON(w, http.StatusOK, toResponsePayload(resp))
	}
}

// streamEvent is one server-sent event of /v1/query/stream.
type streamEvent struct {
	Content string `json:"content,omitempty"`
	Done    bool   `json:"done,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handleStreamQuery serves POST /v1/query/stream as server-sent events: one
// "data:" line per chunk, ending with a terminal done event.
func handleStreamQuery(orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload queryPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
			return
		}

		chunks, err := orch.StreamQuery(r.Context(), payload.toRequest())
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming unsupported by connection")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)

		for chunk := range chunks {
			ev := streamEvent{Content: chunk.Content, Done: chunk.Done}
			if chunk.Err != nil {
				ev.Error = chunk.Err.Error()
			}
			data, err := json.Marshal(ev)
			if err != nil {
				slog.Warn("stream event encode failed", "err", err)
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// statusFor maps workflow errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, llm.ErrProviderNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrProviderCall):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorPayload{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", "err", err)
	}
}
