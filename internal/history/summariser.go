package history

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/repliq/pkg/provider/llm"
	"github.com/MrWong99/repliq/pkg/types"
)

// summarizationPrompt is the system prompt sent to the LLM when compressing
// conversation segments.
const summarizationPrompt = `Summarize the following conversation between a user and a coding assistant.
Preserve: the questions asked, conclusions reached, file paths, code identifiers,
and any decisions about the repository being discussed.
Be concise but keep every detail a follow-up question might depend on.`

// summaryPrefix marks the synthetic message that replaces summarised history.
const summaryPrefix = "Summary of the earlier conversation: "

// Summarizer produces a concise summary of a conversation segment.
type Summarizer interface {
	// Summarize takes a slice of messages and returns a condensed summary string.
	Summarize(ctx context.Context, messages []types.Message) (string, error)
}

// LLMSummarizer summarises conversations through an [llm.Adapter]. The
// summarisation call never carries tools and uses a low temperature for
// stable output.
type LLMSummarizer struct {
	adapter llm.Adapter
	model   string
}

// NewLLMSummarizer creates an [LLMSummarizer] backed by the given adapter.
// model may be empty to use the adapter's default.
func NewLLMSummarizer(adapter llm.Adapter, model string) *LLMSummarizer {
	return &LLMSummarizer{adapter: adapter, model: model}
}

// Summarize formats the messages into a transcript, sends it to the adapter
// with a summarisation instruction, and returns the summary text.
func (s *LLMSummarizer) Summarize(ctx context.Context, messages []types.Message) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&sb, "[%s]: %s\n", m.Role, m.Content)
	}

	opts, err := s.adapter.PrepareOptions(llm.PrepareInput{
		Prompt:       sb.String(),
		SystemPrompt: summarizationPrompt,
		Model:        s.model,
		Options:      map[string]any{"temperature": 0.3},
	})
	if err != nil {
		return "", fmt.Errorf("history: prepare summarisation: %w", err)
	}
	raw, err := s.adapter.Call(ctx, opts)
	if err != nil {
		return "", fmt.Errorf("history: summarise: %w", err)
	}
	return raw.Content, nil
}

// SummarizeOptimize compresses history by summarising its oldest
// non-system messages once they exceed keepRecent. System messages are always
// carried through unchanged and stay at their original positions; the
// synthetic summary message is inserted where the summarised block began,
// right after any leading system messages.
//
// On summariser failure the excess messages are dropped instead (plain
// truncation) and the failure reason is recorded in the returned info; the
// caller never sees an error from this path.
func (o *Optimizer) SummarizeOptimize(ctx context.Context, history []types.Message, summarizer Summarizer, keepRecent int) ([]types.Message, types.HistoryOptimization) {
	originalTokens := o.estimator.EstimateMessages(history)

	info := types.HistoryOptimization{
		OriginalMessages:  len(history),
		OptimizedMessages: len(history),
		OriginalTokens:    originalTokens,
		OptimizedTokens:   originalTokens,
	}

	if keepRecent < 0 {
		keepRecent = 0
	}

	nonSystem := 0
	for _, m := range history {
		if m.Role != types.RoleSystem {
			nonSystem++
		}
	}
	excessCount := nonSystem - keepRecent
	if excessCount <= 0 || summarizer == nil {
		return types.CopyMessages(history), info
	}

	// Split history into the excess to summarise and everything that stays,
	// preserving the original order of the kept messages. insertAt marks where
	// the first summarised message stood among the kept ones.
	var (
		excess   []types.Message
		kept     []types.Message
		insertAt = -1
	)
	for _, m := range history {
		if m.Role != types.RoleSystem && len(excess) < excessCount {
			if insertAt < 0 {
				insertAt = len(kept)
			}
			excess = append(excess, m)
			continue
		}
		kept = append(kept, m)
	}

	summary, err := summarizer.Summarize(ctx, excess)

	result := make([]types.Message, 0, len(kept)+1)
	result = append(result, kept[:insertAt]...)
	switch {
	case err != nil:
		info.SummarizationError = err.Error()
	case summary != "":
		result = append(result, types.NewAssistantMessage(summaryPrefix+summary))
	}
	result = append(result, kept[insertAt:]...)

	info.Optimized = true
	info.OptimizedMessages = len(result)
	info.OptimizedTokens = o.estimator.EstimateMessages(result)
	return result, info
}
