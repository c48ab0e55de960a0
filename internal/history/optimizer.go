// Package history reduces conversation histories to fit provider token
// budgets.
//
// Two strategies exist: plain truncation ([Optimizer.Optimize]), which drops
// the oldest messages that no longer fit, and summarisation
// ([Optimizer.SummarizeOptimize]), which compresses the oldest excess into a
// synthetic summary message via an LLM. Both are pure with respect to their
// input: the returned slice is always a fresh copy and callers can mutate it
// freely.
package history

import (
	"github.com/MrWong99/repliq/pkg/tokens"
	"github.com/MrWong99/repliq/pkg/types"
)

// Optimizer applies token-budget reduction to conversation histories.
// Safe for concurrent use.
type Optimizer struct {
	estimator tokens.Estimator
}

// NewOptimizer creates an [Optimizer] using the given estimator.
// A nil estimator falls back to the char heuristic.
func NewOptimizer(estimator tokens.Estimator) *Optimizer {
	if estimator == nil {
		estimator = tokens.CharEstimator{}
	}
	return &Optimizer{estimator: estimator}
}

// Optimize truncates history to fit within maxTokens while always keeping the
// preserveRecent newest messages.
//
// The newest messages are included first; older messages are added (walking
// backwards) while they still fit, and the first message that does not fit
// ends the walk so the result is always a contiguous suffix of the input.
// When the preserved tail alone exceeds the budget it is kept anyway and the
// over-budget token count is reported, not hidden. A maxTokens of zero or
// below disables truncation entirely.
//
// The returned info record is always populated, also when nothing changed.
func (o *Optimizer) Optimize(history []types.Message, maxTokens, preserveRecent int) ([]types.Message, types.HistoryOptimization) {
	originalTokens := o.estimator.EstimateMessages(history)

	info := types.HistoryOptimization{
		OriginalMessages:  len(history),
		OptimizedMessages: len(history),
		OriginalTokens:    originalTokens,
		OptimizedTokens:   originalTokens,
	}

	if maxTokens <= 0 || originalTokens <= maxTokens {
		return types.CopyMessages(history), info
	}

	if preserveRecent < 0 {
		preserveRecent = 0
	}
	tailStart := len(history) - preserveRecent
	if tailStart < 0 {
		tailStart = 0
	}

	tailTokens := o.estimator.EstimateMessages(history[tailStart:])
	keptTokens := tailTokens
	keepFrom := tailStart

	// Walk older messages newest-first while they fit.
	for i := tailStart - 1; i >= 0; i-- {
		msgTokens := o.estimator.EstimateMessages(history[i : i+1])
		if keptTokens+msgTokens > maxTokens {
			break
		}
		keptTokens += msgTokens
		keepFrom = i
	}

	result := types.CopyMessages(history[keepFrom:])

	// The preserved tail can exceed the budget on its own; the result then
	// deviates from the contract and must say so even when nothing was dropped.
	info.Optimized = keepFrom > 0 || keptTokens > maxTokens
	info.OptimizedMessages = len(result)
	info.OptimizedTokens = keptTokens
	return result, info
}
