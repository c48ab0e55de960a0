package history

import (
	"testing"

	"github.com/MrWong99/repliq/pkg/tokens"
	"github.com/MrWong99/repliq/pkg/types"
)

func msg(role types.Role, content string) types.Message {
	return types.Message{Role: role, Content: content}
}

// fourMessages builds a history of four equally sized messages.
func fourMessages() []types.Message {
	return []types.Message{
		msg(types.RoleUser, "aaaaaaaaaaaaaaaa"),
		msg(types.RoleAssistant, "bbbbbbbbbbbbbbbb"),
		msg(types.RoleUser, "cccccccccccccccc"),
		msg(types.RoleAssistant, "dddddddddddddddd"),
	}
}

func TestOptimize_UnderBudgetUnchanged(t *testing.T) {
	est := tokens.CharEstimator{}
	o := NewOptimizer(est)
	history := fourMessages()
	budget := est.EstimateMessages(history) + 1

	result, info := o.Optimize(history, budget, 1)

	if info.Optimized {
		t.Errorf("Optimized = true, want false")
	}
	if len(result) != len(history) {
		t.Fatalf("len(result) = %d, want %d", len(result), len(history))
	}
	if info.OriginalMessages != 4 || info.OptimizedMessages != 4 {
		t.Errorf("message counts = %d/%d, want 4/4", info.OriginalMessages, info.OptimizedMessages)
	}
	if info.OriginalTokens != info.OptimizedTokens {
		t.Errorf("token counts differ: %d vs %d", info.OriginalTokens, info.OptimizedTokens)
	}
}

func TestOptimize_DropsOldestFirst(t *testing.T) {
	est := tokens.CharEstimator{}
	o := NewOptimizer(est)
	history := fourMessages()
	// Budget fits exactly two of the four messages.
	budget := est.EstimateMessages(history[2:])

	result, info := o.Optimize(history, budget, 1)

	if !info.Optimized {
		t.Fatalf("Optimized = false, want true")
	}
	if len(result) != 2 {
		t.Fatalf("len(result) = %d, want 2", len(result))
	}
	if result[0].Content != history[2].Content || result[1].Content != history[3].Content {
		t.Errorf("result keeps wrong messages: %q, %q", result[0].Content, result[1].Content)
	}
	if info.OptimizedTokens > budget {
		t.Errorf("OptimizedTokens = %d, exceeds budget %d", info.OptimizedTokens, budget)
	}
}

func TestOptimize_TailKeptOverBudget(t *testing.T) {
	est := tokens.CharEstimator{}
	o := NewOptimizer(est)
	history := fourMessages()
	tailTokens := est.EstimateMessages(history[2:])
	budget := tailTokens - 1

	result, info := o.Optimize(history, budget, 2)

	if len(result) != 2 {
		t.Fatalf("len(result) = %d, want the preserved tail of 2", len(result))
	}
	if info.OptimizedTokens != tailTokens {
		t.Errorf("OptimizedTokens = %d, want %d (over-budget tail reported)", info.OptimizedTokens, tailTokens)
	}
	if info.OptimizedTokens <= budget {
		t.Errorf("expected reported tokens %d to exceed budget %d", info.OptimizedTokens, budget)
	}
}

func TestOptimize_OverBudgetTailStillReportsOptimized(t *testing.T) {
	est := tokens.CharEstimator{}
	o := NewOptimizer(est)
	history := fourMessages()
	budget := est.EstimateMessages(history) / 4

	// The preserved tail covers the entire history, so nothing can be dropped
	// even though the result exceeds the budget.
	result, info := o.Optimize(history, budget, len(history))

	if len(result) != len(history) {
		t.Fatalf("len(result) = %d, want all %d messages preserved", len(result), len(history))
	}
	if !info.Optimized {
		t.Errorf("Optimized = false for a result over budget (tokens %d, budget %d)",
			info.OptimizedTokens, budget)
	}
	if info.OptimizedTokens <= budget {
		t.Errorf("expected reported tokens %d to exceed budget %d", info.OptimizedTokens, budget)
	}
}

func TestOptimize_ZeroBudgetDisablesTruncation(t *testing.T) {
	o := NewOptimizer(nil)
	history := fourMessages()

	result, info := o.Optimize(history, 0, 1)

	if info.Optimized {
		t.Errorf("Optimized = true, want false")
	}
	if len(result) != len(history) {
		t.Errorf("len(result) = %d, want %d", len(result), len(history))
	}
}

func TestOptimize_EmptyHistory(t *testing.T) {
	o := NewOptimizer(nil)

	result, info := o.Optimize(nil, 100, 2)

	if result == nil {
		t.Fatalf("result is nil, want empty slice")
	}
	if len(result) != 0 {
		t.Errorf("len(result) = %d, want 0", len(result))
	}
	if info.Optimized {
		t.Errorf("Optimized = true, want false")
	}
}

func TestOptimize_ResultIsCopy(t *testing.T) {
	o := NewOptimizer(nil)
	history := fourMessages()
	original := history[0].Content

	result, _ := o.Optimize(history, 0, 1)
	result[0].Content = "MODIFIED"

	if history[0].Content != original {
		t.Errorf("input history was mutated through the result slice")
	}
}
