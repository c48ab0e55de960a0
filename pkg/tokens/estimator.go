// Package tokens provides token-count estimation for messages and strings.
//
// Estimates drive the conversation history budget and never need to be exact:
// the BPE-backed [Encoding] estimator is accurate for OpenAI-family models,
// while [CharEstimator] is a cheap heuristic fallback for everything else.
// Both are safe for concurrent use.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/MrWong99/repliq/pkg/types"
)

// messageOverheadTokens is the per-message formatting overhead (role markers,
// separators) added on top of the content estimate. Matches the ~4 token
// overhead observed across common chat templates.
const messageOverheadTokens = 4

// defaultCharsPerToken is the characters-per-token ratio used by the
// heuristic fallback. English text averages roughly 4 characters per token
// across common LLM tokenizers.
const defaultCharsPerToken = 4

// Estimator estimates token counts for text and messages. Implementations may
// use different algorithms (character-based, BPE, provider-native counters).
type Estimator interface {
	// EstimateText estimates tokens for a single text string.
	EstimateText(text string) int

	// EstimateMessages estimates total tokens for a message sequence,
	// including per-message formatting overhead.
	EstimateMessages(messages []types.Message) int
}

// CharEstimator estimates tokens using a characters-per-token ratio.
// This is a rough approximation — good enough for triggering history
// optimization thresholds, but not for billing.
//
// The zero value is ready for use and assumes 4 characters per token.
type CharEstimator struct {
	// CharsPerToken overrides the default ratio when positive.
	CharsPerToken int
}

func (e CharEstimator) ratio() int {
	if e.CharsPerToken <= 0 {
		return defaultCharsPerToken
	}
	return e.CharsPerToken
}

// EstimateText implements [Estimator].
func (e CharEstimator) EstimateText(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / e.ratio()
	if n == 0 {
		n = 1
	}
	return n
}

// EstimateMessages implements [Estimator].
func (e CharEstimator) EstimateMessages(messages []types.Message) int {
	total := 0
	for _, m := range messages {
		total += messageOverheadTokens
		total += e.EstimateText(m.Content)
		total += len(m.Role) / e.ratio()
	}
	return total
}

// Encoding estimates tokens with a tiktoken BPE encoding. If the encoding
// cannot be loaded (unknown name, missing embedded data), every estimate
// silently falls back to [CharEstimator] so that callers never have to deal
// with estimation errors on the query hot path.
type Encoding struct {
	name     string
	fallback CharEstimator

	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewEncoding creates an [Encoding] estimator for the named tiktoken encoding
// (e.g. "cl100k_base", "o200k_base"). The encoding is loaded lazily on first
// use; loading failures switch the estimator into char-heuristic mode.
func NewEncoding(name string) *Encoding {
	return &Encoding{name: name}
}

// ForModel creates an [Encoding] estimator matching the given model name,
// falling back to the char heuristic for models tiktoken does not know.
func ForModel(model string) *Encoding {
	e := &Encoding{}
	e.once.Do(func() {
		enc, err := tiktoken.EncodingForModel(model)
		if err == nil {
			e.enc = enc
		}
	})
	return e
}

// load resolves the tiktoken encoding exactly once.
func (e *Encoding) load() *tiktoken.Tiktoken {
	e.once.Do(func() {
		if e.name == "" {
			return
		}
		enc, err := tiktoken.GetEncoding(e.name)
		if err == nil {
			e.enc = enc
		}
	})
	return e.enc
}

// EstimateText implements [Estimator].
func (e *Encoding) EstimateText(text string) int {
	if text == "" {
		return 0
	}
	if enc := e.load(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return e.fallback.EstimateText(text)
}

// EstimateMessages implements [Estimator].
func (e *Encoding) EstimateMessages(messages []types.Message) int {
	total := 0
	for _, m := range messages {
		total += messageOverheadTokens
		total += e.EstimateText(m.Content)
	}
	return total
}

// Compile-time interface checks.
var (
	_ Estimator = CharEstimator{}
	_ Estimator = (*Encoding)(nil)
)
