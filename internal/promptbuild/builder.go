// Package promptbuild composes context-aware system prompts from repository
// and document context.
package promptbuild

import (
	"fmt"
	"strings"
	"sync"

	"github.com/MrWong99/repliq/pkg/types"
)

// toolPolicy is the static instruction block included when tool execution is
// enabled for a query.
const toolPolicy = `You can call the provided tools to answer the user's question.
When a question can be answered by a tool, call it right away instead of describing what you would do.
Always answer in the language the conversation is held in.`

// Input carries everything the builder needs for one system prompt.
type Input struct {
	// IncludeContext enables prompt building at all. When false, Build
	// returns the empty string regardless of the other fields.
	IncludeContext bool

	// ToolsEnabled includes the static tool-usage policy block.
	ToolsEnabled bool

	// Repository identifies the repository in focus. May be nil.
	Repository *types.RepositoryContext

	// Document describes the document in focus. May be nil.
	Document *types.DocumentMetadata

	// CustomInstructions, when non-empty, lead the prompt and disable
	// caching for this build. Personalized text must never be served from
	// the fingerprint cache.
	CustomInstructions string
}

// Builder assembles system prompts and caches them by context fingerprint.
// Safe for concurrent use.
type Builder struct {
	mu    sync.Mutex
	cache map[string]string
}

// NewBuilder returns an empty [Builder].
func NewBuilder() *Builder {
	return &Builder{cache: make(map[string]string)}
}

// Build returns the system prompt for in, or the empty string when context
// inclusion is disabled. Identical repository/document contexts are served
// from an internal cache unless custom instructions are present.
func (b *Builder) Build(in Input) string {
	if !in.IncludeContext {
		return ""
	}

	if in.CustomInstructions != "" {
		return b.compose(in)
	}

	key := fingerprint(in)
	b.mu.Lock()
	if cached, ok := b.cache[key]; ok {
		b.mu.Unlock()
		return cached
	}
	b.mu.Unlock()

	prompt := b.compose(in)

	b.mu.Lock()
	b.cache[key] = prompt
	b.mu.Unlock()
	return prompt
}

// Reset drops all cached prompts.
func (b *Builder) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cache = make(map[string]string)
}

// compose builds the prompt text without touching the cache.
func (b *Builder) compose(in Input) string {
	var sections []string

	if in.CustomInstructions != "" {
		sections = append(sections, in.CustomInstructions)
	}
	if in.ToolsEnabled {
		sections = append(sections, toolPolicy)
	}
	if in.Repository != nil {
		line := fmt.Sprintf("The conversation is about the repository %s.", in.Repository.FullName())
		if in.Repository.CurrentPath != "" {
			line += fmt.Sprintf(" The file currently in focus is %s.", in.Repository.CurrentPath)
		}
		sections = append(sections, line)
	}
	if in.Document != nil {
		switch in.Document.Type {
		case types.DocumentDocumentation:
			sections = append(sections, "The file in focus is documentation, not source code.")
		default:
			sections = append(sections, "The file in focus is source code.")
		}
	}

	return strings.Join(sections, "\n\n")
}

// fingerprint derives the cache key from everything that influences the
// composed prompt except custom instructions.
func fingerprint(in Input) string {
	var sb strings.Builder
	if in.ToolsEnabled {
		sb.WriteString("tools|")
	}
	if in.Repository != nil {
		sb.WriteString(in.Repository.FullName())
		sb.WriteByte('|')
		sb.WriteString(in.Repository.CurrentPath)
	}
	sb.WriteByte('|')
	if in.Document != nil {
		sb.WriteString(in.Document.Path)
		sb.WriteByte('|')
		sb.WriteString(string(in.Document.Type))
	}
	return sb.String()
}
