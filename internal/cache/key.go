package cache

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/MrWong99/repliq/pkg/types"
)

// Key derives the deterministic cache key for a query from everything that
// influences its response: the provider and model answering it, the prompt,
// the conversation history, the provider options (walked in sorted key order
// so map iteration order cannot leak into the key), and the
// repository/document context. Provider and model are part of the key so
// responses cached for one backend are never served for another.
//
// The key is a hex-encoded BLAKE3 digest. Field separators are written
// between sections so that adjacent values cannot collide by concatenation.
func Key(provider, model, prompt string, history []types.Message, options map[string]any, qctx *types.QueryContext) string {
	h := blake3.New()

	writeSection(h, "provider", provider)
	writeSection(h, "model", model)
	writeSection(h, "prompt", prompt)

	for _, m := range history {
		writeSection(h, "role", string(m.Role))
		writeSection(h, "content", m.Content)
	}

	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		encoded, err := json.Marshal(options[k])
		if err != nil {
			encoded = []byte(fmt.Sprintf("%v", options[k]))
		}
		writeSection(h, "opt:"+k, string(encoded))
	}

	if qctx != nil {
		if qctx.Repository != nil {
			writeSection(h, "repo", qctx.Repository.FullName())
			writeSection(h, "path", qctx.Repository.CurrentPath)
		}
		if qctx.Document != nil {
			writeSection(h, "doc", qctx.Document.Path)
			writeSection(h, "doctype", string(qctx.Document.Type))
		}
	}

	return hex.EncodeToString(h.Sum(nil))
}

// writeSection writes a length-prefixed labelled value to the hasher.
func writeSection(h *blake3.Hasher, label, value string) {
	fmt.Fprintf(h, "%s:%d:", label, len(value))
	h.WriteString(value)
}
