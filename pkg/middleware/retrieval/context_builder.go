package retrieval

import (
	"strings"

	"github.com/calque-ai/guidebot/pkg/calque"
)

// ContextSeparator divides records in the grounding context.
const ContextSeparator = "\n\n---\n\n"

// FormatContext renders matches as grounding context, one block per record:
// "[section] title" then the content.
func FormatContext(matches []Match) string {
	return buildContext(matches, 0)
}

// ContextBuilder reads a JSON array of matches, as written by Search, and
// writes the grounding context. maxTokens > 0 stops adding records once the
// estimate would exceed it; the first record is always kept.
//
// Input: []Match JSON
// Output: string context
// Behavior: BUFFERED
func ContextBuilder(maxTokens int) calque.Handler {
	return calque.HandlerFunc(func(r *calque.Request, w *calque.Response) error {
		var matches []Match
		if err := calque.ReadJSON(r, &matches); err != nil {
			return err
		}
		return calque.Write(w, buildContext(matches, maxTokens))
	})
}

func buildContext(matches []Match, maxTokens int) string {
	parts := make([]string, 0, len(matches))
	used := 0
	for _, m := range matches {
		block := formatBlock(m)
		tokens := estimateTokens(block)
		if maxTokens > 0 && len(parts) > 0 && used+tokens > maxTokens {
			break
		}
		parts = append(parts, block)
		used += tokens
	}
	return strings.Join(parts, ContextSeparator)
}

func formatBlock(m Match) string {
	header := "[" + m.Record.Section + "]"
	if m.Record.Title != "" {
		header += " " + m.Record.Title
	}
	return header + "\n" + m.Record.Content
}

// estimateTokens is a rough count: Hangul runs about one token per rune
// pair, so runes/2 is used rather than a word count.
func estimateTokens(text string) int {
	n := len([]rune(text))
	return (n + 1) / 2
}
