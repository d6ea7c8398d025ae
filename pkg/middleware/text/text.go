// Package text holds buffered string handlers for model output.
package text

import (
	"io"
	"regexp"
	"strings"

	"github.com/calque-ai/guidebot/pkg/calque"
)

// reasoning models (deepseek-r1 through ollama) prefix answers with a
// <think> block
var reasoningBlock = regexp.MustCompile(`(?s)^\s*<think>.*?</think>`)

// Transform applies fn to the entire input.
//
// Input: string content
// Output: fn(input)
// Behavior: BUFFERED - reads the whole input before calling fn
//
//	flow.Use(ai.Agent(client)).Use(text.Transform(strings.ToLower))
func Transform(fn func(string) string) calque.Handler {
	return calque.HandlerFunc(func(req *calque.Request, res *calque.Response) error {
		input, err := io.ReadAll(req.Data)
		if err != nil {
			return err
		}
		_, err = io.WriteString(res.Data, fn(string(input)))
		return err
	})
}

// StripReasoning removes a leading <think>...</think> block and the
// surrounding whitespace.
func StripReasoning(s string) string {
	return strings.TrimSpace(reasoningBlock.ReplaceAllString(s, ""))
}

// Clean strips reasoning and whitespace from a model answer.
func Clean() calque.Handler {
	return Transform(StripReasoning)
}
