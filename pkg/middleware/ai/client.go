// Package ai adapts language-model backends to calque handlers.
//
// A Client reads the prompt from the request and streams the completion to
// the response. Backends live in subpackages: openai, ollama, gemini.
package ai

import (
	"context"

	"github.com/calque-ai/guidebot/pkg/calque"
	"github.com/calque-ai/guidebot/pkg/middleware/retrieval"
)

// Client is implemented by every chat backend.
type Client interface {
	Chat(r *calque.Request, w *calque.Response, opts *AgentOptions) error
}

// EmbeddingClient is a Client that also produces embeddings, so one backend
// configuration can serve both the index and the synthesizer.
type EmbeddingClient interface {
	Client
	Embed(ctx context.Context, text string) (retrieval.EmbeddingVector, error)
}

// Config holds model parameters shared by the backends. Nil fields keep the
// backend's own default.
type Config struct {
	Temperature *float32 `json:"temperature,omitempty" yaml:"temperature,omitempty"` // 0.0 - 2.0
	TopP        *float32 `json:"top_p,omitempty" yaml:"top_p,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Stop        []string `json:"stop,omitempty" yaml:"stop,omitempty"`
	Streaming   *bool    `json:"streaming,omitempty" yaml:"streaming,omitempty"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Temperature: Float32Ptr(0.7),
		Streaming:   BoolPtr(true),
	}
}

// Resolve applies per-call overrides from opts on top of c.
func (c *Config) Resolve(opts *AgentOptions) Config {
	var out Config
	if c != nil {
		out = *c
	}
	if opts == nil {
		return out
	}
	if opts.Temperature != nil {
		out.Temperature = opts.Temperature
	}
	if opts.MaxTokens != nil {
		out.MaxTokens = opts.MaxTokens
	}
	return out
}

// Helper functions for pointer creation
func Float32Ptr(f float32) *float32 { return &f }
func IntPtr(i int) *int             { return &i }
func BoolPtr(b bool) *bool          { return &b }
