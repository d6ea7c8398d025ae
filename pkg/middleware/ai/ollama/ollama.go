// Package ollama provides a Calque client for the native Ollama API, for
// chat and embeddings against a local or self-hosted model server.
package ollama

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/calque-ai/guidebot/pkg/calque"
	"github.com/calque-ai/guidebot/pkg/middleware/ai"
	"github.com/calque-ai/guidebot/pkg/middleware/ai/config"
	"github.com/calque-ai/guidebot/pkg/middleware/retrieval"
)

// Client implements ai.EmbeddingClient for Ollama.
type Client struct {
	client *api.Client
	model  string
	config *Config
}

// Config holds Ollama-specific configuration.
type Config struct {
	// Server URL. Empty uses OLLAMA_HOST or the default local server.
	Host string

	// Controls randomness in token selection
	Temperature *float32

	// Nucleus sampling parameter
	TopP *float32

	// Maximum tokens to generate (num_predict)
	MaxTokens *int

	// Strings that stop generation
	Stop []string

	// How long the model stays loaded after a request
	KeepAlive time.Duration

	// Stream tokens as they are generated (true by default)
	Stream *bool

	// Model used by Embed; defaults to the chat model
	EmbeddingModel string

	// Extra model options passed through verbatim
	Options map[string]any
}

// Option interface for functional options pattern
type Option interface {
	Apply(*Config)
}

type configOption struct{ config *Config }

func (o configOption) Apply(opts *Config) { config.Merge(opts, o.config) }

// WithConfig merges cfg over the defaults.
func WithConfig(cfg *Config) Option {
	return configOption{config: cfg}
}

// DefaultConfig returns Ollama defaults.
func DefaultConfig() *Config {
	return &Config{
		Temperature: ai.Float32Ptr(0.7),
		KeepAlive:   5 * time.Minute,
		Stream:      ai.BoolPtr(true),
	}
}

// New creates a client for model. An empty Config.Host falls back to
// OLLAMA_HOST and then to the local default.
func New(model string, opts ...Option) (*Client, error) {
	if model == "" {
		return nil, errors.New("ollama: model name is required")
	}
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt.Apply(cfg)
	}
	c, err := apiClient(cfg.Host)
	if err != nil {
		return nil, err
	}
	return &Client{client: c, model: model, config: cfg}, nil
}

func apiClient(host string) (*api.Client, error) {
	if host == "" {
		c, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("ollama: client from environment: %w", err)
		}
		return c, nil
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("ollama: host %q: %w", host, err)
	}
	return api.NewClient(u, http.DefaultClient), nil
}

// Chat sends the request body as the user turn and writes content chunks as
// they arrive. Chunks without content (the final done frame) are skipped.
func (o *Client) Chat(r *calque.Request, w *calque.Response, opts *ai.AgentOptions) error {
	var prompt string
	if err := calque.Read(r, &prompt); err != nil {
		return calque.WrapErr(r.Context, err, "ollama: reading prompt")
	}
	err := o.client.Chat(r.Context, o.buildChatRequest(prompt, opts), func(resp api.ChatResponse) error {
		if resp.Message.Content == "" {
			return nil
		}
		return calque.Write(w, resp.Message.Content)
	})
	if err != nil {
		return calque.WrapErr(r.Context, err, "ollama chat").Tag(slog.String("model", o.model))
	}
	return nil
}

func (o *Client) buildChatRequest(prompt string, opts *ai.AgentOptions) *api.ChatRequest {
	req := &api.ChatRequest{
		Model:   o.model,
		Stream:  o.config.Stream,
		Options: o.modelOptions(opts),
	}
	if opts != nil && opts.System != "" {
		req.Messages = append(req.Messages, api.Message{Role: "system", Content: opts.System})
	}
	req.Messages = append(req.Messages, api.Message{Role: "user", Content: prompt})
	if o.config.KeepAlive > 0 {
		req.KeepAlive = &api.Duration{Duration: o.config.KeepAlive}
	}
	return req
}

// modelOptions maps the sampling settings onto Ollama option names. Per-call
// agent options win over the client config; Config.Options wins over both.
func (o *Client) modelOptions(opts *ai.AgentOptions) map[string]any {
	resolved := (&ai.Config{Temperature: o.config.Temperature, MaxTokens: o.config.MaxTokens}).Resolve(opts)
	out := map[string]any{}
	if t := resolved.Temperature; t != nil {
		out["temperature"] = *t
	}
	if n := resolved.MaxTokens; n != nil {
		out["num_predict"] = *n
	}
	if p := o.config.TopP; p != nil {
		out["top_p"] = *p
	}
	if len(o.config.Stop) > 0 {
		out["stop"] = o.config.Stop
	}
	maps.Copy(out, o.config.Options)
	return out
}

// Embed implements retrieval.EmbeddingProvider using EmbeddingModel, or the
// chat model when that is empty.
func (o *Client) Embed(ctx context.Context, text string) (retrieval.EmbeddingVector, error) {
	model := cmp.Or(o.config.EmbeddingModel, o.model)
	resp, err := o.client.Embed(ctx, &api.EmbedRequest{Model: model, Input: text})
	if err != nil {
		return nil, calque.WrapErr(ctx, err, "ollama embed").Tag(slog.String("model", model))
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("ollama embed: model %s returned no vector", model)
	}
	return retrieval.EmbeddingVector(resp.Embeddings[0]), nil
}
