// Package gemini provides a Calque client for Google's Gemini models through
// the genai SDK, for chat and embeddings.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"os"

	"google.golang.org/genai"

	"github.com/calque-ai/guidebot/pkg/calque"
	"github.com/calque-ai/guidebot/pkg/middleware/ai"
	"github.com/calque-ai/guidebot/pkg/middleware/ai/config"
	"github.com/calque-ai/guidebot/pkg/middleware/retrieval"
)

// DefaultEmbeddingModel is used when Config.EmbeddingModel is empty.
const DefaultEmbeddingModel = "text-embedding-004"

// Client implements ai.EmbeddingClient for Gemini.
type Client struct {
	client *genai.Client
	model  string
	config *Config
}

// Config holds Gemini-specific configuration.
type Config struct {
	// API key. Defaults to GOOGLE_API_KEY.
	APIKey string

	// Controls randomness in token selection
	Temperature *float32

	// Nucleus sampling parameter
	TopP *float32

	// Top-k sampling parameter
	TopK *float32

	// Maximum number of output tokens
	MaxTokens *int

	// Strings that stop generation
	Stop []string

	// Default system instruction; AgentOptions.System takes precedence
	SystemInstruction string

	// Model used by Embed
	EmbeddingModel string

	// Overrides the API endpoint, e.g. for a proxy
	BaseURL string
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

// DefaultConfig reads GOOGLE_API_KEY and sets temperature to 0.7.
func DefaultConfig() *Config {
	return &Config{
		APIKey:         os.Getenv("GOOGLE_API_KEY"),
		Temperature:    ai.Float32Ptr(0.7),
		EmbeddingModel: DefaultEmbeddingModel,
	}
}

// New creates a client for model.
func New(model string, opts ...Option) (*Client, error) {
	if model == "" {
		return nil, errors.New("model name is required")
	}

	cfg := DefaultConfig()
	for _, opt := range opts {
		opt.Apply(cfg)
	}

	if cfg.APIKey == "" {
		return nil, errors.New("GOOGLE_API_KEY environment variable not set or provided in config")
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(context.Background(), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &Client{client: client, model: model, config: cfg}, nil
}

// Chat sends the request body as user content and streams the reply.
func (g *Client) Chat(r *calque.Request, w *calque.Response, opts *ai.AgentOptions) error {
	var prompt string
	if err := calque.Read(r, &prompt); err != nil {
		return err
	}

	genConfig := g.buildGenerateConfig(opts)
	for result, err := range g.client.Models.GenerateContentStream(r.Context, g.model, genai.Text(prompt), genConfig) {
		if err != nil {
			return fmt.Errorf("gemini generation failed: %w", err)
		}
		if text := result.Text(); text != "" {
			if _, err := w.Data.Write([]byte(text)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *Client) buildGenerateConfig(opts *ai.AgentOptions) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}

	resolved := (&ai.Config{Temperature: g.config.Temperature, MaxTokens: g.config.MaxTokens}).Resolve(opts)
	if resolved.Temperature != nil {
		cfg.Temperature = genai.Ptr(*resolved.Temperature)
	}
	if resolved.MaxTokens != nil {
		cfg.MaxOutputTokens = int32(*resolved.MaxTokens)
	}
	if g.config.TopP != nil {
		cfg.TopP = genai.Ptr(*g.config.TopP)
	}
	if g.config.TopK != nil {
		cfg.TopK = genai.Ptr(*g.config.TopK)
	}
	if len(g.config.Stop) > 0 {
		cfg.StopSequences = g.config.Stop
	}

	system := g.config.SystemInstruction
	if opts != nil && opts.System != "" {
		system = opts.System
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	return cfg
}

// Embed implements retrieval.EmbeddingProvider.
func (g *Client) Embed(ctx context.Context, text string) (retrieval.EmbeddingVector, error) {
	resp, err := g.client.Models.EmbedContent(ctx, g.config.EmbeddingModel, genai.Text(text), nil)
	if err != nil {
		return nil, fmt.Errorf("gemini embedding failed: %w", err)
	}
	if len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, errors.New("no embedding returned")
	}
	return retrieval.EmbeddingVector(resp.Embeddings[0].Values), nil
}
