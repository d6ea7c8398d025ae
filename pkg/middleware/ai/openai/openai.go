// Package openai provides a Calque client for OpenAI's Chat Completions and
// Embeddings APIs. Setting BaseURL points it at any OpenAI-compatible
// server, which is how the ollama variant of the bot is served.
//
//	client, err := openai.New("chatgpt-4o-latest", openai.WithConfig(&openai.Config{
//		Temperature: helpers.PtrOf(float32(0.7)),
//	}))
//	flow := calque.NewFlow().Use(ai.Agent(client))
package openai

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/calque-ai/guidebot/pkg/calque"
	"github.com/calque-ai/guidebot/pkg/helpers"
	"github.com/calque-ai/guidebot/pkg/middleware/ai"
	"github.com/calque-ai/guidebot/pkg/middleware/ai/config"
	"github.com/calque-ai/guidebot/pkg/middleware/retrieval"
)

// DefaultEmbeddingModel is used when Config.EmbeddingModel is empty.
const DefaultEmbeddingModel = "text-embedding-3-small"

// placeholderKey satisfies the SDK for OpenAI-compatible servers that
// ignore authentication.
const placeholderKey = "ollama"

// Client implements ai.EmbeddingClient for OpenAI.
type Client struct {
	client *openai.Client
	model  shared.ChatModel
	config *Config
}

// Config holds OpenAI-specific configuration.
type Config struct {
	// API key. Defaults to OPENAI_API_KEY; optional when BaseURL is set.
	APIKey string

	// Base URL for an OpenAI-compatible API, e.g. "http://localhost:6203/v1/".
	BaseURL string

	// Organization ID for OpenAI API requests
	OrgID string

	// Controls randomness in token selection (0.0-2.0)
	Temperature *float32

	// Nucleus sampling parameter (0.0-1.0)
	TopP *float32

	// Maximum number of tokens in the response
	MaxTokens *int

	// Strings that stop text generation when encountered
	Stop []string

	// Fixed seed for reproducible responses
	Seed *int

	// Enable/disable streaming of responses (true by default)
	Stream *bool

	// Model used by Embed
	EmbeddingModel string

	// SDK-level retries; 0 keeps the SDK default
	MaxRetries *int
}

// Option interface for functional options pattern
type Option interface {
	Apply(*Config)
}

type configOption struct {
	config *Config
}

func (o configOption) Apply(opts *Config) {
	config.Merge(opts, o.config)
}

// WithConfig merges cfg over the defaults; only non-zero fields override.
func WithConfig(cfg *Config) Option {
	return configOption{config: cfg}
}

// DefaultConfig reads OPENAI_API_KEY and OPENAI_BASE_URL from the
// environment and sets temperature to 0.7.
func DefaultConfig() *Config {
	return &Config{
		APIKey:         os.Getenv("OPENAI_API_KEY"),
		BaseURL:        os.Getenv("OPENAI_BASE_URL"),
		Temperature:    helpers.PtrOf(float32(0.7)),
		Stream:         helpers.PtrOf(true),
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
		if cfg.BaseURL == "" {
			return nil, errors.New("OPENAI_API_KEY environment variable not set or provided in config")
		}
		cfg.APIKey = placeholderKey
	}

	clientOptions := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		clientOptions = append(clientOptions, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.OrgID != "" {
		clientOptions = append(clientOptions, option.WithOrganization(cfg.OrgID))
	}
	if cfg.MaxRetries != nil {
		clientOptions = append(clientOptions, option.WithMaxRetries(*cfg.MaxRetries))
	}

	openaiClient := openai.NewClient(clientOptions...)

	return &Client{
		client: &openaiClient,
		model:  shared.ChatModel(model),
		config: cfg,
	}, nil
}

// Chat sends the request body as the user message and writes the completion.
func (c *Client) Chat(r *calque.Request, w *calque.Response, opts *ai.AgentOptions) error {
	var prompt string
	if err := calque.Read(r, &prompt); err != nil {
		return err
	}

	params := c.buildChatParams(prompt, opts)

	if c.config.Stream == nil || *c.config.Stream {
		return c.executeStreamingRequest(r.Context, params, w)
	}
	return c.executeNonStreamingRequest(r.Context, params, w)
}

func (c *Client) buildChatParams(prompt string, opts *ai.AgentOptions) openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion
	if opts != nil && opts.System != "" {
		messages = append(messages, openai.SystemMessage(opts.System))
	}
	messages = append(messages, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	}
	c.applyChatConfig(&params, opts)
	return params
}

func (c *Client) applyChatConfig(params *openai.ChatCompletionNewParams, opts *ai.AgentOptions) {
	temperature, maxTokens := c.config.Temperature, c.config.MaxTokens
	if opts != nil {
		if opts.Temperature != nil {
			temperature = opts.Temperature
		}
		if opts.MaxTokens != nil {
			maxTokens = opts.MaxTokens
		}
	}

	if temperature != nil {
		params.Temperature = openai.Float(float64(*temperature))
	}
	if c.config.TopP != nil {
		params.TopP = openai.Float(float64(*c.config.TopP))
	}
	if maxTokens != nil {
		params.MaxCompletionTokens = openai.Int(int64(*maxTokens))
	}
	if len(c.config.Stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: c.config.Stop}
	}
	if c.config.Seed != nil {
		params.Seed = openai.Int(int64(*c.config.Seed))
	}
}

func (c *Client) executeStreamingRequest(ctx context.Context, params openai.ChatCompletionNewParams, w *calque.Response) (err error) {
	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	defer func() {
		if closeErr := stream.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close stream: %w", closeErr)
		}
	}()

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if content := chunk.Choices[0].Delta.Content; content != "" {
			if _, err := w.Data.Write([]byte(content)); err != nil {
				return err
			}
		}
	}

	if err := stream.Err(); err != nil {
		return fmt.Errorf("failed to receive stream response: %w", err)
	}
	return nil
}

func (c *Client) executeNonStreamingRequest(ctx context.Context, params openai.ChatCompletionNewParams, w *calque.Response) error {
	response, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(response.Choices) == 0 {
		return errors.New("no response choices returned")
	}
	_, err = w.Data.Write([]byte(response.Choices[0].Message.Content))
	return err
}

// Embed implements retrieval.EmbeddingProvider.
func (c *Client) Embed(ctx context.Context, text string) (retrieval.EmbeddingVector, error) {
	resp, err := c.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model:          openai.EmbeddingModel(c.config.EmbeddingModel),
		Input:          openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("no embedding returned")
	}

	values := resp.Data[0].Embedding
	vec := make(retrieval.EmbeddingVector, len(values))
	for i, v := range values {
		vec[i] = float32(v)
	}
	return vec, nil
}
