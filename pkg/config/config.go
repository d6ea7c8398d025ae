// Package config loads guidebot settings from a YAML file, a .env file and
// the environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"

	"github.com/calque-ai/guidebot/pkg/helpers"
)

// Providers a backend or embedder can use.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
)

// Backend names and the routes they serve.
const (
	BackendPrimary = "primary"
	BackendOllama  = "ollama"

	RoutePrimary = "/chatbot/guideline"
	RouteOllama  = "/chatbot/guideline/ollama"
)

// Config is the full process configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Corpus    CorpusConfig    `yaml:"corpus"`
	Backends  []BackendConfig `yaml:"backends"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// RequestTimeout bounds one pipeline run, independent of the client.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// CorpusConfig locates the handbook files.
type CorpusConfig struct {
	Records      string `yaml:"records"`
	TOC          string `yaml:"toc"`
	Logo         string `yaml:"logo"`
	Organization string `yaml:"organization"`
}

// BackendConfig is one chat model and the route answering with it.
type BackendConfig struct {
	Name        string        `yaml:"name"`
	Route       string        `yaml:"route"`
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Temperature *float32      `yaml:"temperature"`
	Classify    *bool         `yaml:"classify"`
	Timeout     time.Duration `yaml:"timeout"`
	Attempts    uint64        `yaml:"attempts"`

	// RatePerMinute caps answer generations against the model; 0 is unlimited.
	RatePerMinute int `yaml:"rate_per_minute"`
}

// Classifies reports whether intent routing is on; it defaults to true.
func (b BackendConfig) Classifies() bool {
	return b.Classify == nil || *b.Classify
}

type EmbeddingConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`

	// CacheSize > 0 caches query embeddings.
	CacheSize int64         `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// IndexConfig selects the vector store.
type IndexConfig struct {
	Backend string `yaml:"backend"` // memory, pgvector, qdrant
	TopK    int    `yaml:"top_k"`

	// Reuse skips re-embedding when a persistent store already holds one
	// document per record and a sample of them still matches the corpus
	// text. An in-place edit to an unsampled record is not detected; run
	// `guidebot index --force` after editing the handbook.
	Reuse bool `yaml:"reuse"`

	Postgres PostgresConfig `yaml:"postgres"`
	Qdrant   QdrantConfig   `yaml:"qdrant"`
}

type PostgresConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

type QdrantConfig struct {
	URL        string `yaml:"url"`
	Collection string `yaml:"collection"`
	APIKey     string `yaml:"api_key"`
}

// SessionsConfig selects the transcript store.
type SessionsConfig struct {
	Backend     string        `yaml:"backend"` // memory, badger, redis
	TTL         time.Duration `yaml:"ttl"`
	MaxSessions int           `yaml:"max_sessions"`
	BadgerPath  string        `yaml:"badger_path"`
	Redis       RedisConfig   `yaml:"redis"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

type TelemetryConfig struct {
	Metrics bool `yaml:"metrics"`

	// TracingEndpoint enables OTLP export when set.
	TracingEndpoint string  `yaml:"tracing_endpoint"`
	TracingProtocol string  `yaml:"tracing_protocol"` // grpc or http
	TracingInsecure bool    `yaml:"tracing_insecure"`
	SampleRate      float64 `yaml:"sample_rate"`
	ServiceName     string  `yaml:"service_name"`
}

// Default returns the settings used when nothing is configured: the hosted
// model on the main route and a local OpenAI-compatible ollama server on
// the second.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8000",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    150 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RequestTimeout:  120 * time.Second,
		},
		Corpus: CorpusConfig{
			Records:      "data/remo_guideline.json",
			TOC:          "data/remo_toc.json",
			Logo:         "data/logo.jpg",
			Organization: "REMO",
		},
		Backends: []BackendConfig{
			{
				Name:        BackendPrimary,
				Route:       RoutePrimary,
				Provider:    ProviderOpenAI,
				Model:       "chatgpt-4o-latest",
				Temperature: helpers.PtrOf(float32(0.7)),
				Timeout:     60 * time.Second,
			},
			{
				Name:        BackendOllama,
				Route:       RouteOllama,
				Provider:    ProviderOpenAI,
				Model:       "deepseek-r1:671b",
				BaseURL:     "http://localhost:6203/v1/",
				Temperature: helpers.PtrOf(float32(0.1)),
				Timeout:     60 * time.Second,
			},
		},
		Embedding: EmbeddingConfig{
			Provider: ProviderOpenAI,
			CacheTTL: time.Hour,
		},
		Index: IndexConfig{
			Backend: "memory",
			TopK:    4,
		},
		Sessions: SessionsConfig{
			Backend:     "memory",
			TTL:         24 * time.Hour,
			MaxSessions: 10000,
			BadgerPath:  "data/sessions",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Telemetry: TelemetryConfig{
			Metrics:         true,
			TracingProtocol: "grpc",
			SampleRate:      1,
			ServiceName:     "guidebot",
		},
	}
}

// Load reads path (optional), then envFile (optional, missing is fine),
// then the environment, and validates the result.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, helpers.WrapErrorf(err, "reading config %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, helpers.WrapErrorf(err, "parsing config %s", path)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, helpers.WrapErrorf(err, "loading %s", envFile)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Addr = helpers.GetStringFromEnv("GUIDEBOT_ADDR", c.Server.Addr)
	c.Server.RequestTimeout = helpers.GetDurationFromEnv("GUIDEBOT_REQUEST_TIMEOUT", c.Server.RequestTimeout)

	c.Corpus.Records = helpers.GetStringFromEnv("GUIDEBOT_CORPUS", c.Corpus.Records)
	c.Corpus.TOC = helpers.GetStringFromEnv("GUIDEBOT_TOC", c.Corpus.TOC)
	c.Corpus.Logo = helpers.GetStringFromEnv("GUIDEBOT_LOGO", c.Corpus.Logo)
	c.Corpus.Organization = helpers.GetStringFromEnv("GUIDEBOT_ORGANIZATION", c.Corpus.Organization)

	openaiKey := os.Getenv("OPENAI_API_KEY")
	googleKey := os.Getenv("GOOGLE_API_KEY")
	ollamaHost := os.Getenv("OLLAMA_HOST")

	for i := range c.Backends {
		b := &c.Backends[i]
		prefix := "GUIDEBOT_" + strings.ToUpper(b.Name) + "_"
		b.Model = helpers.GetStringFromEnv(prefix+"MODEL", b.Model)
		b.BaseURL = helpers.GetStringFromEnv(prefix+"BASE_URL", b.BaseURL)
		b.Timeout = helpers.GetDurationFromEnv(prefix+"TIMEOUT", b.Timeout)
		b.RatePerMinute = helpers.GetIntFromEnv(prefix+"RATE_PER_MINUTE", b.RatePerMinute)
		if os.Getenv(prefix+"TEMPERATURE") != "" {
			b.Temperature = helpers.PtrOf(float32(helpers.GetFloatFromEnv(prefix+"TEMPERATURE", 0)))
		}
		if os.Getenv(prefix+"CLASSIFY") != "" {
			b.Classify = helpers.PtrOf(helpers.GetBoolFromEnv(prefix+"CLASSIFY", true))
		}
		b.APIKey = providerKey(b.Provider, b.APIKey, openaiKey, googleKey)
		if b.Provider == ProviderOllama && b.BaseURL == "" {
			b.BaseURL = ollamaHost
		}
	}

	e := &c.Embedding
	e.Provider = helpers.GetStringFromEnv("GUIDEBOT_EMBEDDING_PROVIDER", e.Provider)
	e.Model = helpers.GetStringFromEnv("GUIDEBOT_EMBEDDING_MODEL", e.Model)
	e.BaseURL = helpers.GetStringFromEnv("GUIDEBOT_EMBEDDING_BASE_URL", e.BaseURL)
	e.APIKey = providerKey(e.Provider, e.APIKey, openaiKey, googleKey)
	if e.Provider == ProviderOllama && e.BaseURL == "" {
		e.BaseURL = ollamaHost
	}

	c.Index.Backend = helpers.GetStringFromEnv("GUIDEBOT_INDEX_BACKEND", c.Index.Backend)
	c.Index.TopK = helpers.GetIntFromEnv("GUIDEBOT_TOP_K", c.Index.TopK)
	c.Index.Postgres.DSN = helpers.GetStringFromEnv("GUIDEBOT_POSTGRES_DSN", c.Index.Postgres.DSN)
	c.Index.Qdrant.URL = helpers.GetStringFromEnv("GUIDEBOT_QDRANT_URL", c.Index.Qdrant.URL)
	c.Index.Qdrant.APIKey = helpers.GetStringFromEnv("QDRANT_API_KEY", c.Index.Qdrant.APIKey)

	c.Sessions.Backend = helpers.GetStringFromEnv("GUIDEBOT_SESSIONS_BACKEND", c.Sessions.Backend)
	c.Sessions.TTL = helpers.GetDurationFromEnv("GUIDEBOT_SESSION_TTL", c.Sessions.TTL)
	c.Sessions.MaxSessions = helpers.GetIntFromEnv("GUIDEBOT_MAX_SESSIONS", c.Sessions.MaxSessions)
	c.Sessions.Redis.Addr = helpers.GetStringFromEnv("GUIDEBOT_REDIS_ADDR", c.Sessions.Redis.Addr)
	c.Sessions.Redis.Password = helpers.GetStringFromEnv("GUIDEBOT_REDIS_PASSWORD", c.Sessions.Redis.Password)

	c.Logging.Level = helpers.GetStringFromEnv("GUIDEBOT_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = helpers.GetStringFromEnv("GUIDEBOT_LOG_FORMAT", c.Logging.Format)

	c.Telemetry.TracingEndpoint = helpers.GetStringFromEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.TracingEndpoint)
}

func providerKey(provider, current, openaiKey, googleKey string) string {
	if current != "" {
		return current
	}
	switch provider {
	case ProviderOpenAI:
		return openaiKey
	case ProviderGemini:
		return googleKey
	}
	return ""
}

// Backend returns the backend named name.
func (c *Config) Backend(name string) (BackendConfig, bool) {
	i := slices.IndexFunc(c.Backends, func(b BackendConfig) bool { return b.Name == name })
	if i < 0 {
		return BackendConfig{}, false
	}
	return c.Backends[i], true
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Corpus.Records == "" {
		errs = append(errs, errors.New("corpus.records is required"))
	}
	if len(c.Backends) == 0 {
		errs = append(errs, errors.New("at least one backend is required"))
	}

	seenNames := map[string]bool{}
	seenRoutes := map[string]bool{}
	for i, b := range c.Backends {
		switch {
		case b.Name == "":
			errs = append(errs, fmt.Errorf("backends[%d]: name is required", i))
		case seenNames[b.Name]:
			errs = append(errs, fmt.Errorf("backends[%d]: duplicate name %q", i, b.Name))
		}
		seenNames[b.Name] = true
		if b.Route != "" {
			if !strings.HasPrefix(b.Route, "/") {
				errs = append(errs, fmt.Errorf("backend %s: route %q must start with /", b.Name, b.Route))
			}
			if seenRoutes[b.Route] {
				errs = append(errs, fmt.Errorf("backend %s: duplicate route %q", b.Name, b.Route))
			}
			seenRoutes[b.Route] = true
		}
		if b.Model == "" {
			errs = append(errs, fmt.Errorf("backend %s: model is required", b.Name))
		}
		if !validProvider(b.Provider) {
			errs = append(errs, fmt.Errorf("backend %s: unknown provider %q", b.Name, b.Provider))
		}
		if b.RatePerMinute < 0 {
			errs = append(errs, fmt.Errorf("backend %s: rate_per_minute must not be negative", b.Name))
		}
	}

	if !validProvider(c.Embedding.Provider) {
		errs = append(errs, fmt.Errorf("embedding: unknown provider %q", c.Embedding.Provider))
	}

	switch c.Index.Backend {
	case "memory":
	case "pgvector":
		if c.Index.Postgres.DSN == "" {
			errs = append(errs, errors.New("index.postgres.dsn is required for pgvector"))
		}
	case "qdrant":
		if c.Index.Qdrant.URL == "" {
			errs = append(errs, errors.New("index.qdrant.url is required for qdrant"))
		}
	default:
		errs = append(errs, fmt.Errorf("index: unknown backend %q", c.Index.Backend))
	}

	switch c.Sessions.Backend {
	case "memory":
	case "badger":
		if c.Sessions.BadgerPath == "" {
			errs = append(errs, errors.New("sessions.badger_path is required for badger"))
		}
	case "redis":
		if c.Sessions.Redis.Addr == "" {
			errs = append(errs, errors.New("sessions.redis.addr is required for redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("sessions: unknown backend %q", c.Sessions.Backend))
	}
	if c.Sessions.TTL < 0 {
		errs = append(errs, errors.New("sessions.ttl must not be negative"))
	}

	switch c.Telemetry.TracingProtocol {
	case "", "grpc", "http":
	default:
		errs = append(errs, fmt.Errorf("telemetry: unknown tracing protocol %q", c.Telemetry.TracingProtocol))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func validProvider(p string) bool {
	return p == ProviderOpenAI || p == ProviderOllama || p == ProviderGemini
}
