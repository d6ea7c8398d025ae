package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/rs/zerolog"

	"github.com/calque-ai/guidebot/pkg/calque"
	"github.com/calque-ai/guidebot/pkg/config"
	"github.com/calque-ai/guidebot/pkg/guidebot"
	"github.com/calque-ai/guidebot/pkg/guideline"
	"github.com/calque-ai/guidebot/pkg/helpers"
	"github.com/calque-ai/guidebot/pkg/middleware/ai"
	"github.com/calque-ai/guidebot/pkg/middleware/ai/gemini"
	"github.com/calque-ai/guidebot/pkg/middleware/ai/ollama"
	"github.com/calque-ai/guidebot/pkg/middleware/ai/openai"
	"github.com/calque-ai/guidebot/pkg/middleware/logger"
	"github.com/calque-ai/guidebot/pkg/middleware/memory"
	"github.com/calque-ai/guidebot/pkg/middleware/memory/badger"
	"github.com/calque-ai/guidebot/pkg/middleware/memory/redis"
	"github.com/calque-ai/guidebot/pkg/middleware/observability"
	"github.com/calque-ai/guidebot/pkg/middleware/retrieval"
	retrievalmemory "github.com/calque-ai/guidebot/pkg/middleware/retrieval/memory"
	"github.com/calque-ai/guidebot/pkg/middleware/retrieval/pgvector"
	"github.com/calque-ai/guidebot/pkg/middleware/retrieval/qdrant"
)

var version = "dev"

const defaultOllamaEmbeddingModel = "nomic-embed-text"

// app holds the process-wide pieces every command shares.
type app struct {
	cfg  *config.Config
	log  zerolog.Logger
	slog *slog.Logger
	inst observability.Instrumentation
	prom *observability.PrometheusProvider

	closers []func(context.Context) error
}

// stack is everything needed to answer questions.
type stack struct {
	records   []guideline.Record
	store     retrieval.VectorStore
	retriever *retrieval.Retriever
	sessions  *memory.Sessions
	bots      []*guidebot.Bot
	routes    map[string]string // bot name -> route
}

func newApp(ctx context.Context, cfg *config.Config, logOut io.Writer) (*app, context.Context, error) {
	zl := logger.NewZerolog(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: logOut,
	})
	a := &app{cfg: cfg, log: zl, slog: slog.New(logger.NewZerologHandler(zl))}
	ctx = calque.WithLogger(ctx, a.slog)

	if cfg.Telemetry.Metrics {
		a.prom = observability.NewPrometheusProvider()
		a.inst.Metrics = a.prom
	}
	if cfg.Telemetry.TracingEndpoint != "" {
		tp, err := observability.NewOTLPTracerProvider(ctx, observability.OTLPConfig{
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: version,
			Endpoint:       cfg.Telemetry.TracingEndpoint,
			Protocol:       cfg.Telemetry.TracingProtocol,
			Insecure:       cfg.Telemetry.TracingInsecure,
			SampleRate:     cfg.Telemetry.SampleRate,
		})
		if err != nil {
			return nil, ctx, fmt.Errorf("starting tracing: %w", err)
		}
		a.inst.Tracer = tp
		a.onClose(tp.Shutdown)
	}
	return a, ctx, nil
}

func (a *app) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

func closer(name string, fn func() error) func(context.Context) error {
	return func(context.Context) error { return helpers.WrapError(fn(), "closing "+name) }
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// embedder returns the raw embedding client.
func (a *app) embedder() (retrieval.EmbeddingProvider, error) {
	e := a.cfg.Embedding
	switch e.Provider {
	case config.ProviderOpenAI:
		model := e.Model
		if model == "" {
			model = openai.DefaultEmbeddingModel
		}
		return openai.New(model, openai.WithConfig(&openai.Config{
			APIKey:         e.APIKey,
			BaseURL:        e.BaseURL,
			EmbeddingModel: model,
		}))
	case config.ProviderOllama:
		model := e.Model
		if model == "" {
			model = defaultOllamaEmbeddingModel
		}
		return ollama.New(model, ollama.WithConfig(&ollama.Config{Host: e.BaseURL, EmbeddingModel: model}))
	case config.ProviderGemini:
		model := e.Model
		if model == "" {
			model = gemini.DefaultEmbeddingModel
		}
		return gemini.New(model, gemini.WithConfig(&gemini.Config{
			APIKey:         e.APIKey,
			BaseURL:        e.BaseURL,
			EmbeddingModel: model,
		}))
	}
	return nil, fmt.Errorf("unknown embedding provider %q", e.Provider)
}

func chatClient(b config.BackendConfig) (ai.Client, error) {
	switch b.Provider {
	case config.ProviderOpenAI:
		return openai.New(b.Model, openai.WithConfig(&openai.Config{
			APIKey:      b.APIKey,
			BaseURL:     b.BaseURL,
			Temperature: b.Temperature,
		}))
	case config.ProviderOllama:
		return ollama.New(b.Model, ollama.WithConfig(&ollama.Config{
			Host:        b.BaseURL,
			Temperature: b.Temperature,
		}))
	case config.ProviderGemini:
		return gemini.New(b.Model, gemini.WithConfig(&gemini.Config{
			APIKey:      b.APIKey,
			BaseURL:     b.BaseURL,
			Temperature: b.Temperature,
		}))
	}
	return nil, fmt.Errorf("backend %s: unknown provider %q", b.Name, b.Provider)
}

func (a *app) vectorStore(ctx context.Context) (retrieval.VectorStore, error) {
	ic := a.cfg.Index
	var (
		store retrieval.VectorStore
		err   error
	)
	switch ic.Backend {
	case "memory":
		store = retrievalmemory.New()
	case "pgvector":
		store, err = pgvector.New(ctx, &pgvector.Config{
			ConnectionString: ic.Postgres.DSN,
			TableName:        ic.Postgres.Table,
		})
	case "qdrant":
		store, err = qdrant.New(&qdrant.Config{
			URL:            ic.Qdrant.URL,
			CollectionName: ic.Qdrant.Collection,
			APIKey:         ic.Qdrant.APIKey,
		})
	default:
		err = fmt.Errorf("unknown index backend %q", ic.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("opening vector store: %w", err)
	}
	a.onClose(closer("vector store", store.Close))
	return store, nil
}

// reuseSamples is how many records VerifyIndex re-embeds before a stored
// index is trusted.
const reuseSamples = 8

// index embeds records into store, or reuses a persistent store that
// already holds one document per record and passes VerifyIndex.
func (a *app) index(ctx context.Context, records []guideline.Record, embedder retrieval.EmbeddingProvider, store retrieval.VectorStore, reuse bool) (*retrieval.Index, error) {
	defer a.inst.Set(ctx, observability.MetricIndexRecords, float64(len(records)), nil)

	if counter, ok := store.(retrieval.Counter); ok && reuse && len(records) > 0 {
		n, err := counter.Count(ctx)
		switch {
		case err != nil:
			calque.LogWarn(ctx, "counting stored documents failed, rebuilding index", "error", err)
		case n == len(records):
			ix := retrieval.OpenIndex(records, store, 0)
			if err := retrieval.VerifyIndex(ctx, ix, embedder, reuseSamples); err != nil {
				calque.LogWarn(ctx, "stored index failed verification, rebuilding", "error", err)
				break
			}
			calque.LogInfo(ctx, "reusing stored index", "records", n)
			return ix, nil
		default:
			calque.LogInfo(ctx, "stored index is stale, rebuilding", "stored", n, "records", len(records))
		}
	}
	return retrieval.BuildIndex(ctx, records, embedder, store, retrieval.WithRetry(3, 500*time.Millisecond))
}

func (a *app) sessionStore() (memory.Store, error) {
	sc := a.cfg.Sessions
	var (
		store memory.Store
		err   error
	)
	switch sc.Backend {
	case "memory":
		store = memory.NewInMemoryStore(memory.WithTTL(sc.TTL), memory.WithMaxSessions(sc.MaxSessions))
	case "badger":
		store, err = badger.Open(badger.Config{Path: sc.BadgerPath, TTL: sc.TTL})
	case "redis":
		store, err = redis.New(redis.Config{
			Addr:      sc.Redis.Addr,
			Password:  sc.Redis.Password,
			DB:        sc.Redis.DB,
			KeyPrefix: sc.Redis.KeyPrefix,
			TTL:       sc.TTL,
		})
	default:
		err = fmt.Errorf("unknown session backend %q", sc.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}
	return store, nil
}

// buildStack loads the corpus, builds the index and one bot per backend.
// An unreadable corpus is fatal.
func (a *app) buildStack(ctx context.Context) (*stack, error) {
	records, err := guideline.Load(a.cfg.Corpus.Records)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		calque.LogWarn(ctx, "corpus is empty, answers will not be grounded", "path", a.cfg.Corpus.Records)
	}

	embedder, err := a.embedder()
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	store, err := a.vectorStore(ctx)
	if err != nil {
		return nil, err
	}
	ix, err := a.index(ctx, records, embedder, store, a.cfg.Index.Reuse)
	if err != nil {
		return nil, err
	}

	queryEmbedder := embedder
	if a.cfg.Embedding.CacheSize > 0 {
		cached, err := retrieval.NewCachedEmbedder(embedder, a.cfg.Embedding.CacheSize, a.cfg.Embedding.CacheTTL)
		if err != nil {
			return nil, fmt.Errorf("creating embedding cache: %w", err)
		}
		a.onClose(func(context.Context) error { cached.Close(); return nil })
		queryEmbedder = cached
	}
	retriever := retrieval.NewRetriever(queryEmbedder, ix, a.cfg.Index.TopK)

	sessionStore, err := a.sessionStore()
	if err != nil {
		return nil, err
	}
	sessions := memory.NewSessions(sessionStore)
	a.onClose(closer("sessions", sessions.Close))

	s := &stack{
		records:   records,
		store:     store,
		retriever: retriever,
		sessions:  sessions,
		routes:    map[string]string{},
	}
	flowLog := logger.New(logger.NewZerologAdapter(a.log))
	for _, bc := range a.cfg.Backends {
		client, err := chatClient(bc)
		if err != nil {
			return nil, fmt.Errorf("backend %s: %w", bc.Name, err)
		}
		bot, err := guidebot.New(guidebot.Config{
			Name:            bc.Name,
			Client:          client,
			Retriever:       retriever,
			Sessions:        sessions,
			Classify:        bc.Classifies(),
			Organization:    a.cfg.Corpus.Organization,
			LogoPath:        a.cfg.Corpus.Logo,
			TOCPath:         a.cfg.Corpus.TOC,
			Timeout:         bc.Timeout,
			Attempts:        bc.Attempts,
			RatePerMinute:   bc.RatePerMinute,
			Logger:          flowLog,
			Instrumentation: a.inst,
		})
		if err != nil {
			return nil, fmt.Errorf("backend %s: %w", bc.Name, err)
		}
		s.bots = append(s.bots, bot)
		s.routes[bc.Name] = bc.Route
	}
	return s, nil
}

// bot returns the bot for backend name.
func (s *stack) bot(name string) (*guidebot.Bot, error) {
	for _, b := range s.bots {
		if b.Name() == name {
			return b, nil
		}
	}
	return nil, fmt.Errorf("no backend named %q", name)
}
