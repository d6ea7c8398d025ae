// Package server exposes guideline bots over HTTP.
//
// Every bot is mounted on its own POST route taking
// {"session_id", "query"} and answering {"response", "history"}. Pipeline
// failures map to a uniform retry message with status 503.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/calque-ai/guidebot/pkg/guidebot"
	"github.com/calque-ai/guidebot/pkg/middleware/observability"
)

// DefaultSessionID is used when a request carries no session_id.
const DefaultSessionID = "default"

const maxBodyBytes = 1 << 20

// Config holds server settings. Zero durations use the defaults below.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// RequestTimeout bounds one pipeline run. The run continues after the
	// client disconnects so the transcript stays consistent.
	RequestTimeout time.Duration

	HealthTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8000"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 150 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 120 * time.Second
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = 5 * time.Second
	}
	return c
}

// Asker answers a question within a session. *guidebot.Bot implements it.
type Asker interface {
	Ask(ctx context.Context, sessionID, question string) (guidebot.Reply, []string, error)
}

// AskerFunc adapts a function to Asker.
type AskerFunc func(ctx context.Context, sessionID, question string) (guidebot.Reply, []string, error)

func (f AskerFunc) Ask(ctx context.Context, sessionID, question string) (guidebot.Reply, []string, error) {
	return f(ctx, sessionID, question)
}

// BotAsker adapts a bot, rendering its transcript as history lines.
func BotAsker(b *guidebot.Bot) Asker {
	return AskerFunc(func(ctx context.Context, sessionID, question string) (guidebot.Reply, []string, error) {
		reply, transcript, err := b.Ask(ctx, sessionID, question)
		return reply, transcript.Lines(), err
	})
}

// Server routes chat requests to bots.
type Server struct {
	cfg     Config
	mux     *http.ServeMux
	log     zerolog.Logger
	slog    *slog.Logger
	inst    observability.Instrumentation
	checks  []observability.HealthChecker
	metrics http.Handler
	routes  []string
}

// Option configures a Server.
type Option func(*Server)

// WithRoute mounts asker on POST path.
func WithRoute(path string, asker Asker) Option {
	return func(s *Server) {
		s.routes = append(s.routes, path)
		s.mux.Handle("POST "+path, s.chat(path, asker))
	}
}

// WithLogger sets the access log and the slog logger handed to the
// pipeline. A nil sl keeps slog.Default().
func WithLogger(zl zerolog.Logger, sl *slog.Logger) Option {
	return func(s *Server) {
		s.log = zl
		if sl != nil {
			s.slog = sl
		}
	}
}

// WithInstrumentation records request metrics.
func WithInstrumentation(inst observability.Instrumentation) Option {
	return func(s *Server) { s.inst = inst }
}

// WithHealthChecks adds checks reported by GET /healthz.
func WithHealthChecks(checks ...observability.HealthChecker) Option {
	return func(s *Server) { s.checks = append(s.checks, checks...) }
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// New creates a server.
func New(cfg Config, opts ...Option) *Server {
	s := &Server{
		cfg:  cfg.withDefaults(),
		mux:  http.NewServeMux(),
		log:  zerolog.Nop(),
		slog: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("GET /healthz", s.health)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
	return s
}

// Routes lists the mounted chat routes in mount order.
func (s *Server) Routes() []string { return append([]string(nil), s.routes...) }

// Handler returns the root handler with request ids and access logging.
func (s *Server) Handler() http.Handler {
	return s.withRequestContext(s.mux)
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.log.Info().Str("addr", ln.Addr().String()).Strs("routes", s.routes).Msg("server listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info().Msg("server stopped")
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	report := observability.RunHealthChecks(r.Context(), s.cfg.HealthTimeout, s.checks...)
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
