package guidebot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/calque-ai/guidebot/pkg/calque"
	"github.com/calque-ai/guidebot/pkg/middleware/ai"
	"github.com/calque-ai/guidebot/pkg/middleware/ctrl"
	"github.com/calque-ai/guidebot/pkg/middleware/logger"
	"github.com/calque-ai/guidebot/pkg/middleware/observability"
	"github.com/calque-ai/guidebot/pkg/middleware/prompt"
	"github.com/calque-ai/guidebot/pkg/middleware/retrieval"
	"github.com/calque-ai/guidebot/pkg/middleware/text"
)

// ErrGeneration is returned when the model fails or answers with nothing.
var ErrGeneration = errors.New("answer generation failed")

// SynthesizerConfig configures a Synthesizer.
type SynthesizerConfig struct {
	// Organization is named in the system prompt; default DefaultOrganization.
	Organization string

	// Timeout bounds the whole call including retries; default DefaultTimeout.
	Timeout time.Duration

	// Attempts per answer; default 1 (no retry).
	Attempts uint64

	// RetryBackoff is the first retry delay; default 500ms.
	RetryBackoff time.Duration

	// RatePerMinute caps generations across all requests; 0 is unlimited.
	RatePerMinute int

	// Logger, when set, logs a prompt preview and call timing.
	Logger *logger.Logger
}

// Synthesizer writes a cited answer grounded on retrieved records.
type Synthesizer struct {
	client ai.Client
	cfg    SynthesizerConfig
	inst   observability.Instrumentation
	gate   calque.Handler // shared token bucket, nil when unlimited
}

// NewSynthesizer creates a synthesizer over client.
func NewSynthesizer(client ai.Client, cfg SynthesizerConfig, inst observability.Instrumentation) *Synthesizer {
	if cfg.Organization == "" {
		cfg.Organization = DefaultOrganization
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 1
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	s := &Synthesizer{client: client, cfg: cfg, inst: inst}
	if cfg.RatePerMinute > 0 {
		s.gate = ctrl.RateLimit(ctrl.PassThrough(), cfg.RatePerMinute, time.Minute)
	}
	return s
}

// SystemPrompt renders the role instruction with the grounding context.
// An empty match list renders a fixed "nothing found" context so the model
// can still answer.
func (s *Synthesizer) SystemPrompt(matches []retrieval.Match) (string, error) {
	grounding := retrieval.FormatContext(matches)
	if grounding == "" {
		grounding = noMatchContext
	}
	return prompt.Render(systemTemplate, "", map[string]any{
		"Organization": s.cfg.Organization,
		"Context":      grounding,
	})
}

// Synthesize answers question from matches. The system message carries the
// role instruction and context; the user message is the question.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, matches []retrieval.Match) (string, error) {
	system, err := s.SystemPrompt(matches)
	if err != nil {
		return "", calque.WrapErr(ctx, fmt.Errorf("%w: %w", ErrGeneration, err), "rendering system prompt")
	}

	// Timeout stays outermost so a late attempt cannot write after it fires.
	var gen calque.Handler = ai.Agent(s.client, ai.WithSystem(system))
	if s.cfg.Attempts > 1 {
		gen = ctrl.Retry(gen, s.cfg.Attempts, s.cfg.RetryBackoff)
	}
	gen = ctrl.Timeout(gen, s.cfg.Timeout)

	flow := calque.NewFlow()
	if s.gate != nil {
		flow.Use(s.gate)
	}
	if log := s.cfg.Logger; log != nil {
		flow.Use(log.Debug().Head("QUESTION", 200, logger.Attr("matches", len(matches)))).
			Use(log.Info().Timing("SYNTHESIS", gen))
	} else {
		flow.Use(gen)
	}
	flow.Use(text.Clean())

	var answer string
	err = s.inst.Stage(ctx, "synthesize", func(ctx context.Context) error {
		return flow.Run(ctx, question, &answer)
	})
	if err != nil {
		return "", calque.WrapErr(ctx, fmt.Errorf("%w: %w", ErrGeneration, err), "synthesizing answer").
			Tag(slog.Int("matches", len(matches)))
	}

	if answer == "" {
		return "", calque.WrapErr(ctx, fmt.Errorf("%w: empty answer", ErrGeneration), "synthesizing answer")
	}
	return answer, nil
}
