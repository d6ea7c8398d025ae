// Package guidebot answers employee questions about the company handbook.
//
// A question is classified (logo request, table-of-contents request, or a
// keyword), then either answered from a fixed asset or by retrieving the
// closest handbook records and asking the model for a cited answer. Every
// exchange is recorded in the caller's session transcript.
package guidebot

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/calque-ai/guidebot/pkg/calque"
	"github.com/calque-ai/guidebot/pkg/middleware/ai"
	"github.com/calque-ai/guidebot/pkg/middleware/logger"
	"github.com/calque-ai/guidebot/pkg/middleware/memory"
	"github.com/calque-ai/guidebot/pkg/middleware/observability"
	"github.com/calque-ai/guidebot/pkg/middleware/retrieval"
)

// DefaultTimeout bounds each model call.
const DefaultTimeout = 60 * time.Second

// ErrEmptyQuestion is returned for blank questions.
var ErrEmptyQuestion = errors.New("question is empty")

// Reply is the assistant's structured answer.
type Reply struct {
	Payload memory.Payload    `json:"payload"`
	Intent  Intent            `json:"intent"`
	Matches []retrieval.Match `json:"matches,omitempty"`
}

// Text renders the reply the way the history line shows it.
func (r Reply) Text() string { return r.Payload.String() }

// Config assembles a Bot.
type Config struct {
	// Name identifies the bot in logs and metrics ("primary", "ollama").
	Name string

	Client    ai.Client
	Retriever *retrieval.Retriever
	Sessions  *memory.Sessions

	// Classify enables intent routing. When false every question is a
	// keyword query with its literal text.
	Classify bool

	Organization string
	LogoPath     string
	TOCPath      string

	Timeout  time.Duration
	Attempts uint64

	// RatePerMinute caps answer generations; 0 is unlimited.
	RatePerMinute int

	Logger          *logger.Logger
	Instrumentation observability.Instrumentation
}

// Bot runs the question pipeline.
type Bot struct {
	name       string
	classifier *Classifier
	retriever  *retrieval.Retriever
	synth      *Synthesizer
	assets     *Assets
	sessions   *memory.Sessions
	timeout    time.Duration
	inst       observability.Instrumentation
}

// New validates cfg and builds a Bot.
func New(cfg Config) (*Bot, error) {
	var errs []error
	if cfg.Client == nil {
		errs = append(errs, errors.New("guidebot: model client is required"))
	}
	if cfg.Retriever == nil {
		errs = append(errs, errors.New("guidebot: retriever is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if cfg.Name == "" {
		cfg.Name = "primary"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Sessions == nil {
		cfg.Sessions = memory.NewSessions(nil)
	}

	b := &Bot{
		name:      cfg.Name,
		retriever: cfg.Retriever,
		synth: NewSynthesizer(cfg.Client, SynthesizerConfig{
			Organization:  cfg.Organization,
			Timeout:       cfg.Timeout,
			Attempts:      cfg.Attempts,
			RatePerMinute: cfg.RatePerMinute,
			Logger:        cfg.Logger,
		}, cfg.Instrumentation),
		assets:   NewAssets(cfg.LogoPath, cfg.TOCPath, cfg.Client, cfg.Timeout, cfg.Instrumentation),
		sessions: cfg.Sessions,
		timeout:  cfg.Timeout,
		inst:     cfg.Instrumentation,
	}
	if cfg.Classify {
		b.classifier = NewClassifier(cfg.Client, cfg.Timeout, cfg.Instrumentation)
	}
	return b, nil
}

// Name returns the configured bot name.
func (b *Bot) Name() string { return b.name }

// Sessions returns the session manager.
func (b *Bot) Sessions() *memory.Sessions { return b.sessions }

// Ask answers question within session id and returns the reply together
// with the session transcript. The user turn is always recorded; on failure
// no assistant turn is, and the transcript is still returned with the error.
func (b *Bot) Ask(ctx context.Context, sessionID, question string) (Reply, memory.Transcript, error) {
	if strings.TrimSpace(question) == "" {
		return Reply{}, nil, ErrEmptyQuestion
	}
	ctx = calque.WithSessionID(ctx, sessionID)

	var (
		reply      Reply
		transcript memory.Transcript
	)
	err := b.inst.Stage(ctx, "ask", func(ctx context.Context) error {
		return b.sessions.Do(ctx, sessionID, func(s *memory.Session) error {
			s.Append(memory.UserTurn(question))

			var err error
			reply, err = b.answer(ctx, question)
			if err == nil {
				s.Append(memory.AssistantTurn(reply.Payload))
			}
			transcript = s.Transcript()
			return err
		})
	})
	if err != nil {
		return Reply{}, transcript, err
	}
	calque.LogInfo(ctx, "answered", "bot", b.name, "intent", reply.Intent.Kind, "kind", reply.Payload.Kind)
	return reply, transcript, nil
}

// Answer runs the pipeline without touching any session.
func (b *Bot) Answer(ctx context.Context, question string) (Reply, error) {
	if strings.TrimSpace(question) == "" {
		return Reply{}, ErrEmptyQuestion
	}
	return b.answer(ctx, question)
}

func (b *Bot) answer(ctx context.Context, question string) (Reply, error) {
	intent := KeywordIntent(question)
	if b.classifier != nil {
		intent = b.classifier.Classify(ctx, question)
	}

	if intent.Kind == IntentLogo || intent.Kind == IntentTOC {
		return Reply{Payload: b.assets.Resolve(ctx, intent), Intent: intent}, nil
	}

	matches, err := b.retrieve(ctx, intent.Keyword)
	if err != nil {
		return Reply{}, err
	}
	answer, err := b.synth.Synthesize(ctx, question, matches)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Payload: memory.TextPayload(answer), Intent: intent, Matches: matches}, nil
}

func (b *Bot) retrieve(ctx context.Context, query string) ([]retrieval.Match, error) {
	var matches []retrieval.Match
	err := b.inst.Stage(ctx, "retrieve", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, b.timeout)
		defer cancel()

		var err error
		matches, err = b.retriever.Retrieve(ctx, query)
		return err
	})
	return matches, err
}
