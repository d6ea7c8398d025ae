package guidebot

import (
	"context"
	"strings"
	"time"

	"github.com/calque-ai/guidebot/pkg/calque"
	"github.com/calque-ai/guidebot/pkg/middleware/ai"
	"github.com/calque-ai/guidebot/pkg/middleware/ctrl"
	"github.com/calque-ai/guidebot/pkg/middleware/observability"
	"github.com/calque-ai/guidebot/pkg/middleware/prompt"
	"github.com/calque-ai/guidebot/pkg/middleware/text"
)

// IntentKind routes a question.
type IntentKind string

const (
	IntentKeyword IntentKind = "keyword"
	IntentLogo    IntentKind = "logo_request"
	IntentTOC     IntentKind = "toc_request"
)

// Intent is the classifier's decision. Keyword is the retrieval query for
// IntentKeyword and empty otherwise.
type Intent struct {
	Kind    IntentKind `json:"kind"`
	Keyword string     `json:"keyword,omitempty"`
}

// KeywordIntent treats q as a direct retrieval query.
func KeywordIntent(q string) Intent {
	return Intent{Kind: IntentKeyword, Keyword: q}
}

// Classifier routes questions with one constrained generation call.
type Classifier struct {
	client  ai.Client
	timeout time.Duration
	inst    observability.Instrumentation
}

// NewClassifier creates a classifier. timeout <= 0 means DefaultTimeout.
func NewClassifier(client ai.Client, timeout time.Duration, inst observability.Instrumentation) *Classifier {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Classifier{client: client, timeout: timeout, inst: inst}
}

// Classify never fails: any model error falls back to a keyword intent with
// the question itself.
func (c *Classifier) Classify(ctx context.Context, question string) Intent {
	var label string
	err := c.inst.Stage(ctx, "classify", func(ctx context.Context) error {
		return calque.NewFlow().
			Use(prompt.FromTemplate(classifyTemplate)).
			Use(ctrl.Timeout(ai.Agent(c.client, ai.WithTemperature(0)), c.timeout)).
			Use(text.Transform(normalizeLabel)).
			Run(ctx, question, &label)
	})
	if err != nil {
		calque.LogWarn(ctx, "classification failed, using question as keyword", "error", err)
		c.inst.Count(ctx, observability.MetricClassifierFails, nil)
		return c.record(ctx, KeywordIntent(question))
	}

	switch label {
	case LabelLogo:
		return c.record(ctx, Intent{Kind: IntentLogo})
	case LabelTOC:
		return c.record(ctx, Intent{Kind: IntentTOC})
	case "":
		return c.record(ctx, KeywordIntent(question))
	default:
		return c.record(ctx, KeywordIntent(label))
	}
}

func (c *Classifier) record(ctx context.Context, in Intent) Intent {
	c.inst.Count(ctx, observability.MetricIntents, map[string]string{"intent": string(in.Kind)})
	calque.LogDebug(ctx, "classified", "intent", in.Kind, "keyword", in.Keyword)
	return in
}

// normalizeLabel prepares classifier output for matching: reasoning
// stripped, lower-cased, and without the quotes models echo from the
// prompt's examples.
func normalizeLabel(s string) string {
	s = strings.ToLower(text.StripReasoning(s))
	return strings.Trim(s, "'\"`. ")
}
