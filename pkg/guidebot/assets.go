package guidebot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/calque-ai/guidebot/pkg/calque"
	"github.com/calque-ai/guidebot/pkg/guideline"
	"github.com/calque-ai/guidebot/pkg/middleware/ai"
	"github.com/calque-ai/guidebot/pkg/middleware/ctrl"
	"github.com/calque-ai/guidebot/pkg/middleware/memory"
	"github.com/calque-ai/guidebot/pkg/middleware/observability"
	"github.com/calque-ai/guidebot/pkg/middleware/prompt"
	"github.com/calque-ai/guidebot/pkg/middleware/text"
)

var errEmptyTOC = errors.New("model returned an empty table of contents")

// Assets answers the logo and table-of-contents requests.
type Assets struct {
	LogoPath string
	TOCPath  string

	client  ai.Client
	timeout time.Duration
	inst    observability.Instrumentation
}

// NewAssets creates a responder. client reformats the table of contents.
func NewAssets(logoPath, tocPath string, client ai.Client, timeout time.Duration, inst observability.Instrumentation) *Assets {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Assets{LogoPath: logoPath, TOCPath: tocPath, client: client, timeout: timeout, inst: inst}
}

// Resolve answers a special intent. It never fails; every problem becomes a
// fixed user-facing message.
func (a *Assets) Resolve(ctx context.Context, in Intent) memory.Payload {
	var p memory.Payload
	_ = a.inst.Stage(ctx, "asset", func(ctx context.Context) error {
		switch in.Kind {
		case IntentLogo:
			p = a.Logo(ctx)
		case IntentTOC:
			p = a.TOC(ctx)
		default:
			calque.LogWarn(ctx, "no asset for intent", "intent", in.Kind)
			p = memory.TextPayload(MessageRetry)
		}
		return nil
	})
	return p
}

// Logo returns the logo path when the file exists.
func (a *Assets) Logo(ctx context.Context) memory.Payload {
	info, err := os.Stat(a.LogoPath)
	if a.LogoPath == "" || err != nil || info.IsDir() {
		calque.LogWarn(ctx, "logo asset not found", "path", a.LogoPath)
		return memory.TextPayload(MessageLogoNotFound)
	}
	return memory.AssetPayload(a.LogoPath)
}

// TOC reformats the table of contents into prose with one model call.
func (a *Assets) TOC(ctx context.Context) memory.Payload {
	toc, err := a.formatTOC(ctx)
	if err != nil {
		calque.LogError(ctx, "table of contents failed", err, "path", a.TOCPath)
		return memory.TextPayload(fmt.Sprintf(MessageTOCError, err))
	}
	return memory.TextPayload(toc)
}

func (a *Assets) formatTOC(ctx context.Context) (string, error) {
	raw, err := guideline.LoadTOC(a.TOCPath)
	if err != nil {
		return "", err
	}
	indented, err := guideline.IndentTOC(raw)
	if err != nil {
		return "", err
	}

	var out string
	err = calque.NewFlow().
		Use(prompt.FromTemplate(tocTemplate, map[string]any{"TOC": indented})).
		Use(ctrl.Timeout(ai.Agent(a.client), a.timeout)).
		Use(text.Clean()).
		Run(ctx, "", &out)
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", errEmptyTOC
	}
	return out, nil
}
