// Package mcp publishes the guideline bot as Model Context Protocol tools.
//
//	server := mcp.NewServer(bot, retriever)
//	err := mcp.ServeStdio(ctx, server)
package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/calque-ai/guidebot/pkg/guidebot"
	"github.com/calque-ai/guidebot/pkg/middleware/memory"
	"github.com/calque-ai/guidebot/pkg/middleware/retrieval"
)

// Tool names.
const (
	ToolAsk    = "ask_guideline"
	ToolSearch = "search_guideline"
)

// Asker answers within a session. *guidebot.Bot implements it.
type Asker interface {
	Ask(ctx context.Context, sessionID, question string) (guidebot.Reply, memory.Transcript, error)
}

type serverConfig struct {
	implementation *mcp.Implementation
	contextBudget  int
}

// Option configures NewServer.
type Option func(*serverConfig)

// WithImplementation sets the name and version reported to clients.
func WithImplementation(name, version string) Option {
	return func(c *serverConfig) {
		c.implementation = &mcp.Implementation{Name: name, Version: version}
	}
}

// WithContextBudget caps search_guideline output at roughly tokens tokens.
// 0 returns every match.
func WithContextBudget(tokens int) Option {
	return func(c *serverConfig) { c.contextBudget = tokens }
}

func defaultImplementation() *mcp.Implementation {
	return &mcp.Implementation{Name: "guidebot", Version: "v0.1.0"}
}

// NewServer registers ask_guideline over asker, and search_guideline when
// retriever is not nil.
func NewServer(asker Asker, retriever *retrieval.Retriever, opts ...Option) *mcp.Server {
	cfg := serverConfig{implementation: defaultImplementation()}
	for _, opt := range opts {
		opt(&cfg)
	}

	server := mcp.NewServer(cfg.implementation, nil)
	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolAsk,
		Description: "Answer a question about the company handbook, citing the articles used. Turns are kept per session_id.",
	}, askTool(asker))

	if retriever != nil {
		mcp.AddTool(server, &mcp.Tool{
			Name:        ToolSearch,
			Description: "Return the handbook articles closest to a query, formatted as grounding context.",
		}, searchTool(retriever, cfg.contextBudget))
	}
	return server
}

// ServeStdio serves server over stdin/stdout until ctx ends or the client
// disconnects.
func ServeStdio(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}
