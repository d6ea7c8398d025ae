package mcp

import (
	"context"
	"errors"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/calque-ai/guidebot/pkg/calque"
	"github.com/calque-ai/guidebot/pkg/guidebot"
	"github.com/calque-ai/guidebot/pkg/helpers"
	"github.com/calque-ai/guidebot/pkg/middleware/memory"
	"github.com/calque-ai/guidebot/pkg/middleware/retrieval"
)

// AskArgs are the ask_guideline arguments.
type AskArgs struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"conversation id; defaults to default"`
	Question  string `json:"question" jsonschema:"the employee's question"`
}

// AskResult is the structured ask_guideline output.
type AskResult struct {
	Answer  string             `json:"answer"`
	Kind    memory.PayloadKind `json:"kind"`
	Path    string             `json:"path,omitempty"`
	History []string           `json:"history"`
}

// SearchArgs are the search_guideline arguments.
type SearchArgs struct {
	Query string `json:"query" jsonschema:"keyword or question to look up"`
}

// SearchResult is the structured search_guideline output.
type SearchResult struct {
	Context string        `json:"context"`
	Matches []SearchMatch `json:"matches"`
}

// SearchMatch is one retrieved record.
type SearchMatch struct {
	Section string  `json:"section"`
	Title   string  `json:"title,omitempty"`
	Score   float64 `json:"score"`
}

func askTool(asker Asker) mcp.ToolHandlerFor[AskArgs, AskResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, args AskArgs) (*mcp.CallToolResult, AskResult, error) {
		question := strings.TrimSpace(args.Question)
		if question == "" {
			return nil, AskResult{}, errors.New("question is required")
		}
		sessionID := helpers.DefaultString(args.SessionID, "default")

		reply, transcript, err := asker.Ask(ctx, sessionID, question)
		if err != nil {
			calque.LogError(ctx, "mcp ask failed", err, "session_id", sessionID)
			return nil, AskResult{}, errors.New(guidebot.MessageRetry)
		}

		out := AskResult{
			Answer:  reply.Text(),
			Kind:    reply.Payload.Kind,
			Path:    reply.Payload.Path,
			History: transcript.Lines(),
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: out.Answer}},
		}, out, nil
	}
}

func searchTool(r *retrieval.Retriever, budget int) mcp.ToolHandlerFor[SearchArgs, SearchResult] {
	search := calque.NewFlow().Use(retrieval.Search(r))
	format := calque.NewFlow().Use(retrieval.ContextBuilder(budget))

	return func(ctx context.Context, _ *mcp.CallToolRequest, args SearchArgs) (*mcp.CallToolResult, SearchResult, error) {
		query := strings.TrimSpace(args.Query)
		if query == "" {
			return nil, SearchResult{}, errors.New("query is required")
		}

		var matches []retrieval.Match
		if err := search.Run(ctx, query, calque.AsJSON(&matches)); err != nil {
			calque.LogError(ctx, "mcp search failed", err)
			return nil, SearchResult{}, errors.New(guidebot.MessageRetry)
		}
		var grounding string
		if err := format.Run(ctx, calque.AsJSON(&matches), &grounding); err != nil {
			return nil, SearchResult{}, err
		}

		out := SearchResult{Context: grounding, Matches: make([]SearchMatch, 0, len(matches))}
		for _, m := range matches {
			out.Matches = append(out.Matches, SearchMatch{Section: m.Record.Section, Title: m.Record.Title, Score: m.Score})
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: grounding}},
		}, out, nil
	}
}
