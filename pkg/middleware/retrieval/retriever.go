package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/calque-ai/guidebot/pkg/calque"
)

// Retriever embeds a query with the same provider that built the index and
// searches it.
type Retriever struct {
	embedder EmbeddingProvider
	index    *Index
	topK     int
}

// NewRetriever creates a retriever. topK <= 0 means DefaultTopK.
func NewRetriever(embedder EmbeddingProvider, index *Index, topK int) *Retriever {
	return &Retriever{embedder: embedder, index: index, topK: topK}
}

// Retrieve returns matches for query. An empty corpus yields an empty,
// non-nil slice without contacting the embedding endpoint.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]Match, error) {
	if r.index.Len() == 0 {
		return []Match{}, nil
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, calque.WrapErr(ctx, fmt.Errorf("%w: %w", ErrEmbeddingService, err), "embedding query")
	}
	if len(vec) == 0 {
		return nil, calque.WrapErr(ctx, fmt.Errorf("%w: empty vector", ErrEmbeddingService), "embedding query").
			Tag(slog.Int("query_len", len(query)))
	}
	if d := r.index.Dimension(); d > 0 && len(vec) != d {
		return nil, calque.WrapErr(ctx, fmt.Errorf("%w: query dimension %d, index dimension %d",
			ErrEmbeddingService, len(vec), d), "embedding query")
	}

	matches, err := r.index.Search(ctx, vec, r.topK)
	if err != nil {
		return nil, err
	}
	calque.LogDebug(ctx, "retrieved", "query", query, "matches", len(matches))
	return matches, nil
}

// Search is a handler that reads a query and writes its matches as a JSON
// array, for ContextBuilder or a tool response.
//
//	flow := calque.NewFlow().
//		Use(retrieval.Search(retriever)).
//		Use(retrieval.ContextBuilder(0))
func Search(r *Retriever) calque.Handler {
	return calque.HandlerFunc(func(req *calque.Request, res *calque.Response) error {
		var query string
		if err := calque.Read(req, &query); err != nil {
			return err
		}
		matches, err := r.Retrieve(req.Context, strings.TrimSpace(query))
		if err != nil {
			return err
		}
		return calque.WriteJSON(res, matches)
	})
}
