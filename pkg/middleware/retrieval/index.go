package retrieval

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/calque-ai/guidebot/pkg/calque"
	"github.com/calque-ai/guidebot/pkg/guideline"
)

// Index is the semantic index over one corpus. It is read-only after
// construction and safe for concurrent searches.
type Index struct {
	records   []guideline.Record
	store     VectorStore
	dimension int
}

type indexConfig struct {
	attempts    uint64
	backoff     time.Duration
	concurrency int
}

// IndexOption configures BuildIndex.
type IndexOption func(*indexConfig)

// WithRetry sets how many times each record's embedding is attempted and
// the base of the exponential backoff between attempts.
func WithRetry(attempts uint64, backoff time.Duration) IndexOption {
	return func(c *indexConfig) {
		if attempts > 0 {
			c.attempts = attempts
		}
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// WithConcurrency bounds parallel embedding calls during a build.
func WithConcurrency(n int) IndexOption {
	return func(c *indexConfig) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// BuildIndex embeds every record and replaces the contents of store with the
// vectors, so documents left from an earlier, larger corpus are dropped.
//
// The embedded text is Record.EmbeddingText. If any record fails to embed
// after retries, or comes back empty or with a different dimension from the
// rest, BuildIndex returns ErrEmbeddingService and nothing is stored.
func BuildIndex(ctx context.Context, records []guideline.Record, embedder EmbeddingProvider, store VectorStore, opts ...IndexOption) (*Index, error) {
	cfg := indexConfig{attempts: 3, backoff: 200 * time.Millisecond, concurrency: 4}
	for _, opt := range opts {
		opt(&cfg)
	}

	start := time.Now()
	log := calque.LogWith(ctx, "component", "index")
	log.Debug("embedding records", "records", len(records), "concurrency", cfg.concurrency)
	docs := make([]Document, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.concurrency)
	for i, rec := range records {
		g.Go(func() error {
			vec, err := embedWithRetry(gctx, embedder, rec.EmbeddingText(), cfg)
			if err != nil {
				return fmt.Errorf("record %d (%s %s): %w", i, rec.Section, rec.Title, err)
			}
			docs[i] = NewDocument(i, rec, vec)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, calque.WrapErr(ctx, fmt.Errorf("%w: %w", ErrEmbeddingService, err), "building index").
			Tag(slog.Int("records", len(records)))
	}

	dimension := 0
	if len(docs) > 0 {
		dimension = len(docs[0].Vector)
	}
	for i, d := range docs {
		if len(d.Vector) != dimension {
			return nil, calque.WrapErr(ctx, fmt.Errorf("%w: record %d has dimension %d, want %d",
				ErrEmbeddingService, i, len(d.Vector), dimension), "building index")
		}
	}

	if err := store.Replace(ctx, docs); err != nil {
		return nil, calque.WrapErr(ctx, err, "storing index")
	}

	log.Info("index built",
		"records", len(records),
		"dimension", dimension,
		"duration", time.Since(start))

	return &Index{records: records, store: store, dimension: dimension}, nil
}

// OpenIndex attaches to a store that BuildIndex already populated for the
// same records, skipping re-embedding. dimension may be 0 when unknown.
func OpenIndex(records []guideline.Record, store VectorStore, dimension int) *Index {
	return &Index{records: records, store: store, dimension: dimension}
}

// ErrStaleIndex means a reused store holds documents that no longer match
// the corpus.
var ErrStaleIndex = errors.New("stored index does not match corpus")

// VerifyIndex spot-checks an opened index: it embeds up to samples records,
// spread evenly over the corpus, and requires every document the store
// returns for them to carry the current section, title and content of the
// record at its ordinal. Edits to records that are neither sampled nor near
// a sample go unnoticed.
func VerifyIndex(ctx context.Context, ix *Index, embedder EmbeddingProvider, samples int) error {
	n := len(ix.records)
	if n == 0 || samples <= 0 {
		return nil
	}
	samples = min(samples, n)
	for s := range samples {
		i := s * n / samples
		vec, err := embedder.Embed(ctx, ix.records[i].EmbeddingText())
		if err != nil {
			return calque.WrapErr(ctx, fmt.Errorf("%w: %w", ErrEmbeddingService, err), "verifying index")
		}
		res, err := ix.store.Search(ctx, SearchQuery{Vector: vec, Limit: 3})
		if err != nil {
			return calque.WrapErr(ctx, err, "verifying index")
		}
		for _, d := range res.Documents {
			ord, err := d.Ordinal()
			if err != nil || ord < 0 || ord >= n || !sameRecord(d, ix.records[ord]) {
				return calque.WrapErr(ctx, ErrStaleIndex, "verifying index").Tag(slog.String("document", d.ID))
			}
		}
	}
	return nil
}

func sameRecord(d Document, rec guideline.Record) bool {
	section, _ := d.Metadata[MetaSection].(string)
	title, _ := d.Metadata[MetaTitle].(string)
	content, _ := d.Metadata[MetaContent].(string)
	return section == rec.Section && title == rec.Title && content == rec.Content
}

func embedWithRetry(ctx context.Context, embedder EmbeddingProvider, text string, cfg indexConfig) (EmbeddingVector, error) {
	var vec EmbeddingVector
	backoff := retry.WithMaxRetries(cfg.attempts-1, retry.NewExponential(cfg.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		v, err := embedder.Embed(ctx, text)
		if err != nil {
			return retry.RetryableError(err)
		}
		if len(v) == 0 {
			return errors.New("empty embedding")
		}
		vec = v
		return nil
	})
	return vec, err
}

// Len is the number of indexed records.
func (ix *Index) Len() int { return len(ix.records) }

// Dimension is the embedding dimension, or 0 for an empty or opened index.
func (ix *Index) Dimension() int { return ix.dimension }

// Store returns the backing vector store.
func (ix *Index) Store() VectorStore { return ix.store }

// Search returns the top k records for vector, highest similarity first,
// ties broken by corpus order. k <= 0 means DefaultTopK; k larger than the
// corpus returns every record.
func (ix *Index) Search(ctx context.Context, vector EmbeddingVector, k int) ([]Match, error) {
	n := len(ix.records)
	if n == 0 {
		return []Match{}, nil
	}
	if k <= 0 {
		k = DefaultTopK
	}
	k = min(k, n)

	res, err := ix.store.Search(ctx, SearchQuery{Vector: vector, Limit: k})
	if err != nil {
		return nil, calque.WrapErr(ctx, err, "vector search")
	}

	matches := make([]Match, 0, len(res.Documents))
	for _, d := range res.Documents {
		ord, err := d.Ordinal()
		if err != nil {
			return nil, calque.WrapErr(ctx, err, "vector search")
		}
		if ord < 0 || ord >= n {
			return nil, calque.NewErr(ctx, fmt.Sprintf("vector search: ordinal %d outside corpus of %d", ord, n))
		}
		matches = append(matches, Match{Record: ix.records[ord], Score: d.Score, Ordinal: ord})
	}

	SortMatches(matches)
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// SortMatches orders by score descending, then ordinal ascending.
func SortMatches(matches []Match) {
	slices.SortStableFunc(matches, func(a, b Match) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Ordinal, b.Ordinal)
	})
}
