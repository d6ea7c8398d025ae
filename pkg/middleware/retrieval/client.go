package retrieval

import (
	"context"
	"errors"
)

// ErrEmbeddingService is returned when the embedding endpoint is unreachable
// or returns malformed output.
var ErrEmbeddingService = errors.New("embedding service error")

// VectorStore is the storage side of the embedding index.
//
// Search must rank by similarity, highest first, and break ties by
// ordinal ascending. Implementations: memory (in-process), pgvector, qdrant.
type VectorStore interface {
	// Search performs similarity search against the stored vectors
	Search(ctx context.Context, query SearchQuery) (*SearchResult, error)

	// Store adds documents, replacing any with the same ID
	Store(ctx context.Context, documents []Document) error

	// Replace makes documents the entire contents of the store. Documents
	// held before the call and absent from documents are gone afterwards.
	Replace(ctx context.Context, documents []Document) error

	// Delete removes documents by ID
	Delete(ctx context.Context, ids []string) error

	// Health checks if the store is available
	Health(ctx context.Context) error

	// Close releases any resources held by the client
	Close() error
}

// EmbeddingProvider turns text into a vector.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) (EmbeddingVector, error)
}

// EmbeddingFunc adapts a function to EmbeddingProvider.
type EmbeddingFunc func(ctx context.Context, text string) (EmbeddingVector, error)

func (f EmbeddingFunc) Embed(ctx context.Context, text string) (EmbeddingVector, error) {
	return f(ctx, text)
}

// Counter is implemented by persistent stores that can report how many
// documents they hold, so a restart can reuse a matching index.
type Counter interface {
	Count(ctx context.Context) (int, error)
}
