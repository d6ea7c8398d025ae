// Package memory is an in-process vector store using brute-force cosine
// similarity. It is the default index backend: a handbook is a few hundred
// records, well within a linear scan per query.
package memory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/calque-ai/guidebot/pkg/middleware/retrieval"
)

// Store implements retrieval.VectorStore in memory.
type Store struct {
	mu        sync.RWMutex
	dimension int
	docs      []retrieval.Document
	byID      map[string]int
	closed    bool
}

// New creates an empty store.
func New() *Store {
	return &Store{byID: make(map[string]int)}
}

var errClosed = errors.New("memory vector store is closed")

// Store adds documents, replacing any with the same ID in place so corpus
// order is kept.
func (s *Store) Store(_ context.Context, documents []retrieval.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	dimension, err := checkDimension(s.dimension, documents)
	if err != nil {
		return err
	}
	s.dimension = dimension

	for _, d := range documents {
		d.Vector = slices.Clone(d.Vector)
		if i, ok := s.byID[d.ID]; ok {
			s.docs[i] = d
			continue
		}
		s.byID[d.ID] = len(s.docs)
		s.docs = append(s.docs, d)
	}
	return nil
}

// Replace swaps the whole contents for documents. The dimension is reset,
// so a rebuild may switch embedding models.
func (s *Store) Replace(_ context.Context, documents []retrieval.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	dimension, err := checkDimension(0, documents)
	if err != nil {
		return err
	}

	docs := make([]retrieval.Document, 0, len(documents))
	byID := make(map[string]int, len(documents))
	for _, d := range documents {
		d.Vector = slices.Clone(d.Vector)
		if i, ok := byID[d.ID]; ok {
			docs[i] = d
			continue
		}
		byID[d.ID] = len(docs)
		docs = append(docs, d)
	}
	s.dimension, s.docs, s.byID = dimension, docs, byID
	return nil
}

// checkDimension returns the common vector dimension of documents, starting
// from dimension when it is already fixed.
func checkDimension(dimension int, documents []retrieval.Document) (int, error) {
	for _, d := range documents {
		if len(d.Vector) == 0 {
			return 0, fmt.Errorf("document %s has no vector", d.ID)
		}
		if dimension == 0 {
			dimension = len(d.Vector)
		}
		if len(d.Vector) != dimension {
			return 0, fmt.Errorf("document %s: vector dimension %d, want %d", d.ID, len(d.Vector), dimension)
		}
	}
	return dimension, nil
}

// Search scores every document against query.Vector.
func (s *Store) Search(_ context.Context, query retrieval.SearchQuery) (*retrieval.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}
	if len(s.docs) > 0 && len(query.Vector) != s.dimension {
		return nil, fmt.Errorf("query dimension %d, want %d", len(query.Vector), s.dimension)
	}

	type scored struct {
		idx     int
		ordinal int
		score   float64
	}
	ranked := make([]scored, 0, len(s.docs))
	for i, d := range s.docs {
		score := cosine(query.Vector, d.Vector)
		if query.Threshold > 0 && score < query.Threshold {
			continue
		}
		ord, err := d.Ordinal()
		if err != nil {
			ord = i
		}
		ranked = append(ranked, scored{idx: i, ordinal: ord, score: score})
	}

	slices.SortStableFunc(ranked, func(a, b scored) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(a.ordinal, b.ordinal)
	})

	limit := query.Limit
	if limit <= 0 || limit > len(ranked) {
		limit = len(ranked)
	}

	result := &retrieval.SearchResult{
		Documents: make([]retrieval.Document, 0, limit),
		Query:     query.Text,
		Total:     len(ranked),
	}
	for _, r := range ranked[:limit] {
		d := s.docs[r.idx]
		d.Score = r.score
		d.Vector = nil
		result.Documents = append(result.Documents, d)
	}
	return result, nil
}

// Delete removes documents by ID.
func (s *Store) Delete(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}

	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := s.docs[:0]
	for _, d := range s.docs {
		if !drop[d.ID] {
			kept = append(kept, d)
		}
	}
	s.docs = kept
	s.byID = make(map[string]int, len(kept))
	for i, d := range kept {
		s.byID[d.ID] = i
	}
	return nil
}

// Health reports an error once the store is closed.
func (s *Store) Health(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed
	}
	return nil
}

// Close releases the stored vectors.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.docs = nil
	s.byID = nil
	return nil
}

// Len is the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func cosine(a, b retrieval.EmbeddingVector) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
