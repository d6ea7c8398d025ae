package retrieval

import (
	"fmt"
	"strconv"

	"github.com/calque-ai/guidebot/pkg/guideline"
)

// DefaultTopK is the number of records returned when a search asks for k <= 0.
const DefaultTopK = 4

// EmbeddingVector represents a vector embedding.
type EmbeddingVector []float32

// Document is the index form of a guideline record.
//
// Metadata carries the record fields under MetaSection, MetaTitle and
// MetaContent, and its corpus position under MetaOrdinal.
type Document struct {
	ID       string          `json:"id"`
	Content  string          `json:"content"`
	Metadata map[string]any  `json:"metadata,omitempty"`
	Vector   EmbeddingVector `json:"-"`
	Score    float64         `json:"score,omitempty"` // cosine similarity, higher is closer
}

// Metadata keys written by BuildIndex and read back by Index.Search.
const (
	MetaSection = "section"
	MetaTitle   = "title"
	MetaContent = "content"
	MetaOrdinal = "ordinal"
)

// SearchQuery represents a vector search query.
type SearchQuery struct {
	Text      string          `json:"text,omitempty"`
	Vector    EmbeddingVector `json:"vector,omitempty"`
	Threshold float64         `json:"threshold"`       // minimum similarity, 0 disables
	Limit     int             `json:"limit,omitempty"` // maximum results
}

// SearchResult holds documents ranked by similarity, highest first.
type SearchResult struct {
	Documents []Document `json:"documents"`
	Query     string     `json:"query"`
	Total     int        `json:"total"`
}

// Match is a retrieved record and its similarity to the query.
type Match struct {
	Record  guideline.Record `json:"record"`
	Score   float64          `json:"score"`
	Ordinal int              `json:"ordinal"`
}

// DocumentID is the stable ID a record gets in every backend.
func DocumentID(ordinal int) string {
	return "record-" + strconv.Itoa(ordinal)
}

// NewDocument converts a record at position ordinal into an index document.
func NewDocument(ordinal int, rec guideline.Record, vector EmbeddingVector) Document {
	return Document{
		ID:      DocumentID(ordinal),
		Content: rec.EmbeddingText(),
		Vector:  vector,
		Metadata: map[string]any{
			MetaSection: rec.Section,
			MetaTitle:   rec.Title,
			MetaContent: rec.Content,
			MetaOrdinal: ordinal,
		},
	}
}

// Ordinal extracts the corpus position from a document's metadata. Backends
// round-trip numbers through JSON or protobuf, so several numeric kinds are
// accepted.
func (d Document) Ordinal() (int, error) {
	switch v := d.Metadata[MetaOrdinal].(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		return strconv.Atoi(v)
	default:
		return 0, fmt.Errorf("document %s: missing ordinal", d.ID)
	}
}
