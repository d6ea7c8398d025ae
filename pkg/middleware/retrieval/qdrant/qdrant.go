// Package qdrant stores the guideline index in a Qdrant collection.
//
// Points are keyed by record ordinal so re-indexing overwrites in place and
// Replace only has to trim the tail.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	qd "github.com/qdrant/go-client/qdrant"

	"github.com/calque-ai/guidebot/pkg/middleware/retrieval"
)

// DefaultGRPCPort is Qdrant's gRPC port; the client does not speak REST.
const DefaultGRPCPort = 6334

// Qdrant orders equal scores arbitrarily, so Search asks for extra points
// and lets the caller re-sort by ordinal.
const tieOverfetch = 8

// Client is a Qdrant-backed retrieval.VectorStore.
type Client struct {
	client         *qd.Client
	collectionName string

	mu        sync.Mutex
	dimension int
	ensured   bool
}

// Config holds Qdrant client configuration.
type Config struct {
	// URL is the gRPC endpoint, e.g. "http://localhost:6334".
	URL string

	// CollectionName defaults to "guideline".
	CollectionName string

	// APIKey is optional.
	APIKey string

	// VectorDimension sizes a new collection. 0 takes the dimension of the
	// first batch stored.
	VectorDimension int
}

// New creates a Qdrant client. The collection is created on first Store.
//
//	client, err := qdrant.New(&qdrant.Config{URL: "http://localhost:6334"})
func New(config *Config) (*Client, error) {
	host, port, err := parseAddress(config.URL)
	if err != nil {
		return nil, err
	}
	collection := config.CollectionName
	if collection == "" {
		collection = "guideline"
	}

	qdrantClient, err := qd.NewClient(&qd.Config{
		Host:   host,
		Port:   port,
		APIKey: config.APIKey,
		UseTLS: useTLS(config.URL),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}

	return &Client{
		client:         qdrantClient,
		collectionName: collection,
		dimension:      config.VectorDimension,
	}, nil
}

func parseAddress(raw string) (string, int, error) {
	if raw == "" {
		return "", 0, errors.New("qdrant URL is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", 0, fmt.Errorf("invalid Qdrant URL: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		return "", 0, fmt.Errorf("invalid Qdrant URL %q: missing host", raw)
	}

	port := DefaultGRPCPort
	if p := parsed.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, fmt.Errorf("invalid Qdrant port %q: %w", p, err)
		}
	}
	return host, port, nil
}

func useTLS(raw string) bool {
	parsed, err := url.Parse(raw)
	return err == nil && parsed.Scheme == "https"
}

// Search queries the collection by cosine similarity.
func (c *Client) Search(ctx context.Context, query retrieval.SearchQuery) (*retrieval.SearchResult, error) {
	if c.client == nil {
		return nil, errors.New("qdrant client is not initialized")
	}
	if len(query.Vector) == 0 {
		return nil, errors.New("query vector is required for qdrant search")
	}

	limit := query.Limit
	if limit <= 0 {
		limit = retrieval.DefaultTopK
	}
	fetch := uint64(limit + tieOverfetch)

	req := &qd.QueryPoints{
		CollectionName: c.collectionName,
		Query:          qd.NewQuery(query.Vector...),
		WithPayload:    qd.NewWithPayload(true),
		Limit:          &fetch,
	}
	if query.Threshold > 0 {
		threshold := float32(query.Threshold)
		req.ScoreThreshold = &threshold
	}

	points, err := c.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant search failed: %w", err)
	}

	documents := make([]retrieval.Document, 0, len(points))
	for _, point := range points {
		documents = append(documents, convertPoint(point))
	}

	return &retrieval.SearchResult{Documents: documents, Query: query.Text, Total: len(documents)}, nil
}

// Store upserts documents, creating the collection if needed.
func (c *Client) Store(ctx context.Context, documents []retrieval.Document) error {
	if c.client == nil {
		return errors.New("qdrant client is not initialized")
	}
	if len(documents) == 0 {
		return nil
	}
	if err := c.ensureCollection(ctx, len(documents[0].Vector)); err != nil {
		return err
	}

	const batchSize = 100
	for i := 0; i < len(documents); i += batchSize {
		end := min(i+batchSize, len(documents))
		if err := c.storeBatch(ctx, documents[i:end]); err != nil {
			return fmt.Errorf("failed to store batch %d-%d: %w", i, end-1, err)
		}
	}
	return nil
}

func (c *Client) storeBatch(ctx context.Context, documents []retrieval.Document) error {
	points := make([]*qd.PointStruct, 0, len(documents))
	for _, doc := range documents {
		ordinal, err := doc.Ordinal()
		if err != nil {
			return err
		}
		if len(doc.Vector) == 0 {
			return fmt.Errorf("document %s has no vector", doc.ID)
		}
		points = append(points, &qd.PointStruct{
			Id:      qd.NewIDNum(uint64(ordinal)),
			Vectors: qd.NewVectors(doc.Vector...),
			Payload: buildPayload(doc, ordinal),
		})
	}

	wait := true
	_, err := c.client.Upsert(ctx, &qd.UpsertPoints{
		CollectionName: c.collectionName,
		Points:         points,
		Wait:           &wait,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points to collection %s: %w", c.collectionName, err)
	}
	return nil
}

// Replace upserts documents and then deletes every point whose ordinal lies
// past the new corpus. Points are keyed by ordinal, so nothing else can be
// left over from an earlier build.
func (c *Client) Replace(ctx context.Context, documents []retrieval.Document) error {
	if c.client == nil {
		return errors.New("qdrant client is not initialized")
	}
	if err := c.Store(ctx, documents); err != nil {
		return err
	}
	if len(documents) == 0 {
		exists, err := c.client.CollectionExists(ctx, c.collectionName)
		if err != nil || !exists {
			return err
		}
	}

	from := float64(len(documents))
	wait := true
	_, err := c.client.Delete(ctx, &qd.DeletePoints{
		CollectionName: c.collectionName,
		Points: qd.NewPointsSelectorFilter(&qd.Filter{
			Must: []*qd.Condition{qd.NewRange(retrieval.MetaOrdinal, &qd.Range{Gte: &from})},
		}),
		Wait: &wait,
	})
	if err != nil {
		return fmt.Errorf("failed to trim collection %s to %d points: %w", c.collectionName, len(documents), err)
	}
	return nil
}

// Delete removes documents by ID ("record-N").
func (c *Client) Delete(ctx context.Context, ids []string) error {
	if c.client == nil {
		return errors.New("qdrant client is not initialized")
	}
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qd.PointId, 0, len(ids))
	for _, id := range ids {
		ordinal, err := ordinalFromID(id)
		if err != nil {
			return err
		}
		pointIDs = append(pointIDs, qd.NewIDNum(uint64(ordinal)))
	}

	wait := true
	_, err := c.client.Delete(ctx, &qd.DeletePoints{
		CollectionName: c.collectionName,
		Points:         qd.NewPointsSelector(pointIDs...),
		Wait:           &wait,
	})
	if err != nil {
		return fmt.Errorf("failed to delete %d points from collection %s: %w", len(ids), c.collectionName, err)
	}
	return nil
}

// Count returns the number of points, 0 when the collection does not exist.
func (c *Client) Count(ctx context.Context) (int, error) {
	exists, err := c.client.CollectionExists(ctx, c.collectionName)
	if err != nil {
		return 0, fmt.Errorf("failed to check collection %s: %w", c.collectionName, err)
	}
	if !exists {
		return 0, nil
	}
	exact := true
	n, err := c.client.Count(ctx, &qd.CountPoints{CollectionName: c.collectionName, Exact: &exact})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return int(n), nil
}

// Health pings the server.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check error: %w", err)
	}
	return nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("close qdrant error: %w", err)
	}
	return nil
}

func (c *Client) ensureCollection(ctx context.Context, dimension int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ensured {
		return nil
	}

	exists, err := c.client.CollectionExists(ctx, c.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection %s: %w", c.collectionName, err)
	}
	if !exists {
		if c.dimension <= 0 {
			c.dimension = dimension
		}
		if c.dimension <= 0 {
			return fmt.Errorf("vector dimension must be known to create collection %s", c.collectionName)
		}
		err = c.client.CreateCollection(ctx, &qd.CreateCollection{
			CollectionName: c.collectionName,
			VectorsConfig: qd.NewVectorsConfig(&qd.VectorParams{
				Size:     uint64(c.dimension),
				Distance: qd.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("failed to create collection %s: %w", c.collectionName, err)
		}
	}

	c.ensured = true
	return nil
}

func buildPayload(doc retrieval.Document, ordinal int) map[string]*qd.Value {
	section, _ := doc.Metadata[retrieval.MetaSection].(string)
	title, _ := doc.Metadata[retrieval.MetaTitle].(string)
	content, _ := doc.Metadata[retrieval.MetaContent].(string)

	return map[string]*qd.Value{
		"id":                  qd.NewValueString(doc.ID),
		retrieval.MetaOrdinal: qd.NewValueInt(int64(ordinal)),
		retrieval.MetaSection: qd.NewValueString(section),
		retrieval.MetaTitle:   qd.NewValueString(title),
		retrieval.MetaContent: qd.NewValueString(content),
	}
}

func convertPoint(point *qd.ScoredPoint) retrieval.Document {
	payload := point.GetPayload()
	ordinal := int(payload[retrieval.MetaOrdinal].GetIntegerValue())
	if payload[retrieval.MetaOrdinal] == nil && point.GetId() != nil {
		ordinal = int(point.GetId().GetNum())
	}

	title := payload[retrieval.MetaTitle].GetStringValue()
	content := payload[retrieval.MetaContent].GetStringValue()

	return retrieval.Document{
		ID:      retrieval.DocumentID(ordinal),
		Content: title + "\n" + content,
		Score:   float64(point.GetScore()),
		Metadata: map[string]any{
			retrieval.MetaOrdinal: ordinal,
			retrieval.MetaSection: payload[retrieval.MetaSection].GetStringValue(),
			retrieval.MetaTitle:   title,
			retrieval.MetaContent: content,
		},
	}
}

func ordinalFromID(id string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(id, "record-"))
	if err != nil || n < 0 || retrieval.DocumentID(n) != id {
		return 0, fmt.Errorf("document %s: not a record ID", id)
	}
	return n, nil
}
