// Package pgvector stores the guideline index in PostgreSQL with the
// pgvector extension. Use it when several bot replicas should share one
// prebuilt index instead of each embedding the corpus at startup.
package pgvector

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/calque-ai/guidebot/pkg/middleware/retrieval"
)

// Client is a pgvector-backed retrieval.VectorStore.
type Client struct {
	pool        *pgxpool.Pool
	table       string
	dimension   int
	createIndex bool

	schemaMu      sync.Mutex
	schemaEnsured bool
}

// Config holds pgvector client configuration.
type Config struct {
	// ConnectionString is a postgres:// URL or DSN.
	ConnectionString string

	// TableName defaults to "guideline_records".
	TableName string

	// VectorDimension sizes the embedding column. 0 takes the dimension of
	// the first batch stored.
	VectorDimension int

	// CreateIndex adds an HNSW index. Exact scans are fine, and exact, for
	// a handbook-sized corpus; enable only for large corpora.
	CreateIndex bool
}

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// New connects to PostgreSQL and verifies the vector extension is installed.
func New(ctx context.Context, config *Config) (*Client, error) {
	if config.ConnectionString == "" {
		return nil, errors.New("PostgreSQL connection string is required")
	}
	table := config.TableName
	if table == "" {
		table = "guideline_records"
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	c := &Client{
		pool:        pool,
		table:       table,
		dimension:   config.VectorDimension,
		createIndex: config.CreateIndex,
	}
	if err := c.checkExtension(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) checkExtension(ctx context.Context) error {
	var exists bool
	err := c.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = 'vector')",
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check pgvector extension: %w", err)
	}
	if !exists {
		return errors.New("pgvector extension not installed - run: CREATE EXTENSION vector")
	}
	return nil
}

// Search ranks rows by cosine similarity, ties broken by ordinal.
func (c *Client) Search(ctx context.Context, query retrieval.SearchQuery) (*retrieval.SearchResult, error) {
	if len(query.Vector) == 0 {
		return nil, errors.New("query vector is required for pgvector search")
	}
	if err := c.ensureTable(ctx, len(query.Vector)); err != nil {
		return nil, err
	}

	limit := query.Limit
	if limit <= 0 {
		limit = retrieval.DefaultTopK
	}

	// threshold is compared against similarity; -1 disables it since cosine >= -1
	threshold := -1.0
	if query.Threshold > 0 {
		threshold = query.Threshold
	}

	sql := fmt.Sprintf(`
		SELECT id, ordinal, section, title, content, 1 - (embedding <=> $1) AS similarity
		FROM %s
		WHERE 1 - (embedding <=> $1) >= $2
		ORDER BY embedding <=> $1, ordinal
		LIMIT $3`, c.table)

	rows, err := c.pool.Query(ctx, sql, pgvector.NewVector(query.Vector), threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("pgvector search failed: %w", err)
	}
	defer rows.Close()

	documents := make([]retrieval.Document, 0, limit)
	for rows.Next() {
		var (
			doc                     retrieval.Document
			ordinal                 int
			section, title, content string
		)
		if err := rows.Scan(&doc.ID, &ordinal, &section, &title, &content, &doc.Score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		doc.Content = title + "\n" + content
		doc.Metadata = map[string]any{
			retrieval.MetaOrdinal: ordinal,
			retrieval.MetaSection: section,
			retrieval.MetaTitle:   title,
			retrieval.MetaContent: content,
		}
		documents = append(documents, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return &retrieval.SearchResult{Documents: documents, Query: query.Text, Total: len(documents)}, nil
}

// Store upserts documents in one transaction, so a failed build leaves the
// previous index untouched.
func (c *Client) Store(ctx context.Context, documents []retrieval.Document) error {
	if len(documents) == 0 {
		return nil
	}
	if err := c.ensureTable(ctx, len(documents[0].Vector)); err != nil {
		return err
	}
	batch, err := c.upsertBatch(documents)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, c.pool, func(tx pgx.Tx) error {
		return execBatch(ctx, tx, batch)
	})
}

// Replace deletes every row and inserts documents in the same transaction.
// Concurrent searches see either the old index or the new one.
func (c *Client) Replace(ctx context.Context, documents []retrieval.Document) error {
	dimension := 0
	if len(documents) > 0 {
		dimension = len(documents[0].Vector)
	}
	if len(documents) == 0 {
		n, err := c.Count(ctx)
		if err != nil || n == 0 {
			return err
		}
	}
	if err := c.ensureTable(ctx, dimension); err != nil {
		return err
	}
	batch, err := c.upsertBatch(documents)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, c.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s", c.table)); err != nil {
			return fmt.Errorf("failed to clear %s: %w", c.table, err)
		}
		return execBatch(ctx, tx, batch)
	})
}

func (c *Client) upsertBatch(documents []retrieval.Document) (*pgx.Batch, error) {
	upsert := fmt.Sprintf(`
		INSERT INTO %s (id, ordinal, section, title, content, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			ordinal = EXCLUDED.ordinal,
			section = EXCLUDED.section,
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			updated_at = NOW()`, c.table)

	batch := &pgx.Batch{}
	for _, doc := range documents {
		ordinal, err := doc.Ordinal()
		if err != nil {
			return nil, err
		}
		section, _ := doc.Metadata[retrieval.MetaSection].(string)
		title, _ := doc.Metadata[retrieval.MetaTitle].(string)
		content, _ := doc.Metadata[retrieval.MetaContent].(string)
		batch.Queue(upsert, doc.ID, ordinal, section, title, content, pgvector.NewVector(doc.Vector))
	}
	return batch, nil
}

func execBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	results := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("failed to store document %d: %w", i, err)
		}
	}
	return results.Close()
}

// Delete removes documents by ID.
func (c *Client) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := c.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ANY($1)", c.table), ids)
	if err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

// Count returns the number of stored records, 0 when the table does not exist yet.
func (c *Client) Count(ctx context.Context) (int, error) {
	var exists bool
	if err := c.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM information_schema.tables WHERE table_name = $1)", c.table,
	).Scan(&exists); err != nil {
		return 0, fmt.Errorf("failed to check table: %w", err)
	}
	if !exists {
		return 0, nil
	}
	var n int
	if err := c.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", c.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// Health checks connectivity and the vector extension.
func (c *Client) Health(ctx context.Context) error {
	if err := c.pool.Ping(ctx); err != nil {
		return fmt.Errorf("database connectivity check failed: %w", err)
	}
	return c.checkExtension(ctx)
}

// Close releases the connection pool.
func (c *Client) Close() error {
	if c.pool != nil {
		c.pool.Close()
		c.pool = nil
	}
	return nil
}

func (c *Client) ensureTable(ctx context.Context, dimension int) error {
	c.schemaMu.Lock()
	defer c.schemaMu.Unlock()
	if c.schemaEnsured {
		return nil
	}

	var exists bool
	err := c.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM information_schema.tables WHERE table_name = $1)", c.table,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check if table exists: %w", err)
	}
	if exists {
		c.schemaEnsured = true
		return nil
	}

	if c.dimension <= 0 {
		c.dimension = dimension
	}
	if c.dimension <= 0 {
		return fmt.Errorf("vector dimension must be known to create table %s", c.table)
	}

	_, err = c.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			ordinal INTEGER NOT NULL,
			section TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`, c.table, c.dimension))
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", c.table, err)
	}

	if c.createIndex {
		_, err = c.pool.Exec(ctx, fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)",
			c.table, c.table))
		if err != nil {
			return fmt.Errorf("failed to create vector index: %w", err)
		}
	}

	c.schemaEnsured = true
	return nil
}
