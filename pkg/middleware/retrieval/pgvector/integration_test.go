//go:build integration

package pgvector

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/calque-ai/guidebot/pkg/guideline"
	"github.com/calque-ai/guidebot/pkg/middleware/retrieval"
)

func setupPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "pgvector/pgvector:pg16",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_DB":       "testdb",
				"POSTGRES_USER":     "testuser",
				"POSTGRES_PASSWORD": "testpass",
			},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("5432/tcp"),
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			).WithDeadline(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("failed to get port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close(ctx)
	if _, err := conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		t.Fatalf("failed to create extension: %v", err)
	}
	return dsn
}

func TestIntegrationStoreSearch(t *testing.T) {
	dsn := setupPostgres(t)
	ctx := context.Background()

	client, err := New(ctx, &Config{ConnectionString: dsn})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer client.Close()

	if n, err := client.Count(ctx); err != nil || n != 0 {
		t.Fatalf("Count() before store = %d, %v", n, err)
	}

	records := []guideline.Record{
		{Section: "제1조", Title: "목적", Content: "이 규정은 목적을 정한다."},
		{Section: "제2조", Title: "연차", Content: "연차 유급휴가."},
		{Section: "제3조", Title: "연차 이월", Content: "연차 이월 규정."},
	}
	vectors := []retrieval.EmbeddingVector{{1, 0, 0}, {0, 1, 0}, {0, 1, 0}}
	docs := make([]retrieval.Document, len(records))
	for i, rec := range records {
		docs[i] = retrieval.NewDocument(i, rec, vectors[i])
	}

	if err := client.Store(ctx, docs); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if n, _ := client.Count(ctx); n != 3 {
		t.Errorf("Count() = %d, want 3", n)
	}

	res, err := client.Search(ctx, retrieval.SearchQuery{Vector: retrieval.EmbeddingVector{0, 1, 0}, Limit: 2})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(res.Documents) != 2 {
		t.Fatalf("Search() returned %d documents, want 2", len(res.Documents))
	}
	// equal scores come back in corpus order
	for i, wantID := range []string{"record-1", "record-2"} {
		if res.Documents[i].ID != wantID {
			t.Errorf("Documents[%d].ID = %s, want %s", i, res.Documents[i].ID, wantID)
		}
	}
	if title := res.Documents[0].Metadata[retrieval.MetaTitle]; title != "연차" {
		t.Errorf("title metadata = %v", title)
	}

	// re-storing the same IDs replaces rather than duplicates
	if err := client.Store(ctx, docs); err != nil {
		t.Fatalf("second Store() error = %v", err)
	}
	if n, _ := client.Count(ctx); n != 3 {
		t.Errorf("Count() after re-store = %d, want 3", n)
	}

	if err := client.Delete(ctx, []string{"record-0"}); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if n, _ := client.Count(ctx); n != 2 {
		t.Errorf("Count() after delete = %d, want 2", n)
	}

	// a rebuild over a shorter corpus drops the tail
	if err := client.Replace(ctx, docs[:1]); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if n, _ := client.Count(ctx); n != 1 {
		t.Errorf("Count() after Replace = %d, want 1", n)
	}
	res, err = client.Search(ctx, retrieval.SearchQuery{Vector: retrieval.EmbeddingVector{0, 1, 0}, Limit: 3})
	if err != nil || len(res.Documents) != 1 || res.Documents[0].ID != "record-0" {
		t.Errorf("Search() after Replace = %+v, %v", res, err)
	}

	if err := client.Health(ctx); err != nil {
		t.Errorf("Health() error = %v", err)
	}
}
