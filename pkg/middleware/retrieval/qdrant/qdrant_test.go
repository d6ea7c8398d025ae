package qdrant

import (
	"testing"

	qd "github.com/qdrant/go-client/qdrant"

	"github.com/calque-ai/guidebot/pkg/guideline"
	"github.com/calque-ai/guidebot/pkg/middleware/retrieval"
)

func TestParseAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		url      string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{"host and port", "http://localhost:6334", "localhost", 6334, false},
		{"default port", "http://qdrant.internal", "qdrant.internal", DefaultGRPCPort, false},
		{"https", "https://cluster.example.com:443", "cluster.example.com", 443, false},
		{"empty", "", "", 0, true},
		{"missing host", "localhost", "", 0, true},
		{"bad port", "http://localhost:abc", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			host, port, err := parseAddress(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseAddress(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if host != tt.wantHost || port != tt.wantPort {
				t.Errorf("parseAddress(%q) = %s:%d, want %s:%d", tt.url, host, port, tt.wantHost, tt.wantPort)
			}
		})
	}
}

func TestUseTLS(t *testing.T) {
	if !useTLS("https://cloud.qdrant.io:6334") {
		t.Error("https URL should use TLS")
	}
	if useTLS("http://localhost:6334") {
		t.Error("http URL should not use TLS")
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	t.Parallel()

	rec := guideline.Record{Section: "제12조", Title: "연차 유급휴가", Content: "1년간 80퍼센트 이상 출근한 근로자에게 15일의 유급휴가를 준다."}
	doc := retrieval.NewDocument(0, rec, retrieval.EmbeddingVector{0.1, 0.2})

	payload := buildPayload(doc, 0)
	if got := payload[retrieval.MetaOrdinal].GetIntegerValue(); got != 0 {
		t.Errorf("ordinal payload = %d, want 0", got)
	}

	point := &qd.ScoredPoint{Id: qd.NewIDNum(0), Payload: payload, Score: 0.75}
	got := convertPoint(point)

	if got.ID != "record-0" {
		t.Errorf("ID = %q, want record-0", got.ID)
	}
	if got.Score != 0.75 {
		t.Errorf("Score = %v, want 0.75", got.Score)
	}
	if got.Content != rec.EmbeddingText() {
		t.Errorf("Content = %q, want %q", got.Content, rec.EmbeddingText())
	}
	ord, err := got.Ordinal()
	if err != nil || ord != 0 {
		t.Errorf("Ordinal() = %d, %v", ord, err)
	}
	for key, want := range map[string]string{
		retrieval.MetaSection: rec.Section,
		retrieval.MetaTitle:   rec.Title,
		retrieval.MetaContent: rec.Content,
	} {
		if got.Metadata[key] != want {
			t.Errorf("Metadata[%s] = %v, want %q", key, got.Metadata[key], want)
		}
	}
}

func TestConvertPointFallsBackToID(t *testing.T) {
	point := &qd.ScoredPoint{Id: qd.NewIDNum(7), Payload: map[string]*qd.Value{}}
	if got := convertPoint(point); got.ID != "record-7" {
		t.Errorf("ID = %q, want record-7", got.ID)
	}
}

func TestOrdinalFromID(t *testing.T) {
	tests := []struct {
		id      string
		want    int
		wantErr bool
	}{
		{"record-0", 0, false},
		{"record-42", 42, false},
		{"record-", 0, true},
		{"record-007", 0, true},
		{"doc-1", 0, true},
		{"record--1", 0, true},
	}
	for _, tt := range tests {
		got, err := ordinalFromID(tt.id)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ordinalFromID(%q) = %d, %v; want %d, wantErr %v", tt.id, got, err, tt.want, tt.wantErr)
		}
	}
}
