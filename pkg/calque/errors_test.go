package calque

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestWrapErr(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithSessionID(ctx, "session-1")
	cause := errors.New("connection refused")

	err := WrapErr(ctx, cause, "embedding query")

	if err.Message() != "embedding query" {
		t.Errorf("Message() = %q, want %q", err.Message(), "embedding query")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false")
	}
	for key, want := range map[string]string{"trace_id": "trace-1", "request_id": "req-1", "session_id": "session-1"} {
		if got := err.Field(key); got != want {
			t.Errorf("Field(%q) = %q, want %q", key, got, want)
		}
	}
	if got := err.Error(); got != "embedding query: connection refused" {
		t.Errorf("Error() = %q", got)
	}
}

func TestNewErr(t *testing.T) {
	err := NewErr(context.Background(), "empty corpus")
	if err.Unwrap() != nil {
		t.Error("Unwrap() should be nil without cause")
	}
	if err.Error() != "empty corpus" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestErrorIsByMessage(t *testing.T) {
	a := NewErr(context.Background(), "generation failed")
	b := WrapErr(context.Background(), errors.New("x"), "generation failed")
	c := NewErr(context.Background(), "other")

	if !errors.Is(b, a) {
		t.Error("errors with equal messages should match")
	}
	if errors.Is(c, a) {
		t.Error("errors with different messages should not match")
	}
}

func TestErrorLogAttrs(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-9")
	err := WrapErr(ctx, errors.New("boom"), "failed").
		Tag(slog.String("backend", "ollama")).
		Tag(slog.Int("attempt", 2))

	keys := map[string]bool{}
	for _, a := range err.LogAttrs() {
		keys[a.Key] = true
	}
	for _, want := range []string{"error", "request_id", "backend", "attempt"} {
		if !keys[want] {
			t.Errorf("LogAttrs() missing %q", want)
		}
	}
	if keys["trace_id"] {
		t.Error("LogAttrs() should omit empty trace_id")
	}
}

func TestLogErrorIncludesTags(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), slog.New(slog.NewTextHandler(&buf, nil)))
	ctx = WithTraceID(ctx, "t-42")

	inner := WrapErr(ctx, errors.New("timeout"), "embedding").Tag(slog.Int("record", 7))
	outer := WrapErr(ctx, inner, "building index").Tag(slog.String("store", "qdrant"))
	LogError(ctx, "startup failed", outer)

	out := buf.String()
	for _, want := range []string{"startup failed", "trace_id=t-42", "timeout", "record=7", "store=qdrant"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %q missing %q", out, want)
		}
	}
	if outer.Field("store") != "qdrant" || outer.Field("record") != "" {
		t.Errorf("Field() should only see its own tags")
	}
}
