package calque

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func newTestLogger(level slog.Level) (*bytes.Buffer, *slog.Logger) {
	var buf bytes.Buffer
	return &buf, slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: level}))
}

func TestLogHelpersAppendContextFields(t *testing.T) {
	buf, logger := newTestLogger(slog.LevelDebug)
	ctx := WithLogger(context.Background(), logger)
	ctx = WithTraceID(ctx, "trace-a")
	ctx = WithRequestID(ctx, "req-a")
	ctx = WithSessionID(ctx, "sess-a")

	tests := []struct {
		name string
		log  func()
		want []string
	}{
		{"info", func() { LogInfo(ctx, "index built", "records", 3) }, []string{"level=INFO", "records=3"}},
		{"debug", func() { LogDebug(ctx, "cache hit") }, []string{"level=DEBUG", "cache hit"}},
		{"warn", func() { LogWarn(ctx, "fail open") }, []string{"level=WARN"}},
		{"error", func() { LogError(ctx, "failed", errors.New("boom")) }, []string{"level=ERROR", "error=boom"}},
		{"attr", func() { LogAttr(ctx, slog.LevelInfo, "typed", slog.Bool("hit", true)) }, []string{"hit=true"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.log()
			out := buf.String()
			for _, want := range append(tt.want, "trace_id=trace-a", "request_id=req-a", "session_id=sess-a") {
				if !strings.Contains(out, want) {
					t.Errorf("output %q missing %q", out, want)
				}
			}
		})
	}
}

func TestLogLevelFiltered(t *testing.T) {
	buf, logger := newTestLogger(slog.LevelWarn)
	ctx := WithLogger(context.Background(), logger)

	LogInfo(ctx, "hidden")
	LogDebug(ctx, "hidden")
	if buf.Len() != 0 {
		t.Errorf("expected no output below warn, got %q", buf.String())
	}

	LogWarn(ctx, "shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("expected warn output, got %q", buf.String())
	}
}

func TestLoggerDefault(t *testing.T) {
	if Logger(context.Background()) != slog.Default() {
		t.Error("Logger() without context logger should be slog.Default()")
	}
	if TraceID(context.Background()) != "" {
		t.Error("TraceID() should be empty when unset")
	}
}

func TestLogWith(t *testing.T) {
	buf, logger := newTestLogger(slog.LevelInfo)
	ctx := WithRequestID(WithLogger(context.Background(), logger), "r-1")

	LogWith(ctx, "component", "retriever").Info("search")
	out := buf.String()
	if !strings.Contains(out, "component=retriever") || !strings.Contains(out, "request_id=r-1") {
		t.Errorf("LogWith output %q missing fields", out)
	}
}
