package calque

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	traceIDKey
	requestIDKey
	sessionIDKey
)

// requestFields are the identifiers copied onto every log line and Error,
// in output order.
var requestFields = [...]struct {
	key  ctxKey
	name string
}{
	{traceIDKey, "trace_id"},
	{requestIDKey, "request_id"},
	{sessionIDKey, "session_id"},
}

// WithLogger makes logger the target of the Log* helpers for ctx.
//
//	ctx = calque.WithLogger(ctx, slog.New(logger.NewZerologHandler(zl)))
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// Logger returns the logger set by WithLogger, or slog.Default().
func Logger(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}

// WithTraceID records the OpenTelemetry trace of the current question.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

func TraceID(ctx context.Context) string { return stringValue(ctx, traceIDKey) }

// WithRequestID records the HTTP request id assigned by the server.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func RequestID(ctx context.Context) string { return stringValue(ctx, requestIDKey) }

// WithSessionID ties work done deep inside retrieval or synthesis back to
// the conversation it belongs to.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

func SessionID(ctx context.Context) string { return stringValue(ctx, sessionIDKey) }

func stringValue(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(key).(string)
	return s
}

// requestAttrs returns the identifiers set on ctx, skipping empty ones.
func requestAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	for _, f := range requestFields {
		if v := stringValue(ctx, f.key); v != "" {
			attrs = append(attrs, slog.String(f.name, v))
		}
	}
	return attrs
}
