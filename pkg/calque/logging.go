package calque

import (
	"context"
	"log/slog"
)

// LogInfo logs msg at info level through the context logger. The request's
// trace_id, request_id and session_id are appended when set.
//
//	calque.LogInfo(ctx, "index built", "records", len(records))
func LogInfo(ctx context.Context, msg string, args ...any) {
	logAt(ctx, slog.LevelInfo, msg, args)
}

// LogDebug logs msg at debug level.
func LogDebug(ctx context.Context, msg string, args ...any) {
	logAt(ctx, slog.LevelDebug, msg, args)
}

// LogWarn logs msg at warn level.
func LogWarn(ctx context.Context, msg string, args ...any) {
	logAt(ctx, slog.LevelWarn, msg, args)
}

// LogError logs msg at error level, adding err under "error" when non-nil
// along with the tags of any *Error it wraps.
//
//	calque.LogError(ctx, "answer failed", err, "query", q)
func LogError(ctx context.Context, msg string, err error, args ...any) {
	if err != nil {
		args = append(args, "error", err)
		for _, a := range errorTags(err) {
			args = append(args, a)
		}
	}
	logAt(ctx, slog.LevelError, msg, args)
}

// LogAttr is the typed variant of the helpers above.
//
//	calque.LogAttr(ctx, slog.LevelWarn, "attempt failed", slog.Int("attempt", n))
func LogAttr(ctx context.Context, level slog.Level, msg string, attrs ...slog.Attr) {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger := Logger(ctx); logger.Enabled(ctx, level) {
		logger.LogAttrs(ctx, level, msg, append(attrs, requestAttrs(ctx)...)...)
	}
}

// LogWith returns the context logger with args and the request fields bound,
// for components that log several lines about one unit of work.
func LogWith(ctx context.Context, args ...any) *slog.Logger {
	for _, a := range requestAttrs(ctx) {
		args = append(args, a)
	}
	return Logger(ctx).With(args...)
}

func logAt(ctx context.Context, level slog.Level, msg string, args []any) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := Logger(ctx)
	if !logger.Enabled(ctx, level) {
		return
	}
	for _, a := range requestAttrs(ctx) {
		args = append(args, a)
	}
	logger.Log(ctx, level, msg, args...)
}
