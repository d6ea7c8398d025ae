package logger

import (
	"context"
	"log/slog"
	"slices"

	"github.com/rs/zerolog"
)

// SlogAdapter adapts slog.Logger to Adapter.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new adapter for slog
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log implements Adapter.
func (s *SlogAdapter) Log(ctx context.Context, level LogLevel, msg string, attrs ...Attribute) {
	slogAttrs := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		slogAttrs[i] = slog.Any(attr.Key, attr.Value)
	}
	s.logger.LogAttrs(ctx, logLevelToSlog(level), msg, slogAttrs...)
}

// IsLevelEnabled implements Adapter.
func (s *SlogAdapter) IsLevelEnabled(ctx context.Context, level LogLevel) bool {
	return s.logger.Enabled(ctx, logLevelToSlog(level))
}

func logLevelToSlog(level LogLevel) slog.Level {
	switch level {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ZerologHandler is a slog.Handler writing to a zerolog.Logger, so the calque
// context helpers and zerolog share one sink.
type ZerologHandler struct {
	logger zerolog.Logger
	attrs  []boundAttr
	groups []string
}

// boundAttr remembers the groups open when the attr was added.
type boundAttr struct {
	groups []string
	attr   slog.Attr
}

// NewZerologHandler bridges slog records to zl.
func NewZerologHandler(zl zerolog.Logger) *ZerologHandler {
	return &ZerologHandler{logger: zl}
}

// Enabled implements slog.Handler.
func (h *ZerologHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.logger.GetLevel() <= slogToZerolog(level)
}

// Handle implements slog.Handler.
func (h *ZerologHandler) Handle(_ context.Context, r slog.Record) error {
	evt := h.logger.WithLevel(slogToZerolog(r.Level))
	if !r.Time.IsZero() {
		evt = evt.Time(zerolog.TimestampFieldName, r.Time)
	}
	for _, b := range h.attrs {
		evt = appendAttr(evt, b.groups, b.attr)
	}
	r.Attrs(func(a slog.Attr) bool {
		evt = appendAttr(evt, h.groups, a)
		return true
	})
	evt.Msg(r.Message)
	return nil
}

// WithAttrs implements slog.Handler.
func (h *ZerologHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = slices.Clip(h.attrs)
	for _, a := range attrs {
		clone.attrs = append(clone.attrs, boundAttr{groups: h.groups, attr: a})
	}
	return &clone
}

// WithGroup implements slog.Handler.
func (h *ZerologHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(slices.Clip(h.groups), name)
	return &clone
}

func appendAttr(evt *zerolog.Event, groups []string, a slog.Attr) *zerolog.Event {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return evt
	}
	key := a.Key
	for i := len(groups) - 1; i >= 0; i-- {
		key = groups[i] + "." + key
	}

	switch a.Value.Kind() {
	case slog.KindGroup:
		for _, ga := range a.Value.Group() {
			sub := groups
			if a.Key != "" {
				sub = append(slices.Clip(groups), a.Key)
			}
			evt = appendAttr(evt, sub, ga)
		}
		return evt
	case slog.KindString:
		return evt.Str(key, a.Value.String())
	case slog.KindInt64:
		return evt.Int64(key, a.Value.Int64())
	case slog.KindUint64:
		return evt.Uint64(key, a.Value.Uint64())
	case slog.KindFloat64:
		return evt.Float64(key, a.Value.Float64())
	case slog.KindBool:
		return evt.Bool(key, a.Value.Bool())
	case slog.KindDuration:
		return evt.Dur(key, a.Value.Duration())
	case slog.KindTime:
		return evt.Time(key, a.Value.Time())
	default:
		if err, ok := a.Value.Any().(error); ok {
			return evt.AnErr(key, err)
		}
		return evt.Interface(key, a.Value.Any())
	}
}

func slogToZerolog(level slog.Level) zerolog.Level {
	switch {
	case level >= slog.LevelError:
		return zerolog.ErrorLevel
	case level >= slog.LevelWarn:
		return zerolog.WarnLevel
	case level >= slog.LevelInfo:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}
