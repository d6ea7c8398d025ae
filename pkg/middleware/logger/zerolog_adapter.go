package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ZerologAdapter adapts zerolog.Logger to Adapter.
type ZerologAdapter struct {
	logger zerolog.Logger
}

// NewZerologAdapter creates a new adapter for zerolog
func NewZerologAdapter(logger zerolog.Logger) *ZerologAdapter {
	return &ZerologAdapter{logger: logger}
}

// Log implements Adapter.
func (z *ZerologAdapter) Log(ctx context.Context, level LogLevel, msg string, attrs ...Attribute) {
	evt := z.logger.WithLevel(logLevelToZerolog(level)).Ctx(ctx)
	for _, attr := range attrs {
		evt = evt.Interface(attr.Key, attr.Value)
	}
	evt.Msg(msg)
}

// IsLevelEnabled implements Adapter.
func (z *ZerologAdapter) IsLevelEnabled(_ context.Context, level LogLevel) bool {
	return z.logger.GetLevel() <= logLevelToZerolog(level)
}

func logLevelToZerolog(level LogLevel) zerolog.Level {
	switch level {
	case DebugLevel:
		return zerolog.DebugLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Options configures NewZerolog.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // json or console
	Output io.Writer
}

// NewZerolog builds the process logger. Unknown levels fall back to info.
func NewZerolog(opts Options) zerolog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	if strings.EqualFold(opts.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
