// Package logger provides pass-through handlers that log what flows through
// a calque flow, plus the zerolog plumbing the bot logs through.
//
//	log := logger.New(logger.NewZerologAdapter(zl))
//	flow.Use(log.Debug().Head("PROMPT", 200)).
//		Use(log.Info().Timing("SYNTHESIS", ai.Agent(client)))
package logger

import (
	"context"
	"log/slog"
)

// LogLevel orders severities: Debug < Info < Warn < Error.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// Attribute is a structured key/value pair.
type Attribute struct {
	Key   string
	Value any
}

// Attr creates an Attribute
func Attr(key string, value any) Attribute {
	return Attribute{Key: key, Value: value}
}

// Adapter is a logging backend.
type Adapter interface {
	Log(ctx context.Context, level LogLevel, msg string, attrs ...Attribute)
	IsLevelEnabled(ctx context.Context, level LogLevel) bool
}

// Logger builds logging handlers for one backend.
type Logger struct {
	backend Adapter
}

// New creates a Logger over backend.
func New(backend Adapter) *Logger {
	return &Logger{backend: backend}
}

// Default logs through slog.Default.
func Default() *Logger {
	return New(NewSlogAdapter(slog.Default()))
}

func (l *Logger) at(level LogLevel) *HandlerBuilder {
	return &HandlerBuilder{backend: l.backend, level: level}
}

func (l *Logger) Debug() *HandlerBuilder { return l.at(DebugLevel) }
func (l *Logger) Info() *HandlerBuilder  { return l.at(InfoLevel) }
func (l *Logger) Warn() *HandlerBuilder  { return l.at(WarnLevel) }
func (l *Logger) Error() *HandlerBuilder { return l.at(ErrorLevel) }

// HandlerBuilder creates handlers logging at one level:
// log.Info().Head("prefix", 100).
type HandlerBuilder struct {
	backend Adapter
	level   LogLevel
	ctx     context.Context
}

// WithContext logs with ctx instead of the request context.
func (hb *HandlerBuilder) WithContext(ctx context.Context) *HandlerBuilder {
	return &HandlerBuilder{backend: hb.backend, level: hb.level, ctx: ctx}
}

func (hb *HandlerBuilder) enabled(ctx context.Context) bool {
	return hb.backend.IsLevelEnabled(hb.pick(ctx), hb.level)
}

func (hb *HandlerBuilder) log(ctx context.Context, msg string, attrs ...Attribute) {
	ctx = hb.pick(ctx)
	if hb.backend.IsLevelEnabled(ctx, hb.level) {
		hb.backend.Log(ctx, hb.level, msg, attrs...)
	}
}

// pick prefers the explicit context, then the request context.
func (hb *HandlerBuilder) pick(ctx context.Context) context.Context {
	switch {
	case hb.ctx != nil:
		return hb.ctx
	case ctx != nil:
		return ctx
	default:
		return context.Background()
	}
}
