package calque

import (
	"context"
	"errors"
	"log/slog"
)

// Error wraps a cause with the request identifiers that were in scope when it
// was raised, plus any tags added on the way up. errors.Is and errors.As see
// through it to the cause; two *Error values match when their messages do.
//
//	return calque.WrapErr(ctx, err, "embedding query").
//	    Tag(slog.Int("query_len", len(query)))
//
// LogError emits the tags of any *Error in the chain.
type Error struct {
	msg   string
	cause error
	scope []slog.Attr
	tags  []slog.Attr
}

// WrapErr wraps err with msg and the identifiers stored in ctx.
func WrapErr(ctx context.Context, err error, msg string) *Error {
	return &Error{msg: msg, cause: err, scope: requestAttrs(ctx)}
}

// NewErr is WrapErr without a cause.
func NewErr(ctx context.Context, msg string) *Error {
	return WrapErr(ctx, nil, msg)
}

// Tag attaches attributes and returns e.
func (e *Error) Tag(attrs ...slog.Attr) *Error {
	e.tags = append(e.tags, attrs...)
	return e
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.msg
	}
	return e.msg + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.msg == e.msg
}

// Message is the error text without the cause.
func (e *Error) Message() string { return e.msg }

// Field returns the string form of a captured identifier or tag, or "".
func (e *Error) Field(key string) string {
	for _, attrs := range [][]slog.Attr{e.scope, e.tags} {
		for _, a := range attrs {
			if a.Key == key {
				return a.Value.String()
			}
		}
	}
	return ""
}

// LogAttrs is the cause followed by the captured identifiers and the tags.
func (e *Error) LogAttrs() []slog.Attr {
	var attrs []slog.Attr
	if e.cause != nil {
		attrs = append(attrs, slog.Any("error", e.cause))
	}
	attrs = append(attrs, e.scope...)
	return append(attrs, e.tags...)
}

// errorTags collects the tags of every *Error in err's chain.
func errorTags(err error) []slog.Attr {
	var tags []slog.Attr
	for err != nil {
		var ce *Error
		if !errors.As(err, &ce) {
			break
		}
		tags = append(tags, ce.tags...)
		err = ce.cause
	}
	return tags
}
