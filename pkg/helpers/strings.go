package helpers

import "strings"

// PtrOf returns a pointer to v, for optional config fields.
//
//	cfg.Temperature = helpers.PtrOf(0.1)
func PtrOf[T any](v T) *T { return &v }

// IsEmpty reports whether s is empty or whitespace only.
func IsEmpty(s string) bool {
	return strings.TrimSpace(s) == ""
}

// DefaultString returns the first non-blank option, or "".
//
//	id := helpers.DefaultString(req.SessionID, "default")
func DefaultString(options ...string) string {
	for _, option := range options {
		if !IsEmpty(option) {
			return option
		}
	}
	return ""
}

// Truncate shortens s to at most n runes, appending "..." when cut.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
