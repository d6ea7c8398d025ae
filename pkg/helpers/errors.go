package helpers

import "fmt"

// WrapError prefixes err with message. A nil err stays nil, so a deferred
// Close can be wrapped in one line:
//
//	return helpers.WrapError(store.Close(), "closing session store")
func WrapError(err error, message string) error {
	return WrapErrorf(err, "%s", message)
}

// WrapErrorf is WrapError with a formatted prefix.
func WrapErrorf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
