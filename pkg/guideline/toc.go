package guideline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// LoadTOC reads the table-of-contents document. Its schema is free-form;
// it only has to be valid JSON.
func LoadTOC(path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTOCUnreadable, err)
	}
	data = bytes.TrimSpace(data)
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: %s: invalid JSON", ErrTOCUnreadable, path)
	}
	return json.RawMessage(data), nil
}

// IndentTOC re-indents raw with two spaces. Key order is kept as written,
// which decoding into a map would lose.
func IndentTOC(raw json.RawMessage) (string, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return "", fmt.Errorf("%w: %w", ErrTOCUnreadable, err)
	}
	return buf.String(), nil
}
