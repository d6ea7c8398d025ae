// Package guideline loads the handbook corpus the bot answers from.
//
// A corpus is a JSON array of regulation records, each belonging to one
// chapter ("section") and usually one article ("title"). Records keep the
// order they have in the source document; nothing merges or splits them
// after load.
package guideline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrCorpusUnreadable is returned when the corpus file is missing, empty, or
// not a JSON array of records. The bot must not start without a corpus.
var ErrCorpusUnreadable = errors.New("corpus unreadable")

// ErrTOCUnreadable is returned when the table-of-contents file cannot be
// read or is not valid JSON.
var ErrTOCUnreadable = errors.New("table of contents unreadable")

// Record is one retrievable unit of the handbook.
type Record struct {
	Section string `json:"section"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// EmbeddingText is the text embedded for this record: title, a line break,
// then content.
func (r Record) EmbeddingText() string {
	return r.Title + "\n" + r.Content
}

// rawRecord uses pointers so a missing key can be told apart from an empty one.
type rawRecord struct {
	Section *string `json:"section"`
	Title   *string `json:"title"`
	Content *string `json:"content"`
}

// Load reads the corpus at path. Either every record loads or none do.
// An empty array is a valid, empty corpus.
func Load(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorpusUnreadable, err)
	}
	records, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorpusUnreadable, path, err)
	}
	return records, nil
}

// Decode parses corpus bytes. Errors are not wrapped with ErrCorpusUnreadable.
func Decode(data []byte) ([]Record, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty file")
	}
	if data[0] != '[' {
		return nil, errors.New("expected a JSON array of records")
	}

	var raw []rawRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(raw))
	for i, r := range raw {
		if r.Section == nil {
			return nil, fmt.Errorf("record %d: missing section", i)
		}
		if r.Content == nil {
			return nil, fmt.Errorf("record %d: missing content", i)
		}
		rec := Record{Section: *r.Section, Content: normalizeNewlines(*r.Content)}
		if r.Title != nil {
			rec.Title = *r.Title
		}
		records = append(records, rec)
	}
	return records, nil
}

var newlineReplacer = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

func normalizeNewlines(s string) string {
	return newlineReplacer.Replace(s)
}
