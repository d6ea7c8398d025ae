package guideline

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

var (
	chapterPattern = regexp.MustCompile(`제\d+장`)
	articlePattern = regexp.MustCompile(`제\d+조\(`)
)

// Parse splits raw handbook text into records.
//
// Chapters start at "제N장". Inside a chapter each article starts at
// "제N조("; its title runs up to and including the first ")" that is
// followed by a space, and the rest is content. Text before a chapter's
// first article is the chapter heading and is dropped. A chapter with no
// articles becomes a single record with an empty title.
//
// This is an offline step used to produce corpus files; the serving path
// only ever calls Load.
func Parse(text string) []Record {
	var records []Record

	chapters := chapterPattern.FindAllStringIndex(text, -1)
	for i, loc := range chapters {
		end := len(text)
		if i+1 < len(chapters) {
			end = chapters[i+1][0]
		}
		section := text[loc[0]:loc[1]]
		chapter := text[loc[0]:end]

		articles := articlePattern.FindAllStringIndex(chapter, -1)
		if len(articles) == 0 {
			records = append(records, Record{
				Section: section,
				Content: strings.ReplaceAll(strings.TrimSpace(chapter), "\n", ""),
			})
			continue
		}

		for j, a := range articles {
			blockEnd := len(chapter)
			if j+1 < len(articles) {
				blockEnd = articles[j+1][0]
			}
			title, content := splitArticle(strings.TrimSpace(chapter[a[0]:blockEnd]))
			records = append(records, Record{
				Section: section,
				Title:   title,
				Content: strings.ReplaceAll(content, "\n", " "),
			})
		}
	}
	return records
}

func splitArticle(block string) (title, content string) {
	idx := strings.Index(block, ") ")
	if idx < 0 {
		return block, ""
	}
	return strings.TrimSpace(block[:idx+1]), strings.TrimSpace(block[idx+2:])
}

// Encode renders records as a corpus file: two-space indent, UTF-8 kept
// unescaped so the file stays readable.
func Encode(records []Record) ([]byte, error) {
	if records == nil {
		records = []Record{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
