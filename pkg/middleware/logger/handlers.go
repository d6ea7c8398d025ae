package logger

import (
	"bufio"
	"fmt"
	"io"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/calque-ai/guidebot/pkg/calque"
)

// Head logs a preview of the first n bytes and passes the input through.
// It peeks, so the stream is never buffered beyond n.
//
//	flow.Use(log.Debug().Head("PROMPT", 200))
func (hb *HandlerBuilder) Head(prefix string, n int, attrs ...Attribute) calque.Handler {
	return calque.HandlerFunc(func(req *calque.Request, res *calque.Response) error {
		if !hb.enabled(req.Context) {
			_, err := io.Copy(res.Data, req.Data)
			return err
		}

		br := bufio.NewReaderSize(req.Data, max(n, 16))
		head, err := br.Peek(n)
		if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
			return err
		}

		hb.log(req.Context, fmt.Sprintf("[%s]", prefix), with(attrs, Attr("preview", formatPreview(head)))...)
		_, err = io.Copy(res.Data, br)
		return err
	})
}

// Timing wraps handler and logs its duration and the bytes it consumed.
//
//	flow.Use(log.Info().Timing("SYNTHESIS", ai.Agent(client)))
func (hb *HandlerBuilder) Timing(prefix string, handler calque.Handler, attrs ...Attribute) calque.Handler {
	return calque.HandlerFunc(func(req *calque.Request, res *calque.Response) error {
		start := time.Now()
		counter := &countingReader{r: req.Data}

		err := handler.ServeFlow(&calque.Request{Context: req.Context, Data: counter}, res)

		elapsed := time.Since(start)
		field, value := formatDuration(elapsed)
		extra := []Attribute{Attr(field, value), Attr("bytes", counter.n)}
		if counter.n > 0 && elapsed > 0 {
			extra = append(extra, Attr("bytes_per_sec", float64(counter.n)/elapsed.Seconds()))
		}
		msg := fmt.Sprintf("[%s] completed", prefix)
		if err != nil {
			msg = fmt.Sprintf("[%s] failed", prefix)
			extra = append(extra, Attr("error", err.Error()))
		}
		hb.log(req.Context, msg, with(attrs, extra...)...)
		return err
	})
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func with(base []Attribute, extra ...Attribute) []Attribute {
	out := make([]Attribute, 0, len(base)+len(extra))
	out = append(out, base...)
	return append(out, extra...)
}

// formatDuration picks a unit that keeps precision.
func formatDuration(d time.Duration) (string, float64) {
	switch {
	case d < 10*time.Millisecond:
		return "duration_µs", float64(d.Microseconds())
	case d >= time.Second:
		return "duration_s", d.Seconds()
	default:
		return "duration_ms", float64(d.Milliseconds())
	}
}

// formatPreview renders text as-is and binary as a short hex summary. A
// preview cut in the middle of a rune keeps the complete prefix.
func formatPreview(data []byte) string {
	if len(data) == 0 {
		return "<empty>"
	}
	text := trimPartialRune(data)
	if len(text) > 0 && isPrintable(text) {
		return string(text)
	}
	if len(data) > 20 {
		return fmt.Sprintf("binary data (%d bytes): %x...", len(data), data[:20])
	}
	return fmt.Sprintf("binary data: %x", data)
}

func trimPartialRune(data []byte) []byte {
	for i := 0; i < utf8.UTFMax && len(data) > 0; i++ {
		if utf8.Valid(data) {
			return data
		}
		data = data[:len(data)-1]
	}
	return data
}

func isPrintable(data []byte) bool {
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError {
			return false
		}
		if !unicode.IsPrint(r) && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
		data = data[size:]
	}
	return true
}
