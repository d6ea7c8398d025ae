package logger

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/calque-ai/guidebot/pkg/calque"
)

// recordingAdapter captures log calls.
type recordingAdapter struct {
	min     LogLevel
	entries []entry
}

type entry struct {
	level LogLevel
	msg   string
	attrs map[string]any
}

func (r *recordingAdapter) Log(_ context.Context, level LogLevel, msg string, attrs ...Attribute) {
	m := make(map[string]any, len(attrs))
	for _, a := range attrs {
		m[a.Key] = a.Value
	}
	r.entries = append(r.entries, entry{level, msg, m})
}

func (r *recordingAdapter) IsLevelEnabled(_ context.Context, level LogLevel) bool {
	return level >= r.min
}

func TestHead(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		n           int
		wantPreview string
	}{
		{"shorter than n", "연차", 100, "연차"},
		{"cut ascii", "annual leave policy", 6, "annual"},
		{"cut inside rune", "연차규정", 4, "연"},
		{"empty", "", 10, "<empty>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingAdapter{}
			h := New(rec).Info().Head("IN", tt.n, Attr("stage", "prompt"))

			var out string
			if err := calque.NewFlow().Use(h).Run(context.Background(), tt.input, &out); err != nil {
				t.Fatal(err)
			}
			if out != tt.input {
				t.Errorf("output = %q, want passthrough %q", out, tt.input)
			}
			if len(rec.entries) != 1 {
				t.Fatalf("entries = %d, want 1", len(rec.entries))
			}
			e := rec.entries[0]
			if e.msg != "[IN]" || e.attrs["preview"] != tt.wantPreview || e.attrs["stage"] != "prompt" {
				t.Errorf("entry = %+v", e)
			}
		})
	}
}

func TestHeadBelowLevel(t *testing.T) {
	rec := &recordingAdapter{min: WarnLevel}
	var out string
	err := calque.NewFlow().Use(New(rec).Debug().Head("IN", 4)).Run(context.Background(), "quiet", &out)
	if err != nil || out != "quiet" {
		t.Fatalf("Run() = %q, %v", out, err)
	}
	if len(rec.entries) != 0 {
		t.Errorf("debug logged below warn: %+v", rec.entries)
	}
}

func TestTiming(t *testing.T) {
	rec := &recordingAdapter{}
	slow := calque.HandlerFunc(func(req *calque.Request, res *calque.Response) error {
		time.Sleep(2 * time.Millisecond)
		_, err := io.Copy(res.Data, req.Data)
		return err
	})

	var out string
	err := calque.NewFlow().Use(New(rec).Info().Timing("SYNTH", slow)).Run(context.Background(), "12345", &out)
	if err != nil || out != "12345" {
		t.Fatalf("Run() = %q, %v", out, err)
	}
	e := rec.entries[0]
	if e.msg != "[SYNTH] completed" {
		t.Errorf("msg = %q", e.msg)
	}
	if e.attrs["bytes"] != int64(5) {
		t.Errorf("bytes = %v, want 5", e.attrs["bytes"])
	}
}

func TestTimingFailure(t *testing.T) {
	rec := &recordingAdapter{}
	boom := errors.New("model down")
	failing := calque.HandlerFunc(func(*calque.Request, *calque.Response) error { return boom })

	err := calque.NewFlow().Use(New(rec).Warn().Timing("SYNTH", failing)).Run(context.Background(), "q", new(string))
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want %v", err, boom)
	}
	e := rec.entries[0]
	if e.msg != "[SYNTH] failed" || e.attrs["error"] != "model down" {
		t.Errorf("entry = %+v", e)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d     time.Duration
		field string
	}{
		{500 * time.Microsecond, "duration_µs"},
		{50 * time.Millisecond, "duration_ms"},
		{2 * time.Second, "duration_s"},
	}
	for _, tt := range tests {
		if field, _ := formatDuration(tt.d); field != tt.field {
			t.Errorf("formatDuration(%v) field = %q, want %q", tt.d, field, tt.field)
		}
	}
}

func TestFormatPreviewBinary(t *testing.T) {
	got := formatPreview([]byte{0x00, 0x01, 0xff})
	if !strings.HasPrefix(got, "binary data") {
		t.Errorf("formatPreview(binary) = %q", got)
	}
}

func TestZerologAdapter(t *testing.T) {
	var buf bytes.Buffer
	zl := zerolog.New(&buf).Level(zerolog.InfoLevel)
	a := NewZerologAdapter(zl)

	if a.IsLevelEnabled(context.Background(), DebugLevel) {
		t.Error("debug should be disabled at info")
	}
	a.Log(context.Background(), WarnLevel, "fail open", Attr("question", "로고"))
	out := buf.String()
	for _, want := range []string{`"level":"warn"`, `"question":"로고"`, `"message":"fail open"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %s", out, want)
		}
	}
}

func TestZerologHandlerBridgesSlog(t *testing.T) {
	var buf bytes.Buffer
	zl := zerolog.New(&buf).Level(zerolog.DebugLevel)
	log := slog.New(NewZerologHandler(zl)).With("request_id", "r-1").WithGroup("index")

	log.Info("built", "records", 12, "took", time.Second, slog.Bool("cached", true))

	out := buf.String()
	for _, want := range []string{
		`"level":"info"`,
		`"request_id":"r-1"`,
		`"index.records":12`,
		`"index.cached":true`,
		`"message":"built"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %s", out, want)
		}
	}
}

func TestZerologHandlerLevels(t *testing.T) {
	var buf bytes.Buffer
	h := NewZerologHandler(zerolog.New(&buf).Level(zerolog.WarnLevel))
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info should be disabled at warn")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("error should be enabled at warn")
	}
}

func TestZerologHandlerWithCalqueContext(t *testing.T) {
	var buf bytes.Buffer
	ctx := calque.WithLogger(context.Background(), slog.New(NewZerologHandler(zerolog.New(&buf))))
	ctx = calque.WithTraceID(ctx, "t-7")

	calque.LogError(ctx, "generation failed", errors.New("timeout"))

	out := buf.String()
	if !strings.Contains(out, `"trace_id":"t-7"`) || !strings.Contains(out, `"error":"timeout"`) {
		t.Errorf("output %q missing context fields", out)
	}
}

func TestNewZerolog(t *testing.T) {
	var buf bytes.Buffer
	zl := NewZerolog(Options{Level: "warn", Output: &buf})
	zl.Info().Msg("hidden")
	zl.Warn().Msg("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("output = %q", buf.String())
	}

	buf.Reset()
	czl := NewZerolog(Options{Level: "bogus", Format: "console", Output: &buf})
	czl.Info().Msg("console")
	if !strings.Contains(buf.String(), "console") || strings.HasPrefix(buf.String(), "{") {
		t.Errorf("console output = %q", buf.String())
	}
}
