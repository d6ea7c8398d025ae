package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/calque-ai/guidebot/pkg/calque"
	"github.com/calque-ai/guidebot/pkg/helpers"
	"github.com/calque-ai/guidebot/pkg/middleware/ai"
)

func TestNew(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENAI_BASE_URL", "")

	tests := []struct {
		name    string
		model   string
		opts    []Option
		wantErr string
	}{
		{"missing model", "", nil, "model name is required"},
		{"missing key", "chatgpt-4o-latest", nil, "OPENAI_API_KEY"},
		{"explicit key", "chatgpt-4o-latest", []Option{WithConfig(&Config{APIKey: "sk-test"})}, ""},
		{"compatible server without key", "deepseek-r1:671b", []Option{WithConfig(&Config{BaseURL: "http://localhost:6203/v1/"})}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.model, tt.opts...)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("New() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if client.config.APIKey == "" {
				t.Error("APIKey should be set")
			}
		})
	}
}

func TestBuildChatParams(t *testing.T) {
	client, err := New("chatgpt-4o-latest", WithConfig(&Config{APIKey: "sk-test", Temperature: helpers.PtrOf(float32(0.7))}))
	if err != nil {
		t.Fatal(err)
	}

	params := client.buildChatParams("연차는 며칠인가요?", nil)
	if len(params.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(params.Messages))
	}
	if got := params.Temperature.Value; got < 0.69 || got > 0.71 {
		t.Errorf("temperature = %v, want 0.7", got)
	}

	params = client.buildChatParams("q", ai.NewAgentOptions(ai.WithSystem("규정 도우미"), ai.WithTemperature(0)))
	if len(params.Messages) != 2 {
		t.Fatalf("messages with system = %d, want 2", len(params.Messages))
	}
	if params.Messages[0].OfSystem == nil {
		t.Error("first message should be the system message")
	}
	if params.Temperature.Value != 0 || !params.Temperature.Valid() {
		t.Errorf("temperature override = %+v, want 0", params.Temperature)
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			var req map[string]any
			_ = json.Unmarshal(body, &req)
			if req["model"] != "deepseek-r1:671b" {
				http.Error(w, "unexpected model", http.StatusBadRequest)
				return
			}
			_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"deepseek-r1:671b",
				"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"연차는 15일입니다. 출처: 제12조(취업규칙)"}}]}`)
		case strings.HasSuffix(r.URL.Path, "/embeddings"):
			_, _ = io.WriteString(w, `{"object":"list","model":"text-embedding-3-small",
				"data":[{"object":"embedding","index":0,"embedding":[0.25,0.5,1]}],
				"usage":{"prompt_tokens":1,"total_tokens":1}}`)
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestChatNonStreaming(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	client, err := New("deepseek-r1:671b", WithConfig(&Config{
		BaseURL:    srv.URL + "/v1/",
		Stream:     helpers.PtrOf(false),
		MaxRetries: helpers.PtrOf(0),
	}))
	if err != nil {
		t.Fatal(err)
	}

	var out string
	if err := calque.NewFlow().Use(ai.Agent(client)).Run(context.Background(), "연차?", &out); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(out, "제12조") {
		t.Errorf("answer = %q", out)
	}
}

func TestEmbed(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	client, err := New("deepseek-r1:671b", WithConfig(&Config{BaseURL: srv.URL + "/v1/", MaxRetries: helpers.PtrOf(0)}))
	if err != nil {
		t.Fatal(err)
	}

	vec, err := client.Embed(context.Background(), "제12조(연차)\n연차 유급휴가")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vec) != 3 || vec[2] != 1 {
		t.Errorf("Embed() = %v", vec)
	}
}

func TestChatServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := New("m", WithConfig(&Config{BaseURL: srv.URL + "/v1/", Stream: helpers.PtrOf(false), MaxRetries: helpers.PtrOf(0)}))
	if err != nil {
		t.Fatal(err)
	}
	if err := calque.NewFlow().Use(ai.Agent(client)).Run(context.Background(), "q", new(string)); err == nil {
		t.Error("expected error from failing server")
	}
}
