package ollama

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/calque-ai/guidebot/pkg/calque"
	"github.com/calque-ai/guidebot/pkg/middleware/ai"
)

func TestNewRequiresModel(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("New(\"\") expected error")
	}
}

func TestBuildChatRequest(t *testing.T) {
	client, err := New("deepseek-r1:671b", WithConfig(&Config{
		Host:        "http://localhost:11434",
		Temperature: ai.Float32Ptr(0.1),
		Stop:        []string{"</answer>"},
		Options:     map[string]any{"num_ctx": 8192},
	}))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name         string
		opts         *ai.AgentOptions
		wantMessages int
		wantTemp     float32
	}{
		{"plain", nil, 1, 0.1},
		{"system prompt", ai.NewAgentOptions(ai.WithSystem("규정 도우미")), 2, 0.1},
		{"temperature override", ai.NewAgentOptions(ai.WithTemperature(0)), 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := client.buildChatRequest("연차?", tt.opts)
			if len(req.Messages) != tt.wantMessages {
				t.Fatalf("messages = %d, want %d", len(req.Messages), tt.wantMessages)
			}
			if last := req.Messages[len(req.Messages)-1]; last.Role != "user" || last.Content != "연차?" {
				t.Errorf("last message = %+v", last)
			}
			if got := req.Options["temperature"]; got != tt.wantTemp {
				t.Errorf("temperature = %v, want %v", got, tt.wantTemp)
			}
			if req.Options["num_ctx"] != 8192 {
				t.Errorf("extra options not passed through: %v", req.Options)
			}
			if req.KeepAlive == nil {
				t.Error("KeepAlive should default to 5m")
			}
		})
	}
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		_ = json.Unmarshal(body, &req)

		switch r.URL.Path {
		case "/api/chat":
			w.Header().Set("Content-Type", "application/x-ndjson")
			for _, part := range []string{"연차는 ", "15일입니다."} {
				_, _ = io.WriteString(w, `{"model":"m","message":{"role":"assistant","content":"`+part+`"},"done":false}`+"\n")
			}
			_, _ = io.WriteString(w, `{"model":"m","message":{"role":"assistant","content":""},"done":true}`+"\n")
		case "/api/embed":
			w.Header().Set("Content-Type", "application/json")
			if req["model"] != "bge-m3" {
				http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
				return
			}
			_, _ = io.WriteString(w, `{"model":"bge-m3","embeddings":[[0.5,0.25]]}`)
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestChatStreams(t *testing.T) {
	srv := newServer(t)
	defer srv.Close()

	client, err := New("deepseek-r1:671b", WithConfig(&Config{Host: srv.URL}))
	if err != nil {
		t.Fatal(err)
	}

	var out string
	if err := calque.NewFlow().Use(ai.Agent(client)).Run(context.Background(), "연차?", &out); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out != "연차는 15일입니다." {
		t.Errorf("answer = %q", out)
	}
}

func TestEmbed(t *testing.T) {
	srv := newServer(t)
	defer srv.Close()

	client, err := New("deepseek-r1:671b", WithConfig(&Config{Host: srv.URL, EmbeddingModel: "bge-m3"}))
	if err != nil {
		t.Fatal(err)
	}
	vec, err := client.Embed(context.Background(), "연차")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vec) != 2 || vec[0] != 0.5 {
		t.Errorf("Embed() = %v", vec)
	}

	// the chat model is not an embedding model on this server
	plain, _ := New("deepseek-r1:671b", WithConfig(&Config{Host: srv.URL}))
	if _, err := plain.Embed(context.Background(), "연차"); err == nil || !strings.Contains(err.Error(), "ollama") {
		t.Errorf("Embed() with unknown model error = %v", err)
	}
}
