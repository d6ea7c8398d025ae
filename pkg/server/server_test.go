package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/calque-ai/guidebot/pkg/calque"
	"github.com/calque-ai/guidebot/pkg/guidebot"
	"github.com/calque-ai/guidebot/pkg/guideline"
	"github.com/calque-ai/guidebot/pkg/middleware/ai"
	"github.com/calque-ai/guidebot/pkg/middleware/memory"
	"github.com/calque-ai/guidebot/pkg/middleware/observability"
	"github.com/calque-ai/guidebot/pkg/middleware/retrieval"
	retrievalmemory "github.com/calque-ai/guidebot/pkg/middleware/retrieval/memory"
)

func newBot(t *testing.T, client ai.Client) *guidebot.Bot {
	t.Helper()
	records := []guideline.Record{
		{Section: "제2장 휴가", Title: "제5조(연차)", Content: "연차 휴가는 15일을 부여한다."},
		{Section: "제3장 보수", Title: "제9조(수당)", Content: "근로 수당은 매월 지급한다."},
	}
	embedder := ai.NewMockEmbedder("연차", "수당")
	ix, err := retrieval.BuildIndex(context.Background(), records, embedder, retrievalmemory.New())
	if err != nil {
		t.Fatal(err)
	}
	sessions := memory.NewSessions(memory.NewInMemoryStore(memory.WithCleanupInterval(0)))
	t.Cleanup(func() { sessions.Close() })

	b, err := guidebot.New(guidebot.Config{
		Client:    client,
		Retriever: retrieval.NewRetriever(embedder, ix, 2),
		Sessions:  sessions,
	})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestChatRoute(t *testing.T) {
	metrics := observability.NewInMemoryMetricsProvider()
	srv := New(Config{},
		WithRoute("/chatbot/guideline", BotAsker(newBot(t, ai.NewMockClient("15일입니다. 출처: 제5조(연차)")))),
		WithInstrumentation(observability.Instrumentation{Metrics: metrics}),
	)
	h := srv.Handler()

	rec := post(t, h, "/chatbot/guideline", `{"session_id":"u1","query":"  연차는 며칠?  "}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	got := decode[ChatResponse](t, rec)
	if got.Response != "15일입니다. 출처: 제5조(연차)" || got.Kind != memory.PayloadText {
		t.Errorf("response = %+v", got)
	}
	want := []string{"User: 연차는 며칠?", "Chatbot: 15일입니다. 출처: 제5조(연차)"}
	if strings.Join(got.History, "|") != strings.Join(want, "|") {
		t.Errorf("history = %q, want %q", got.History, want)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("missing request id header")
	}

	rec = post(t, h, "/chatbot/guideline", `{"session_id":"u1","query":"수당은?"}`)
	if got := decode[ChatResponse](t, rec); len(got.History) != 4 {
		t.Errorf("second exchange history = %q", got.History)
	}

	labels := map[string]string{"endpoint": "/chatbot/guideline", "kind": "text", "status": "200"}
	if n := metrics.CounterValue(observability.MetricRequests, labels); n != 2 {
		t.Errorf("request counter = %d, want 2", n)
	}
}

func TestChatDefaultSession(t *testing.T) {
	var gotSession string
	asker := AskerFunc(func(_ context.Context, sessionID, question string) (guidebot.Reply, []string, error) {
		gotSession = sessionID
		return guidebot.Reply{Payload: memory.TextPayload("ok")}, []string{"User: " + question, "Chatbot: ok"}, nil
	})
	srv := New(Config{}, WithRoute("/chat", asker), WithRoute("/chat/ollama", asker))
	if got := srv.Routes(); !slices.Equal(got, []string{"/chat", "/chat/ollama"}) {
		t.Errorf("Routes() = %v", got)
	}
	h := srv.Handler()

	for _, body := range []string{`{"query":"hi"}`, `{"session_id":"  ","query":"hi"}`} {
		gotSession = ""
		if rec := post(t, h, "/chat/ollama", body); rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", body, rec.Code)
		}
		if gotSession != DefaultSessionID {
			t.Errorf("%s: session = %q, want %q", body, gotSession, DefaultSessionID)
		}
	}
}

func TestChatRejects(t *testing.T) {
	called := false
	asker := AskerFunc(func(context.Context, string, string) (guidebot.Reply, []string, error) {
		called = true
		return guidebot.Reply{}, nil, nil
	})
	h := New(Config{}, WithRoute("/chat", asker)).Handler()

	tests := []struct {
		name   string
		method string
		body   string
		status int
	}{
		{"empty query", http.MethodPost, `{"session_id":"s","query":""}`, http.StatusBadRequest},
		{"blank query", http.MethodPost, `{"session_id":"s","query":" \n "}`, http.StatusBadRequest},
		{"malformed json", http.MethodPost, `{"query":`, http.StatusBadRequest},
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/chat", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
	if called {
		t.Error("rejected requests must not reach the bot")
	}
}

func TestChatFailureReturnsRetryMessage(t *testing.T) {
	bot := newBot(t, ai.NewMockClientWithError("connection refused"))
	h := New(Config{}, WithRoute("/chatbot/guideline", BotAsker(bot))).Handler()

	rec := post(t, h, "/chatbot/guideline", `{"session_id":"s","query":"연차"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decode[ErrorResponse](t, rec)
	if got.Error != "일시적인 오류가 발생했습니다. 잠시 후 다시 시도해 주세요." {
		t.Errorf("error = %q", got.Error)
	}
	if len(got.History) != 1 || got.History[0] != "User: 연차" {
		t.Errorf("history = %q", got.History)
	}
	if strings.Contains(rec.Body.String(), "connection refused") {
		t.Error("internal error leaked to the client")
	}
}

func TestChatAssetResponse(t *testing.T) {
	asker := AskerFunc(func(_ context.Context, _, q string) (guidebot.Reply, []string, error) {
		p := memory.AssetPayload("data/logo.jpg")
		return guidebot.Reply{Payload: p, Intent: guidebot.Intent{Kind: guidebot.IntentLogo}},
			[]string{"User: " + q, "Chatbot: " + p.String()}, nil
	})
	h := New(Config{}, WithRoute("/chat", asker)).Handler()

	got := decode[ChatResponse](t, post(t, h, "/chat", `{"query":"로고"}`))
	if got.Kind != memory.PayloadAsset || got.Path != "data/logo.jpg" || got.Response != "회사 로고 파일 경로:data/logo.jpg" {
		t.Errorf("response = %+v", got)
	}
}

func TestChatOutlivesClient(t *testing.T) {
	started := make(chan struct{})
	finished := make(chan error, 1)
	asker := AskerFunc(func(ctx context.Context, _, _ string) (guidebot.Reply, []string, error) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished <- ctx.Err()
		return guidebot.Reply{Payload: memory.TextPayload("late")}, nil, nil
	})
	h := New(Config{}, WithRoute("/chat", asker)).Handler()

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"query":"q"}`)).WithContext(ctx)
	go func() {
		<-started
		cancel()
	}()
	h.ServeHTTP(httptest.NewRecorder(), req)

	if err := <-finished; err != nil {
		t.Errorf("pipeline context canceled with the client: %v", err)
	}
}

func TestRequestContext(t *testing.T) {
	var logs bytes.Buffer
	var seen string
	asker := AskerFunc(func(ctx context.Context, _, _ string) (guidebot.Reply, []string, error) {
		seen = calque.RequestID(ctx)
		return guidebot.Reply{Payload: memory.TextPayload("ok")}, nil, nil
	})
	h := New(Config{}, WithRoute("/chat", asker), WithLogger(zerolog.New(&logs), nil)).Handler()

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"query":"q"}`))
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "req-42" || rec.Header().Get(RequestIDHeader) != "req-42" {
		t.Errorf("request id = %q, header %q", seen, rec.Header().Get(RequestIDHeader))
	}
	for _, want := range []string{`"request_id":"req-42"`, `"status":200`, `"path":"/chat"`, `"message":"http request"`} {
		if !strings.Contains(logs.String(), want) {
			t.Errorf("access log %q missing %s", logs.String(), want)
		}
	}
}

func TestHealthz(t *testing.T) {
	tests := []struct {
		name   string
		checks []observability.HealthChecker
		status int
	}{
		{"no checks", nil, http.StatusOK},
		{"healthy", []observability.HealthChecker{
			observability.CheckFunc("index", func(context.Context) error { return nil }),
		}, http.StatusOK},
		{"unhealthy", []observability.HealthChecker{
			observability.CheckFunc("index", func(context.Context) error { return nil }),
			observability.CheckFunc("sessions", func(context.Context) error { return errors.New("redis down") }),
		}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(Config{}, WithHealthChecks(tt.checks...)).Handler()
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d, body %s", rec.Code, tt.status, rec.Body)
			}
			report := decode[observability.HealthReport](t, rec)
			if len(report.Checks) != len(tt.checks) {
				t.Errorf("checks = %+v", report.Checks)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	prom := observability.NewPrometheusProvider(observability.WithoutRuntimeCollectors())
	srv := New(Config{},
		WithRoute("/chat", AskerFunc(func(context.Context, string, string) (guidebot.Reply, []string, error) {
			return guidebot.Reply{Payload: memory.TextPayload("ok")}, nil, nil
		})),
		WithInstrumentation(observability.Instrumentation{Metrics: prom}),
		WithMetricsHandler(prom.Handler()),
	)
	h := srv.Handler()
	post(t, h, "/chat", `{"query":"q"}`)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `guidebot_requests_total{endpoint="/chat",kind="text",status="200"} 1`) {
		t.Errorf("metrics output missing request counter:\n%s", body)
	}
}

func TestServeShutsDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := New(Config{ShutdownTimeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}
