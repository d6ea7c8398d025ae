package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/calque-ai/guidebot/pkg/calque"
	"github.com/calque-ai/guidebot/pkg/middleware/retrieval"
)

// MockCall records one Chat invocation.
type MockCall struct {
	Prompt  string
	Options AgentOptions
}

// MockClient implements Client for tests. Safe for concurrent use.
type MockClient struct {
	mu          sync.Mutex
	response    string
	responses   []string
	responder   func(prompt string) (string, error)
	err         error
	streamDelay time.Duration
	calls       []MockCall
}

// NewMockClient returns a client that always answers response.
func NewMockClient(response string) *MockClient {
	return &MockClient{response: response}
}

// NewMockClientWithResponses answers with each response in turn, then errors.
func NewMockClientWithResponses(responses ...string) *MockClient {
	return &MockClient{responses: responses}
}

// NewMockClientWithError returns a client whose every call fails.
func NewMockClientWithError(message string) *MockClient {
	return &MockClient{err: errors.New(message)}
}

// NewMockClientFunc answers by calling fn with the prompt.
func NewMockClientFunc(fn func(prompt string) (string, error)) *MockClient {
	return &MockClient{responder: fn}
}

// WithStreamDelay sets the delay between streamed words.
func (m *MockClient) WithStreamDelay(delay time.Duration) *MockClient {
	m.streamDelay = delay
	return m
}

// Chat implements Client, streaming the answer word by word.
func (m *MockClient) Chat(req *calque.Request, res *calque.Response, opts *AgentOptions) error {
	var prompt string
	if err := calque.Read(req, &prompt); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	response, err := m.next(prompt, opts)
	if err != nil {
		return err
	}
	return m.stream(req.Context, response, res)
}

func (m *MockClient) next(prompt string, opts *AgentOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	call := MockCall{Prompt: prompt}
	if opts != nil {
		call.Options = *opts
	}
	m.calls = append(m.calls, call)

	switch {
	case m.err != nil:
		return "", fmt.Errorf("mock error: %w", m.err)
	case m.responder != nil:
		return m.responder(prompt)
	case m.responses != nil:
		i := len(m.calls) - 1
		if i >= len(m.responses) {
			return "", fmt.Errorf("mock error: no more responses available (called %d times)", len(m.calls))
		}
		return m.responses[i], nil
	case m.response != "":
		return m.response, nil
	default:
		return "Mock response to: " + strings.TrimSpace(prompt), nil
	}
}

func (m *MockClient) stream(ctx context.Context, response string, res *calque.Response) error {
	words := strings.SplitAfter(response, " ")
	for i, word := range words {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := res.Data.Write([]byte(word)); err != nil {
			return err
		}
		if i < len(words)-1 && m.streamDelay > 0 {
			select {
			case <-time.After(m.streamDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// Calls returns a copy of the recorded calls.
func (m *MockClient) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// Reset clears recorded calls and the response cursor.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// MockEmbedder maps text onto a fixed vocabulary, one dimension per term,
// so similarity follows shared terms deterministically.
type MockEmbedder struct {
	mu    sync.Mutex
	vocab []string
	err   error
	calls int
}

// NewMockEmbedder creates an embedder over vocab.
func NewMockEmbedder(vocab ...string) *MockEmbedder {
	return &MockEmbedder{vocab: vocab}
}

// WithError makes every Embed call fail.
func (e *MockEmbedder) WithError(err error) *MockEmbedder {
	e.err = err
	return e
}

// Embed implements retrieval.EmbeddingProvider.
func (e *MockEmbedder) Embed(_ context.Context, text string) (retrieval.EmbeddingVector, error) {
	e.mu.Lock()
	e.calls++
	err := e.err
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	v := make(retrieval.EmbeddingVector, len(e.vocab)+1)
	for i, term := range e.vocab {
		v[i] = float32(strings.Count(text, term))
	}
	v[len(e.vocab)] = 0.01 // keep every vector non-zero
	return v, nil
}

// Calls is the number of Embed invocations.
func (e *MockEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}
