package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/calque-ai/guidebot/pkg/calque"
	"github.com/calque-ai/guidebot/pkg/guidebot"
	"github.com/calque-ai/guidebot/pkg/helpers"
	"github.com/calque-ai/guidebot/pkg/middleware/memory"
	"github.com/calque-ai/guidebot/pkg/middleware/observability"
)

// ChatRequest is the body of a chat route.
type ChatRequest struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
}

// ChatResponse is a successful answer. History always includes the
// exchange just answered.
type ChatResponse struct {
	Response string             `json:"response"`
	History  []string           `json:"history"`
	Kind     memory.PayloadKind `json:"kind"`
	Path     string             `json:"path,omitempty"`
}

// ErrorResponse is returned for rejected or failed requests. History is set
// when the question reached the session.
type ErrorResponse struct {
	Error   string   `json:"error"`
	History []string `json:"history,omitempty"`
}

func (s *Server) chat(route string, asker Asker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		status, kind := s.serveChat(w, r, asker)

		labels := map[string]string{"endpoint": route, "kind": kind, "status": strconv.Itoa(status)}
		s.inst.Count(r.Context(), observability.MetricRequests, labels)
		s.inst.Observe(r.Context(), observability.MetricRequestDuration, time.Since(start), map[string]string{"endpoint": route})
	})
}

func (s *Server) serveChat(w http.ResponseWriter, r *http.Request, asker Asker) (int, string) {
	var req ChatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return http.StatusBadRequest, "rejected"
	}

	question := strings.TrimSpace(req.Query)
	if question == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "query is required"})
		return http.StatusBadRequest, "rejected"
	}
	sessionID := helpers.DefaultString(req.SessionID, DefaultSessionID)

	// the answer is stored in the session even if the client goes away
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.cfg.RequestTimeout)
	defer cancel()

	reply, history, err := asker.Ask(ctx, sessionID, question)
	if errors.Is(err, guidebot.ErrEmptyQuestion) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "query is required"})
		return http.StatusBadRequest, "rejected"
	}
	if err != nil {
		calque.LogError(ctx, "answering failed", err, "session_id", sessionID, "query", helpers.Truncate(question, 80))
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: guidebot.MessageRetry, History: history})
		return http.StatusServiceUnavailable, "error"
	}

	if history == nil {
		history = []string{}
	}
	writeJSON(w, http.StatusOK, ChatResponse{
		Response: reply.Text(),
		History:  history,
		Kind:     reply.Payload.Kind,
		Path:     reply.Payload.Path,
	})
	return http.StatusOK, string(reply.Payload.Kind)
}
