// Package proxy serves an OpenAI-compatible chat completions endpoint backed
// by the cached completion client.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cortexshell/cortex/pkg/config"
	"github.com/cortexshell/cortex/pkg/models"
	"github.com/cortexshell/cortex/pkg/stream"
)

// CacheHeader lets a client opt out of caching for one request with the
// values "bypass" or "off".
const CacheHeader = "X-Cortex-Cache"

// Server is the cortex completion proxy.
type Server struct {
	cfg    *config.Config
	client *stream.Client
	logger *slog.Logger
	mux    *http.ServeMux
}

// New creates a proxy Server serving completions through client.
func New(cfg *config.Config, client *stream.Client, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		client: client,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	s.mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the proxy server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Listen,
		Handler: s,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("cortex proxy listening", "addr", s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req models.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		writeJSONError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}
	if req.Model == "" {
		req.Model = s.cfg.Defaults.Model
	}

	caching := s.cachingFor(r)
	id := "chatcmpl-" + uuid.NewString()
	if caching {
		w.Header().Set(CacheHeader, "enabled")
	} else {
		w.Header().Set(CacheHeader, "bypass")
	}

	seq := s.client.Complete(r.Context(), req, caching)

	if req.Stream {
		s.streamChunks(w, r, id, req.Model, seq)
		return
	}

	text, err := stream.Collect(seq)
	if err != nil {
		s.logger.Error("completion failed", "model", req.Model, "error", err)
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	err = json.NewEncoder(w).Encode(models.ChatCompletionResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []models.Choice{{
			Index:        0,
			Message:      models.ChatMessage{Role: models.RoleAssistant, Content: text},
			FinishReason: "stop",
		}},
	})
	if err != nil {
		s.logger.Error("write response", "model", req.Model, "error", err)
	}
}

// streamChunks relays seq to w as OpenAI chat.completion.chunk SSE events.
func (s *Server) streamChunks(w http.ResponseWriter, r *http.Request, id, model string, seq iter.Seq2[string, error]) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "response writer does not support flushing")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	created := time.Now().Unix()
	for chunk, err := range seq {
		if err != nil {
			s.logger.Error("streaming error", "model", model, "error", err)
			s.writeSSE(w, map[string]any{
				"error": map[string]any{"message": err.Error(), "type": "cortex_error"},
			})
			flusher.Flush()
			return
		}
		// A client that went away ends the relay; the partial response is not cached.
		if !s.writeSSE(w, models.ChatCompletionChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: []models.ChunkChoice{{Index: 0, Delta: models.ChatMessage{Role: models.RoleAssistant, Content: chunk}}},
		}) {
			return
		}
		flusher.Flush()
	}

	stop := "stop"
	if !s.writeSSE(w, models.ChatCompletionChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []models.ChunkChoice{{Index: 0, FinishReason: &stop}},
	}) {
		return
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (s *Server) cachingFor(r *http.Request) bool {
	switch strings.ToLower(r.Header.Get(CacheHeader)) {
	case "bypass", "off", "false":
		return false
	case "on", "true":
		return true
	}
	return s.cfg.Cache.Enabled
}

// writeSSE writes v as one data event and reports whether it succeeded.
func (s *Server) writeSSE(w http.ResponseWriter, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("encode event", "error", err)
		return false
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		s.logger.Error("write event", "error", err)
		return false
	}
	return true
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"cortex_error","code":%d}}`, message, code)
}
