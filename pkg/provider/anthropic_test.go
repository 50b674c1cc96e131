package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexshell/cortex/pkg/config"
	"github.com/cortexshell/cortex/pkg/models"
	"github.com/cortexshell/cortex/pkg/stream"
)

func anthropicFor(t *testing.T, h http.HandlerFunc) *Anthropic {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	a, err := NewAnthropic(config.ProviderConfig{Type: config.ProviderAnthropic, URL: srv.URL, APIKey: "sk-ant"})
	require.NoError(t, err)
	return a
}

func sseEvent(w http.ResponseWriter, typ string, payload string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", typ, payload)
	w.(http.Flusher).Flush()
}

func conversation(streaming bool) models.ChatCompletionRequest {
	return models.ChatCompletionRequest{
		Model:       "claude-sonnet",
		Temperature: 0.2,
		TopP:        1,
		Stream:      streaming,
		Messages: []models.ChatMessage{
			{Role: models.RoleSystem, Content: "be brief"},
			{Role: models.RoleUser, Content: "hi"},
		},
	}
}

func drainChunks(t *testing.T, p stream.Producer, req models.ChatCompletionRequest) ([]string, error) {
	t.Helper()
	var chunks []string
	for c, err := range p.Stream(context.Background(), req) {
		if err != nil {
			return chunks, err
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

func TestAnthropicStream(t *testing.T) {
	a := anthropicFor(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant", r.Header.Get("x-api-key"))
		assert.Equal(t, defaultAnthropicVersion, r.Header.Get("anthropic-version"))

		var body models.AnthropicRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "be brief", body.System)
		assert.Equal(t, []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}}, body.Messages)
		assert.True(t, body.Stream)
		assert.NotNil(t, body.Temperature)
		assert.Nil(t, body.TopP)

		w.Header().Set("Content-Type", "text/event-stream")
		sseEvent(w, "message_start", `{"type":"message_start","message":{"model":"claude-sonnet"}}`)
		sseEvent(w, "content_block_start", `{"type":"content_block_start","index":0}`)
		sseEvent(w, "content_block_delta", `{"type":"content_block_delta","delta":{"type":"text_delta","text":"Hel"}}`)
		sseEvent(w, "ping", `{"type":"ping"}`)
		sseEvent(w, "content_block_delta", `{"type":"content_block_delta","delta":{"type":"text_delta","text":"lo"}}`)
		sseEvent(w, "message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn"}}`)
		sseEvent(w, "message_stop", `{"type":"message_stop"}`)
	})

	chunks, err := drainChunks(t, a, conversation(true))
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, chunks)
}

func TestAnthropicStreamErrorEvent(t *testing.T) {
	a := anthropicFor(t, func(w http.ResponseWriter, r *http.Request) {
		sseEvent(w, "content_block_delta", `{"type":"content_block_delta","delta":{"type":"text_delta","text":"par"}}`)
		sseEvent(w, "error", `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`)
	})

	chunks, err := drainChunks(t, a, conversation(true))
	assert.Equal(t, []string{"par"}, chunks)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overloaded_error")
}

func TestAnthropicStreamTruncated(t *testing.T) {
	a := anthropicFor(t, func(w http.ResponseWriter, r *http.Request) {
		sseEvent(w, "content_block_delta", `{"type":"content_block_delta","delta":{"type":"text_delta","text":"par"}}`)
	})

	chunks, err := drainChunks(t, a, conversation(true))
	assert.Equal(t, []string{"par"}, chunks)
	assert.Error(t, err, "a stream without message_stop is incomplete")
}

func TestAnthropicZeroTemperatureIsSent(t *testing.T) {
	a := anthropicFor(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body, "temperature")
		assert.Equal(t, 0.0, body["temperature"])

		json.NewEncoder(w).Encode(models.AnthropicResponse{
			ID:      "msg_1",
			Type:    "message",
			Content: []models.AnthropicContent{{Type: "text", Text: "ok"}},
		})
	})

	req := conversation(false)
	req.Temperature = 0
	chunks, err := drainChunks(t, a, req)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, chunks)
}

func TestAnthropicNonStreaming(t *testing.T) {
	a := anthropicFor(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.AnthropicResponse{
			ID:   "msg_1",
			Type: "message",
			Content: []models.AnthropicContent{
				{Type: "text", Text: "Hello"},
				{Type: "text", Text: " there"},
			},
		})
	})

	chunks, err := drainChunks(t, a, conversation(false))
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello there"}, chunks)
}

func TestAnthropicAuthError(t *testing.T) {
	a := anthropicFor(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"type":"error","error":{"type":"authentication_error"}}`))
	})

	_, err := drainChunks(t, a, conversation(true))
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestAnthropicServerError(t *testing.T) {
	a := anthropicFor(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("bad gateway"))
	})

	_, err := drainChunks(t, a, conversation(true))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "502"))
}

func TestNewAnthropicRequiresKey(t *testing.T) {
	_, err := NewAnthropic(config.ProviderConfig{Type: config.ProviderAnthropic})
	assert.ErrorIs(t, err, ErrAuthentication)
}
