package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/cortexshell/cortex/pkg/config"
	"github.com/cortexshell/cortex/pkg/models"
)

const (
	defaultAnthropicURL     = "https://api.anthropic.com"
	defaultAnthropicVersion = "2023-06-01"
	anthropicMaxTokens      = 4096
)

// Anthropic produces completions from the Anthropic messages API.
type Anthropic struct {
	apiKey  string
	version string
	baseURL string
	client  *http.Client
}

// NewAnthropic creates an Anthropic producer.
func NewAnthropic(cfg config.ProviderConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: missing Anthropic API key", ErrAuthentication)
	}
	a := &Anthropic{
		apiKey:  cfg.APIKey,
		version: cfg.APIVersion,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
	}
	if a.baseURL == "" {
		a.baseURL = defaultAnthropicURL
	}
	if a.version == "" {
		a.version = defaultAnthropicVersion
	}
	if cfg.Timeout == 0 {
		a.client.Timeout = 120 * time.Second
	}
	return a, nil
}

// Stream implements stream.Producer.
func (a *Anthropic) Stream(ctx context.Context, req models.ChatCompletionRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		resp, err := a.send(ctx, req)
		if err != nil {
			yield("", err)
			return
		}
		defer resp.Body.Close()

		if !req.Stream {
			text, err := decodeAnthropicMessage(resp.Body)
			if err != nil {
				yield("", err)
				return
			}
			yield(text, nil)
			return
		}

		for chunk, err := range readAnthropicSSE(resp.Body) {
			if !yield(chunk, err) || err != nil {
				return
			}
		}
	}
}

func (a *Anthropic) send(ctx context.Context, req models.ChatCompletionRequest) (*http.Response, error) {
	payload, err := json.Marshal(anthropicRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", a.version)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}

	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: %s", ErrAuthentication, string(body))
	}
	return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
}

// anthropicRequest hoists system turns into the dedicated system field.
func anthropicRequest(req models.ChatCompletionRequest) models.AnthropicRequest {
	temperature := req.Temperature
	out := models.AnthropicRequest{
		Model:       req.Model,
		MaxTokens:   anthropicMaxTokens,
		Stream:      req.Stream,
		Temperature: &temperature,
	}
	if req.TopP > 0 && req.TopP < 1 {
		p := req.TopP
		out.TopP = &p
	}

	var system []string
	for _, m := range req.Messages {
		if m.Role == models.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		out.Messages = append(out.Messages, m)
	}
	out.System = strings.Join(system, "\n\n")
	return out
}

func decodeAnthropicMessage(r io.Reader) (string, error) {
	var msg models.AnthropicResponse
	if err := json.NewDecoder(r).Decode(&msg); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	var b strings.Builder
	for _, c := range msg.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	return b.String(), nil
}

// readAnthropicSSE yields the text deltas of an Anthropic event stream.
func readAnthropicSSE(r io.Reader) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

			var evt models.AnthropicStreamEvent
			if err := json.Unmarshal([]byte(data), &evt); err != nil {
				yield("", fmt.Errorf("parsing stream event: %w", err))
				return
			}

			switch evt.Type {
			case "content_block_delta":
				if evt.Delta == nil || evt.Delta.Type != "text_delta" || evt.Delta.Text == "" {
					continue
				}
				if !yield(evt.Delta.Text, nil) {
					return
				}
			case "error":
				msg := "unknown stream error"
				if evt.Error != nil {
					msg = evt.Error.Type + ": " + evt.Error.Message
				}
				yield("", fmt.Errorf("anthropic stream: %s", msg))
				return
			case "message_stop":
				return
			}
		}

		if err := scanner.Err(); err != nil {
			yield("", fmt.Errorf("reading stream: %w", err))
			return
		}
		yield("", fmt.Errorf("reading stream: %w", io.ErrUnexpectedEOF))
	}
}
