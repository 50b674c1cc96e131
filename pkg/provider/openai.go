package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"math"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/cortexshell/cortex/pkg/config"
	"github.com/cortexshell/cortex/pkg/models"
)

const defaultAzureAPIVersion = "2023-09-01-preview"

// OpenAI produces completions from the OpenAI or Azure OpenAI chat API.
type OpenAI struct {
	client *openai.Client
}

// NewOpenAI creates an OpenAI producer. Azure is selected by cfg.Type.
func NewOpenAI(cfg config.ProviderConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: missing OpenAI API key", ErrAuthentication)
	}

	var cc openai.ClientConfig
	if cfg.Type == config.ProviderAzure {
		cc = openai.DefaultAzureConfig(cfg.APIKey, cfg.URL)
		cc.APIVersion = defaultAzureAPIVersion
		if cfg.APIVersion != "" {
			cc.APIVersion = cfg.APIVersion
		}
		if cfg.Deployment != "" {
			deployment := cfg.Deployment
			cc.AzureModelMapperFunc = func(string) string { return deployment }
		}
	} else {
		cc = openai.DefaultConfig(cfg.APIKey)
		if cfg.URL != "" {
			cc.BaseURL = cfg.URL
		}
	}
	if cfg.Timeout > 0 {
		cc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &OpenAI{client: openai.NewClientWithConfig(cc)}, nil
}

// Stream implements stream.Producer.
func (o *OpenAI) Stream(ctx context.Context, req models.ChatCompletionRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		body := chatRequest(req)

		if !req.Stream {
			resp, err := o.client.CreateChatCompletion(ctx, body)
			if err != nil {
				yield("", wrapOpenAIError(err))
				return
			}
			if len(resp.Choices) == 0 {
				yield("", fmt.Errorf("no choices in response"))
				return
			}
			yield(resp.Choices[0].Message.Content, nil)
			return
		}

		body.Stream = true
		s, err := o.client.CreateChatCompletionStream(ctx, body)
		if err != nil {
			yield("", wrapOpenAIError(err))
			return
		}
		defer s.Close()

		finished := false
		for {
			chunk, err := s.Recv()
			if errors.Is(err, io.EOF) {
				// A dropped connection also ends in io.EOF.
				if !finished {
					yield("", fmt.Errorf("openai completion: %w", io.ErrUnexpectedEOF))
				}
				return
			}
			if err != nil {
				yield("", wrapOpenAIError(err))
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			if chunk.Choices[0].FinishReason != "" {
				finished = true
			}
			if chunk.Choices[0].Delta.Content == "" {
				continue
			}
			if !yield(chunk.Choices[0].Delta.Content, nil) {
				return
			}
		}
	}
}

func chatRequest(req models.ChatCompletionRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	temperature := float32(req.Temperature)
	if temperature == 0 {
		// Temperature is omitempty; the smallest positive value keeps it on the wire.
		temperature = math.SmallestNonzeroFloat32
	}
	return openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: temperature,
		TopP:        float32(req.TopP),
	}
}

func wrapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusUnauthorized || apiErr.HTTPStatusCode == http.StatusForbidden {
			return fmt.Errorf("%w: %s", ErrAuthentication, apiErr.Message)
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == http.StatusUnauthorized || reqErr.HTTPStatusCode == http.StatusForbidden {
			return fmt.Errorf("%w: %v", ErrAuthentication, reqErr)
		}
	}
	return fmt.Errorf("openai completion: %w", err)
}
