package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexshell/cortex/pkg/models"
)

func baseRequest() models.ChatCompletionRequest {
	return models.ChatCompletionRequest{
		Model:       "m",
		Temperature: 0.1,
		TopP:        1.0,
		Messages: []models.ChatMessage{
			{Role: models.RoleSystem, Content: "you are a shell assistant"},
			{Role: models.RoleUser, Content: "hi"},
		},
	}
}

func TestOfIgnoresHistory(t *testing.T) {
	short := baseRequest()

	long := baseRequest()
	long.Messages = append(long.Messages,
		models.ChatMessage{Role: models.RoleAssistant, Content: "x"},
		models.ChatMessage{Role: models.RoleUser, Content: "hi"},
	)

	assert.Equal(t, Of(short), Of(long))
}

func TestOfIgnoresStreamFlag(t *testing.T) {
	a := baseRequest()
	b := baseRequest()
	b.Stream = true

	assert.Equal(t, Of(a), Of(b))
}

func TestOfSensitivity(t *testing.T) {
	base := Of(baseRequest())

	tests := []struct {
		name   string
		mutate func(*models.ChatCompletionRequest)
	}{
		{"last turn text", func(r *models.ChatCompletionRequest) { r.Messages[1].Content = "hello" }},
		{"last turn role", func(r *models.ChatCompletionRequest) { r.Messages[1].Role = models.RoleAssistant }},
		{"model", func(r *models.ChatCompletionRequest) { r.Model = "m2" }},
		{"temperature", func(r *models.ChatCompletionRequest) { r.Temperature = 0.2 }},
		{"top probability", func(r *models.ChatCompletionRequest) { r.TopP = 0.9 }},
	}

	seen := map[Digest]string{base: "base"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := baseRequest()
			tt.mutate(&req)
			d := Of(req)
			prev, dup := seen[d]
			assert.False(t, dup, "collides with %s", prev)
			seen[d] = tt.name
		})
	}
}

func TestOfManyPrompts(t *testing.T) {
	seen := make(map[Digest]bool)
	for i := range 500 {
		req := baseRequest()
		req.Messages[1].Content = "prompt " + string(rune('a'+i%26)) + string(rune('A'+i/26))
		d := Of(req)
		require.False(t, seen[d], "collision at %d", i)
		seen[d] = true
	}
}

func TestOfEmptyMessages(t *testing.T) {
	req := models.ChatCompletionRequest{Model: "m"}
	assert.Equal(t, Of(req), Of(req))
	assert.NotEqual(t, Of(req), Of(baseRequest()))
}

func TestDigestString(t *testing.T) {
	s := Of(baseRequest()).String()
	assert.Len(t, s, 32)
	assert.Regexp(t, "^[0-9a-f]{32}$", s)
}

func TestCanonicalFieldOrder(t *testing.T) {
	got := string(Canonical(baseRequest()))
	want := "messages:\n" +
		"    - role: user\n" +
		"      content: hi\n" +
		"model: m\n" +
		"temperature: 0.1\n" +
		"top_probability: 1\n"
	assert.Equal(t, want, got)
}
