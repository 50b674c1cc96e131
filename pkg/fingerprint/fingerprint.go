// Package fingerprint derives stable cache keys from completion requests.
//
// Only the newest conversation turn takes part in the key, together with the
// model and sampling parameters. Earlier history and delivery settings such as
// streaming are ignored, so a repeated question inside a running conversation
// maps to the same key.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"

	"gopkg.in/yaml.v3"

	"github.com/cortexshell/cortex/pkg/models"
)

// Size is the digest length in bytes.
const Size = md5.Size

// Digest identifies a cacheable request.
type Digest [Size]byte

// String returns the lowercase hex encoding used for entry file names.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// payload is the reduced request that gets hashed. Field order is fixed by
// the struct definition.
type payload struct {
	Messages       []models.ChatMessage `yaml:"messages"`
	Model          string               `yaml:"model"`
	Temperature    float64              `yaml:"temperature"`
	TopProbability float64              `yaml:"top_probability"`
}

// Of computes the fingerprint of req.
func Of(req models.ChatCompletionRequest) Digest {
	return md5.Sum(Canonical(req))
}

// Canonical returns the serialized reduced request that Of hashes.
func Canonical(req models.ChatCompletionRequest) []byte {
	p := payload{
		Messages:       []models.ChatMessage{},
		Model:          req.Model,
		Temperature:    req.Temperature,
		TopProbability: req.TopP,
	}
	if last, ok := req.LastMessage(); ok {
		p.Messages = append(p.Messages, last)
	}

	// Marshalling a struct of strings and floats cannot fail.
	data, err := yaml.Marshal(p)
	if err != nil {
		panic("fingerprint: marshal payload: " + err.Error())
	}
	return data
}
