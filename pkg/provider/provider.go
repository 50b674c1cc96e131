// Package provider implements completion producers for the supported
// upstream services.
//
// Every producer yields response text incrementally as an
// iter.Seq2[string, error]. Streaming requests surface each upstream delta as
// its own chunk; non-streaming requests yield the whole message once.
// Producers never retry.
package provider

import (
	"errors"
	"fmt"

	"github.com/cortexshell/cortex/pkg/config"
	"github.com/cortexshell/cortex/pkg/stream"
)

// ErrAuthentication is returned when the upstream rejects the credentials.
var ErrAuthentication = errors.New("authentication error")

// New creates a producer from the provider configuration.
func New(cfg config.ProviderConfig) (stream.Producer, error) {
	switch cfg.Type {
	case config.ProviderOpenAI, config.ProviderAzure, "":
		return NewOpenAI(cfg)
	case config.ProviderAnthropic:
		return NewAnthropic(cfg)
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Type)
	}
}
