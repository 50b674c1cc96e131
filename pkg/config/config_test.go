package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":8080", cfg.Listen)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 100, cfg.Cache.Size)
	assert.Equal(t, filepath.Join(os.TempDir(), "cortex", "cache"), cfg.Cache.Path)
	assert.Equal(t, ProviderOpenAI, cfg.Provider.Type)
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-test-123")

	path := writeConfig(t, `
listen: ":9090"
log_level: debug
provider:
  type: anthropic
  url: https://api.anthropic.com
  api_key: ${TEST_API_KEY}
  timeout: 30s
defaults:
  model: claude-sonnet
  temperature: 0.3
  top_probability: 0.9
cache:
  enabled: false
  path: /var/cache/cortex
  size: 7
ledger:
  enabled: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "sk-test-123", cfg.Provider.APIKey, "env var not expanded")
	assert.Equal(t, ProviderAnthropic, cfg.Provider.Type)
	assert.Equal(t, 30*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, "claude-sonnet", cfg.Defaults.Model)
	assert.Equal(t, 0.3, cfg.Defaults.Temperature)
	assert.Equal(t, 0.9, cfg.Defaults.TopProbability)
	assert.True(t, cfg.Defaults.Stream, "unset keys keep their defaults")
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, "/var/cache/cortex", cfg.Cache.Path)
	assert.Equal(t, 7, cfg.Cache.Size)

	lvl, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"zero size", "cache:\n  size: 0\n"},
		{"negative size", "cache:\n  size: -3\n"},
		{"unknown provider", "provider:\n  type: bard\n"},
		{"azure without url", "provider:\n  type: azure\n"},
		{"bad log level", "log_level: loud\n"},
		{"malformed yaml", "cache: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}
