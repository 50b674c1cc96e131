package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider types.
const (
	ProviderOpenAI    = "openai"
	ProviderAzure     = "azure"
	ProviderAnthropic = "anthropic"
)

// Config holds all cortex configuration.
type Config struct {
	Listen   string         `yaml:"listen"`
	LogLevel string         `yaml:"log_level"`
	Provider ProviderConfig `yaml:"provider"`
	Defaults DefaultsConfig `yaml:"defaults"`
	Cache    CacheConfig    `yaml:"cache"`
	Ledger   LedgerConfig   `yaml:"ledger"`
}

// ProviderConfig defines the upstream completion service.
// Type is "openai" (default), "azure" or "anthropic".
type ProviderConfig struct {
	Type       string        `yaml:"type"`
	URL        string        `yaml:"url"`
	APIKey     string        `yaml:"api_key"`
	APIVersion string        `yaml:"api_version"`
	Deployment string        `yaml:"deployment"`
	Timeout    time.Duration `yaml:"timeout"`
}

// DefaultsConfig holds the generation parameters used when a caller does not
// set them.
type DefaultsConfig struct {
	Model          string  `yaml:"model"`
	Temperature    float64 `yaml:"temperature"`
	TopProbability float64 `yaml:"top_probability"`
	Stream         bool    `yaml:"stream"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Size    int    `yaml:"size"`
}

// LedgerConfig controls the cache outcome ledger.
type LedgerConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	base := filepath.Join(os.TempDir(), "cortex")
	return &Config{
		Listen:   ":8080",
		LogLevel: "info",
		Provider: ProviderConfig{
			Type:    ProviderOpenAI,
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			Timeout: 60 * time.Second,
		},
		Defaults: DefaultsConfig{
			Model:          "gpt-4o-mini",
			Temperature:    0.1,
			TopProbability: 1.0,
			Stream:         true,
		},
		Cache: CacheConfig{
			Enabled: true,
			Path:    filepath.Join(base, "cache"),
			Size:    100,
		},
		Ledger: LedgerConfig{
			Enabled: true,
			DBPath:  filepath.Join(base, "ledger.db"),
		},
	}
}

// Load reads a YAML config file and expands environment variables. An empty
// path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Cache.Size < 1 {
		return fmt.Errorf("cache.size must be greater than 0, got %d", c.Cache.Size)
	}
	if c.Cache.Path == "" {
		return fmt.Errorf("cache.path must be set")
	}
	switch c.Provider.Type {
	case ProviderOpenAI, ProviderAzure, ProviderAnthropic:
	default:
		return fmt.Errorf("unknown provider type: %q", c.Provider.Type)
	}
	if c.Provider.Type == ProviderAzure && c.Provider.URL == "" {
		return fmt.Errorf("provider.url is required for azure")
	}
	if c.Ledger.Enabled && c.Ledger.DBPath == "" {
		return fmt.Errorf("ledger.db_path must be set when the ledger is enabled")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}
