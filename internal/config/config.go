// Package config loads the nexus configuration from an optional YAML
// file with environment-variable overrides.
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RetryConfig tunes the rate-limit backoff controller. Per-provider
// deviations from the standard policy are expressed here, not in code.
type RetryConfig struct {
	MaxRetries         int `yaml:"max_retries"`
	BackoffStepSeconds int `yaml:"backoff_step_seconds"`
	BackoffCapSeconds  int `yaml:"backoff_cap_seconds"`
}

// BackoffStep returns the linear backoff increment.
func (r RetryConfig) BackoffStep() time.Duration {
	return time.Duration(r.BackoffStepSeconds) * time.Second
}

// BackoffCap returns the maximum single wait.
func (r RetryConfig) BackoffCap() time.Duration {
	return time.Duration(r.BackoffCapSeconds) * time.Second
}

// ProviderConfig holds per-provider endpoints.
type ProviderConfig struct {
	BaseURL   string `yaml:"base_url"`
	BridgeURL string `yaml:"bridge_url,omitempty"` // Ami daemon bridge websocket
	Region    string `yaml:"region,omitempty"`     // Bedrock
}

// Config is the full application configuration.
type Config struct {
	Listen string `yaml:"listen"`
	DBPath string `yaml:"db_path"`

	// FatalPhrases overrides the built-in account-exhaustion phrase list
	// used to classify provider error text as credential-fatal.
	FatalPhrases []string `yaml:"fatal_phrases"`

	// DeactivateOnFatal disables a credential when a fatal error is seen.
	DeactivateOnFatal bool `yaml:"deactivate_on_fatal"`

	// SelectionPolicy picks credentials from the pool: "least_used"
	// (default) or "random".
	SelectionPolicy string `yaml:"selection_policy"`

	Retry RetryConfig `yaml:"retry"`

	Providers map[string]ProviderConfig `yaml:"providers"`
}

// Credential selection policies.
const (
	PolicyLeastUsed = "least_used"
	PolicyRandom    = "random"
)

// Default endpoints; any can be overridden in the config file.
const (
	DefaultAmiBaseURL          = "https://api.ami.chat"
	DefaultAmiBridgeURL        = "wss://bridge.ami.chat/v1/daemon"
	DefaultDigitalOceanBaseURL = "https://inference.do-ai.run/v1"
	DefaultCodexBaseURL        = "https://chatgpt.com/backend-api/codex"
	DefaultBedrockRegion       = "us-east-1"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen:            "127.0.0.1:8080",
		DBPath:            "nexus.db",
		DeactivateOnFatal: true,
		SelectionPolicy:   PolicyLeastUsed,
		Retry: RetryConfig{
			MaxRetries:         3,
			BackoffStepSeconds: 10,
			BackoffCapSeconds:  30,
		},
		Providers: map[string]ProviderConfig{
			"ami":          {BaseURL: DefaultAmiBaseURL, BridgeURL: DefaultAmiBridgeURL},
			"digitalocean": {BaseURL: DefaultDigitalOceanBaseURL},
			"bedrock":      {Region: DefaultBedrockRegion},
			"codex":        {BaseURL: DefaultCodexBaseURL},
		},
	}
}

// Load reads the config file at path (missing file is not an error) and
// applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			log.Printf("📄 Config file %s not found, using defaults", path)
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
			log.Printf("📄 Loaded config from %s", path)
		}
	}

	if host := os.Getenv("HOST"); host != "" {
		cfg.Listen = host + ":" + portFromListen(cfg.Listen)
	}
	if port := os.Getenv("PORT"); port != "" {
		cfg.Listen = hostFromListen(cfg.Listen) + ":" + port
	}
	if dbPath := os.Getenv("NEXUS_DB"); dbPath != "" {
		cfg.DBPath = dbPath
	}

	return cfg, nil
}

// Provider returns the provider section, falling back to defaults when
// the config file omits it.
func (c *Config) Provider(name string) ProviderConfig {
	if p, ok := c.Providers[name]; ok {
		return p
	}
	return Default().Providers[name]
}

func portFromListen(listen string) string {
	for i := len(listen) - 1; i >= 0; i-- {
		if listen[i] == ':' {
			return listen[i+1:]
		}
	}
	return "8080"
}

func hostFromListen(listen string) string {
	for i := len(listen) - 1; i >= 0; i-- {
		if listen[i] == ':' {
			return listen[:i]
		}
	}
	return listen
}
