package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Retry.MaxRetries != 3 {
		t.Errorf("max_retries = %d, want 3", cfg.Retry.MaxRetries)
	}
	if cfg.Retry.BackoffCap() != 30*time.Second {
		t.Errorf("backoff cap = %s, want 30s", cfg.Retry.BackoffCap())
	}
	if cfg.Provider("ami").BaseURL != DefaultAmiBaseURL {
		t.Errorf("ami base url = %q", cfg.Provider("ami").BaseURL)
	}
	if cfg.SelectionPolicy != PolicyLeastUsed {
		t.Errorf("selection_policy = %q, want %q", cfg.SelectionPolicy, PolicyLeastUsed)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexus.yaml")
	content := `
listen: "0.0.0.0:9090"
fatal_phrases:
  - "account suspended"
retry:
  max_retries: 5
  backoff_step_seconds: 2
  backoff_cap_seconds: 8
providers:
  ami:
    base_url: "https://ami.example.test"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != "0.0.0.0:9090" {
		t.Errorf("listen = %q", cfg.Listen)
	}
	if cfg.Retry.MaxRetries != 5 || cfg.Retry.BackoffStep() != 2*time.Second {
		t.Errorf("retry = %+v", cfg.Retry)
	}
	if len(cfg.FatalPhrases) != 1 || cfg.FatalPhrases[0] != "account suspended" {
		t.Errorf("fatal_phrases = %v", cfg.FatalPhrases)
	}
	if cfg.Provider("ami").BaseURL != "https://ami.example.test" {
		t.Errorf("ami base url = %q", cfg.Provider("ami").BaseURL)
	}
	// Sections omitted from the file fall back to defaults.
	if cfg.Provider("codex").BaseURL != DefaultCodexBaseURL {
		t.Errorf("codex base url = %q", cfg.Provider("codex").BaseURL)
	}
}
