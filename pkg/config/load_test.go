package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "openclaw.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error: %v", err)
	}
	if cfg.Gateway.Bind != DefaultBind {
		t.Errorf("bind = %q, want %q", cfg.Gateway.Bind, DefaultBind)
	}
	if cfg.Gateway.Port != DefaultPort {
		t.Errorf("port = %d, want %d", cfg.Gateway.Port, DefaultPort)
	}
	if cfg.Providers.Default != "anthropic" {
		t.Errorf("default provider = %q, want anthropic", cfg.Providers.Default)
	}
	if cfg.Providers.MaxTokens != DefaultMaxTokens {
		t.Errorf("max_tokens = %d, want %d", cfg.Providers.MaxTokens, DefaultMaxTokens)
	}
	if cfg.Gateway.UpstreamTimeout != DefaultUpstreamTimeout {
		t.Errorf("upstream_timeout = %s, want %s", cfg.Gateway.UpstreamTimeout, DefaultUpstreamTimeout)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
gateway:
  bind: 0.0.0.0
  port: 9000
  upstream_timeout: 30s
providers:
  default: openai
  openai:
    model: gpt-4o-mini
  temperature: 0.2
session:
  db_path: /tmp/sessions.db
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Gateway.Bind != "0.0.0.0" || cfg.Gateway.Port != 9000 {
		t.Errorf("listen = %s:%d, want 0.0.0.0:9000", cfg.Gateway.Bind, cfg.Gateway.Port)
	}
	if cfg.Gateway.UpstreamTimeout != 30*time.Second {
		t.Errorf("upstream_timeout = %s, want 30s", cfg.Gateway.UpstreamTimeout)
	}
	if cfg.Providers.Default != "openai" {
		t.Errorf("default provider = %q, want openai", cfg.Providers.Default)
	}
	if cfg.Providers.OpenAI.Model != "gpt-4o-mini" {
		t.Errorf("openai model = %q", cfg.Providers.OpenAI.Model)
	}
	if cfg.Providers.Temperature != 0.2 {
		t.Errorf("temperature = %g, want 0.2", cfg.Providers.Temperature)
	}
	// Unset fields still get defaults.
	if cfg.Providers.Anthropic.Model != DefaultAnthropicModel {
		t.Errorf("anthropic model = %q, want default", cfg.Providers.Anthropic.Model)
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := writeConfig(t, `
gateway:
  port: 9000
providers:
  anthropic:
    api_key: file-key
`)

	t.Setenv("OPENCLAW_GATEWAY_PORT", "9100")
	t.Setenv("ANTHROPIC_API_KEY", "env-key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Gateway.Port != 9100 {
		t.Errorf("port = %d, want env override 9100", cfg.Gateway.Port)
	}
	if cfg.Providers.Anthropic.APIKey != "env-key" {
		t.Errorf("api key = %q, want env override", cfg.Providers.Anthropic.APIKey)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad port", "gateway:\n  port: 70000\n"},
		{"bad bind", "gateway:\n  bind: not-an-ip\n"},
		{"bad provider", "providers:\n  default: cohere\n"},
		{"bad temperature", "providers:\n  temperature: 3.5\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.yaml)
			if _, err := Load(path); err == nil {
				t.Errorf("Load() accepted invalid config:\n%s", tt.yaml)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/openclaw.yaml"); err == nil {
		t.Error("Load() should fail for missing file")
	}
}
