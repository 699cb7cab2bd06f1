package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from the YAML file at path, applies defaults,
// environment variable overrides, and validates the result.
//
// If path is empty, Load starts from an empty config so the gateway can run
// on defaults plus environment variables alone.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	}

	ApplyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies OPENCLAW_* environment variables over cfg.
// Environment always wins over file values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENCLAW_GATEWAY_BIND"); v != "" {
		cfg.Gateway.Bind = v
	}
	if v := os.Getenv("OPENCLAW_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("OPENCLAW_GATEWAY_AUTH_TOKEN"); v != "" {
		cfg.Gateway.AuthToken = v
	}
	if v := os.Getenv("OPENCLAW_GATEWAY_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Workers = n
		}
	}
	if v := os.Getenv("OPENCLAW_UPSTREAM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Gateway.UpstreamTimeout = d
		}
	}

	if v := os.Getenv("OPENCLAW_DEFAULT_PROVIDER"); v != "" {
		cfg.Providers.Default = v
	}
	if v := os.Getenv("OPENCLAW_ANTHROPIC_MODEL"); v != "" {
		cfg.Providers.Anthropic.Model = v
	}
	if v := os.Getenv("OPENCLAW_OPENAI_MODEL"); v != "" {
		cfg.Providers.OpenAI.Model = v
	}
	if v := os.Getenv("OPENCLAW_SYSTEM_PROMPT"); v != "" {
		cfg.Providers.SystemPrompt = v
	}

	// Conventional provider key variables take precedence over the file
	// so keys never have to live on disk.
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Providers.Anthropic.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Providers.OpenAI.APIKey = v
	}

	if v := os.Getenv("OPENCLAW_SESSION_DB"); v != "" {
		cfg.Session.DBPath = v
	}

	if v := os.Getenv("OPENCLAW_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("OPENCLAW_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
