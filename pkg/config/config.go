// Package config loads and validates the gateway configuration.
//
// Configuration comes from a YAML file with OPENCLAW_* environment variable
// overrides. Provider API keys additionally honor the conventional
// ANTHROPIC_API_KEY and OPENAI_API_KEY variables.
package config

import "time"

// Config is the root configuration for the gateway daemon.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	Providers ProvidersConfig `yaml:"providers"`
	Session   SessionConfig   `yaml:"session"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// GatewayConfig controls the listening socket and reactor behavior.
type GatewayConfig struct {
	// Bind is the IPv4 address to listen on.
	Bind string `yaml:"bind"`

	// Port is the TCP listen port.
	Port int `yaml:"port"`

	// Backlog is the listen(2) backlog.
	Backlog int `yaml:"backlog"`

	// AuthToken, when set, requires "Authorization: Bearer <token>"
	// on all routes except /health.
	AuthToken string `yaml:"auth_token"`

	// Workers bounds the pool executing upstream calls off the reactor.
	Workers int `yaml:"workers"`

	// UpstreamTimeout aborts an upstream call that runs too long.
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`
}

// ProvidersConfig holds upstream AI provider settings.
type ProvidersConfig struct {
	// Default names the provider used when a request does not pick one
	// ("anthropic" or "openai").
	Default string `yaml:"default"`

	Anthropic ProviderConfig `yaml:"anthropic"`
	OpenAI    ProviderConfig `yaml:"openai"`

	// MaxTokens is the completion token budget sent upstream.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature is the sampling temperature sent upstream.
	Temperature float64 `yaml:"temperature"`

	// SystemPrompt is prepended to conversations when the caller
	// supplies no system message.
	SystemPrompt string `yaml:"system_prompt"`
}

// ProviderConfig configures a single upstream provider.
type ProviderConfig struct {
	// Model is the default model identifier for this provider.
	Model string `yaml:"model"`

	// APIKey authenticates against the provider.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider endpoint, mainly for tests.
	BaseURL string `yaml:"base_url"`
}

// SessionConfig controls the SQLite-backed conversation store.
type SessionConfig struct {
	// DBPath is the SQLite database file. Empty disables the store.
	DBPath string `yaml:"db_path"`

	// RetentionSchedule is a cron expression for pruning idle sessions.
	// Empty disables scheduled pruning.
	RetentionSchedule string `yaml:"retention_schedule"`

	// RetentionAge is how long a session may stay idle before pruning.
	RetentionAge time.Duration `yaml:"retention_age"`
}

// LoggingConfig controls structured logging output.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// MetricsConfig controls Prometheus exposition.
type MetricsConfig struct {
	// Enabled registers the /metrics route.
	Enabled bool `yaml:"enabled"`
}
