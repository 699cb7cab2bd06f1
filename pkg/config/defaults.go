package config

import "time"

// Default values applied to fields left unset by the file and environment.
const (
	DefaultBind            = "127.0.0.1"
	DefaultPort            = 18789
	DefaultBacklog         = 128
	DefaultWorkers         = 32
	DefaultUpstreamTimeout = 120 * time.Second

	DefaultProvider       = "anthropic"
	DefaultAnthropicModel = "claude-sonnet-4-20250514"
	DefaultOpenAIModel    = "gpt-4o"
	DefaultMaxTokens      = 4096
	DefaultTemperature    = 0.7

	DefaultRetentionAge = 30 * 24 * time.Hour
)

// ApplyDefaults fills unset fields in cfg with defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = DefaultBind
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = DefaultPort
	}
	if cfg.Gateway.Backlog == 0 {
		cfg.Gateway.Backlog = DefaultBacklog
	}
	if cfg.Gateway.Workers == 0 {
		cfg.Gateway.Workers = DefaultWorkers
	}
	if cfg.Gateway.UpstreamTimeout == 0 {
		cfg.Gateway.UpstreamTimeout = DefaultUpstreamTimeout
	}

	if cfg.Providers.Default == "" {
		cfg.Providers.Default = DefaultProvider
	}
	if cfg.Providers.Anthropic.Model == "" {
		cfg.Providers.Anthropic.Model = DefaultAnthropicModel
	}
	if cfg.Providers.OpenAI.Model == "" {
		cfg.Providers.OpenAI.Model = DefaultOpenAIModel
	}
	if cfg.Providers.MaxTokens == 0 {
		cfg.Providers.MaxTokens = DefaultMaxTokens
	}
	if cfg.Providers.Temperature == 0 {
		cfg.Providers.Temperature = DefaultTemperature
	}

	if cfg.Session.RetentionAge == 0 {
		cfg.Session.RetentionAge = DefaultRetentionAge
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
