package config

import (
	"fmt"
	"net"
)

// Validate checks cfg for values the gateway cannot start with.
func Validate(cfg *Config) error {
	if cfg.Gateway.Port < 1 || cfg.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port %d out of range", cfg.Gateway.Port)
	}
	if net.ParseIP(cfg.Gateway.Bind) == nil {
		return fmt.Errorf("gateway.bind %q is not a valid IP address", cfg.Gateway.Bind)
	}
	if cfg.Gateway.Backlog < 1 {
		return fmt.Errorf("gateway.backlog must be positive, got %d", cfg.Gateway.Backlog)
	}
	if cfg.Gateway.Workers < 1 {
		return fmt.Errorf("gateway.workers must be positive, got %d", cfg.Gateway.Workers)
	}
	if cfg.Gateway.UpstreamTimeout <= 0 {
		return fmt.Errorf("gateway.upstream_timeout must be positive, got %s", cfg.Gateway.UpstreamTimeout)
	}

	switch cfg.Providers.Default {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("providers.default %q must be \"anthropic\" or \"openai\"", cfg.Providers.Default)
	}

	if cfg.Providers.MaxTokens < 1 {
		return fmt.Errorf("providers.max_tokens must be positive, got %d", cfg.Providers.MaxTokens)
	}
	if cfg.Providers.Temperature < 0 || cfg.Providers.Temperature > 2 {
		return fmt.Errorf("providers.temperature %g out of range [0, 2]", cfg.Providers.Temperature)
	}

	if cfg.Session.RetentionAge < 0 {
		return fmt.Errorf("session.retention_age must not be negative, got %s", cfg.Session.RetentionAge)
	}

	return nil
}
