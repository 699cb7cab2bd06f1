// Package providers identifies upstream AI providers and performs the
// outbound streaming calls the gateway proxies to them.
package providers

import (
	"fmt"
	"strings"

	"openclaw/gateway/pkg/config"
	"openclaw/gateway/pkg/stream"
)

// Provider identifies an upstream AI completion API.
type Provider int

const (
	// Anthropic is the Anthropic messages API.
	Anthropic Provider = iota
	// OpenAI is the OpenAI chat completions API.
	OpenAI
)

// Default endpoint URLs.
const (
	anthropicMessagesURL   = "https://api.anthropic.com/v1/messages"
	openaiCompletionsURL   = "https://api.openai.com/v1/chat/completions"
	anthropicVersionHeader = "2023-06-01"
)

// String returns the provider's configuration name.
func (p Provider) String() string {
	switch p {
	case Anthropic:
		return "anthropic"
	case OpenAI:
		return "openai"
	default:
		return "unknown"
	}
}

// Parse maps a configuration name to a Provider.
func Parse(name string) (Provider, error) {
	switch strings.ToLower(name) {
	case "anthropic":
		return Anthropic, nil
	case "openai":
		return OpenAI, nil
	default:
		return Anthropic, fmt.Errorf("unknown provider %q", name)
	}
}

// FromModel infers the provider from a model name prefix. The second return
// is false when the prefix matches neither family.
func FromModel(model string) (Provider, bool) {
	switch {
	case strings.HasPrefix(model, "claude"):
		return Anthropic, true
	case strings.HasPrefix(model, "gpt"):
		return OpenAI, true
	default:
		return Anthropic, false
	}
}

// ResolveKey returns the configured API key for p, or an AuthError when no
// key is configured. Handlers surface that as a server configuration error.
func ResolveKey(cfg *config.Config, p Provider) (string, error) {
	var key string
	switch p {
	case Anthropic:
		key = cfg.Providers.Anthropic.APIKey
	case OpenAI:
		key = cfg.Providers.OpenAI.APIKey
	}
	if key == "" {
		return "", &AuthError{Provider: p.String(), Message: "no API key configured", Cause: ErrNoAPIKey}
	}
	return key, nil
}

// Model returns the configured default model for p.
func Model(cfg *config.Config, p Provider) string {
	if p == OpenAI {
		return cfg.Providers.OpenAI.Model
	}
	return cfg.Providers.Anthropic.Model
}

// Endpoint returns the streaming completions URL for p, honoring a
// configured base URL override.
func Endpoint(cfg *config.Config, p Provider) string {
	switch p {
	case OpenAI:
		if base := cfg.Providers.OpenAI.BaseURL; base != "" {
			return strings.TrimSuffix(base, "/") + "/v1/chat/completions"
		}
		return openaiCompletionsURL
	default:
		if base := cfg.Providers.Anthropic.BaseURL; base != "" {
			return strings.TrimSuffix(base, "/") + "/v1/messages"
		}
		return anthropicMessagesURL
	}
}

// NewDecoder returns the SSE decoder matching p. This is the only place
// that picks a wire format; handlers stay provider-agnostic.
func NewDecoder(p Provider, ev stream.Events) stream.Decoder {
	if p == OpenAI {
		return stream.NewOpenAIDecoder(ev)
	}
	return stream.NewAnthropicDecoder(ev)
}
