package providers

import (
	"encoding/json"
	"fmt"
)

// Message is one turn of a conversation, provider-neutral.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Params describes a single upstream completion call.
type Params struct {
	Model       string
	Messages    []Message
	System      string
	MaxTokens   int
	Temperature float64
}

// anthropicRequest is the Anthropic messages API request body. The system
// prompt is a top-level field, not a message.
type anthropicRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
}

// openaiRequest is the OpenAI chat completions request body.
// stream_options.include_usage asks for token counts on the final chunk.
type openaiRequest struct {
	Model         string        `json:"model"`
	MaxTokens     int           `json:"max_tokens"`
	Temperature   float64       `json:"temperature"`
	Stream        bool          `json:"stream"`
	StreamOptions streamOptions `json:"stream_options"`
	Messages      []Message     `json:"messages"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// BuildBody marshals the provider-specific streaming request body for p.
func BuildBody(p Provider, params Params) ([]byte, error) {
	var req any
	switch p {
	case Anthropic:
		req = anthropicRequest{
			Model:       params.Model,
			MaxTokens:   params.MaxTokens,
			Temperature: params.Temperature,
			Stream:      true,
			System:      params.System,
			Messages:    params.Messages,
		}
	case OpenAI:
		msgs := params.Messages
		if params.System != "" {
			msgs = append([]Message{{Role: "system", Content: params.System}}, msgs...)
		}
		req = openaiRequest{
			Model:         params.Model,
			MaxTokens:     params.MaxTokens,
			Temperature:   params.Temperature,
			Stream:        true,
			StreamOptions: streamOptions{IncludeUsage: true},
			Messages:      msgs,
		}
	default:
		return nil, fmt.Errorf("unknown provider %d", p)
	}
	return json.Marshal(req)
}
