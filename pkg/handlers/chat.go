package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"openclaw/gateway/pkg/httpwire"
	"openclaw/gateway/pkg/providers"
	"openclaw/gateway/pkg/router"
)

type chatRequest struct {
	Model       string              `json:"model"`
	Messages    []providers.Message `json:"messages"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
	Temperature *float64            `json:"temperature,omitempty"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int               `json:"index"`
	Message      providers.Message `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// openaiError is the OpenAI-compatible error envelope this route uses for
// every failure, matching what its callers' SDKs expect to parse.
type openaiError struct {
	Error openaiErrorBody `json:"error"`
}

type openaiErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func setChatError(resp *httpwire.Response, status int, message, errType string) {
	resp.SetStatus(status, "")
	resp.SetJSON(openaiError{Error: openaiErrorBody{Message: message, Type: errType}})
}

// Chat is the OpenAI-compatible chat completions endpoint. The provider is
// picked from the model name prefix (claude* or gpt*); anything else goes to
// the configured default provider.
func Chat(deps Deps) router.HandlerFunc {
	return func(ctx context.Context, req *httpwire.Request, resp *httpwire.Response) error {
		var body chatRequest
		if err := json.Unmarshal(req.Body, &body); err != nil {
			setChatError(resp, 400, "Invalid JSON body", "invalid_request_error")
			return nil
		}
		if len(body.Messages) == 0 {
			setChatError(resp, 400, "messages array is required", "invalid_request_error")
			return nil
		}

		cfg := deps.Config()

		provider, model := resolveChatTarget(deps, body.Model)

		// The upstream call carries the last user turn plus any system
		// message; intermediate turns are the caller's to manage.
		var system, lastUser string
		for _, m := range body.Messages {
			switch m.Role {
			case "system":
				system = m.Content
			case "user":
				lastUser = m.Content
			}
		}
		if lastUser == "" {
			setChatError(resp, 400, "messages must include a user message", "invalid_request_error")
			return nil
		}
		if system == "" {
			system = cfg.Providers.SystemPrompt
		}

		params := providers.Params{
			Model:       model,
			Messages:    []providers.Message{{Role: "user", Content: lastUser}},
			System:      system,
			MaxTokens:   cfg.Providers.MaxTokens,
			Temperature: cfg.Providers.Temperature,
		}
		if body.MaxTokens > 0 {
			params.MaxTokens = body.MaxTokens
		}
		if body.Temperature != nil {
			params.Temperature = *body.Temperature
		}

		result, err := deps.complete(ctx, provider, params)
		if err != nil {
			switch upstreamStatus(err) {
			case 500:
				setChatError(resp, 500, "No API key configured", "server_error")
			case 504:
				setChatError(resp, 504, "Upstream request timed out", "timeout_error")
			default:
				setChatError(resp, 502, "AI API request failed", "server_error")
			}
			return err
		}

		return resp.SetJSON(chatResponse{
			ID:      "chatcmpl-" + uuid.NewString(),
			Object:  "chat.completion",
			Created: time.Now().Unix(),
			Model:   model,
			Choices: []chatChoice{{
				Index:        0,
				Message:      providers.Message{Role: "assistant", Content: result.text},
				FinishReason: "stop",
			}},
			Usage: chatUsage{
				PromptTokens:     result.inputTokens,
				CompletionTokens: result.outputTokens,
				TotalTokens:      result.inputTokens + result.outputTokens,
			},
		})
	}
}

// resolveChatTarget maps the requested model to a provider. A recognized
// prefix picks that provider; an unrecognized model goes to the configured
// default provider under the caller's model name. An empty model uses the
// default provider and its configured model.
func resolveChatTarget(deps Deps, requested string) (providers.Provider, string) {
	cfg := deps.Config()
	def, err := providers.Parse(cfg.Providers.Default)
	if err != nil {
		def = providers.Anthropic
	}
	if requested == "" {
		return def, providers.Model(cfg, def)
	}
	if p, ok := providers.FromModel(requested); ok {
		return p, requested
	}
	deps.logger().Debug("unrecognized model prefix, using default provider", "model", requested)
	return def, requested
}
