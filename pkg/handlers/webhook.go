package handlers

import (
	"context"
	"encoding/json"

	"openclaw/gateway/pkg/httpwire"
	"openclaw/gateway/pkg/providers"
	"openclaw/gateway/pkg/router"
)

type webhookRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

type webhookResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id,omitempty"`
	Model     string `json:"model"`
}

// Webhook is the generic message-in, response-out endpoint. It uses the
// configured default provider and, when a session store is wired, threads
// conversation history through the upstream call.
func Webhook(deps Deps) router.HandlerFunc {
	return func(ctx context.Context, req *httpwire.Request, resp *httpwire.Response) error {
		var body webhookRequest
		if err := json.Unmarshal(req.Body, &body); err != nil {
			setError(resp, 400, "Invalid JSON body")
			return nil
		}
		if body.Message == "" {
			setError(resp, 400, "Missing message field")
			return nil
		}

		cfg := deps.Config()
		provider, err := providers.Parse(cfg.Providers.Default)
		if err != nil {
			setError(resp, 500, "Invalid default provider")
			return err
		}

		sessionID, history, err := deps.loadSession(ctx, body.SessionID)
		if err != nil {
			deps.logger().Warn("session lookup failed, continuing without history",
				"session_id", body.SessionID, "error", err)
		}

		model := providers.Model(cfg, provider)
		params := providers.Params{
			Model:       model,
			Messages:    append(history, providers.Message{Role: "user", Content: body.Message}),
			System:      cfg.Providers.SystemPrompt,
			MaxTokens:   cfg.Providers.MaxTokens,
			Temperature: cfg.Providers.Temperature,
		}

		result, err := deps.complete(ctx, provider, params)
		if err != nil {
			status := upstreamStatus(err)
			switch status {
			case 500:
				setError(resp, 500, "No API key configured")
			case 504:
				setError(resp, 504, "Upstream request timed out")
			default:
				setError(resp, 502, "AI API request failed")
			}
			return err
		}

		deps.saveTurn(ctx, sessionID, body.Message, result.text)

		return resp.SetJSON(webhookResponse{
			Response:  result.text,
			SessionID: sessionID,
			Model:     model,
		})
	}
}

// loadSession resolves or creates the session and returns its history as
// upstream messages. Without a store it returns the caller's id untouched.
func (d Deps) loadSession(ctx context.Context, id string) (string, []providers.Message, error) {
	if d.Store == nil {
		return id, nil, nil
	}

	if id != "" {
		ok, err := d.Store.Exists(ctx, id)
		if err != nil {
			return id, nil, err
		}
		if ok {
			stored, err := d.Store.History(ctx, id, 0)
			if err != nil {
				return id, nil, err
			}
			history := make([]providers.Message, 0, len(stored))
			for _, m := range stored {
				history = append(history, providers.Message{Role: m.Role, Content: m.Content})
			}
			return id, history, nil
		}
		// Unknown id: start fresh rather than erroring, matching the
		// behavior callers see after a retention sweep.
	}

	created, err := d.Store.Create(ctx, "webchat")
	if err != nil {
		return "", nil, err
	}
	return created, nil, nil
}

// saveTurn persists one user/assistant exchange. Persistence failures are
// logged, never surfaced: the caller already has their answer.
func (d Deps) saveTurn(ctx context.Context, sessionID, userMsg, assistantMsg string) {
	if d.Store == nil || sessionID == "" {
		return
	}
	if err := d.Store.AddMessage(ctx, sessionID, "user", userMsg); err != nil {
		d.logger().Warn("failed to persist user message", "session_id", sessionID, "error", err)
		return
	}
	if err := d.Store.AddMessage(ctx, sessionID, "assistant", assistantMsg); err != nil {
		d.logger().Warn("failed to persist assistant message", "session_id", sessionID, "error", err)
	}
}
