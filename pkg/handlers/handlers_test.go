package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"openclaw/gateway/pkg/config"
	"openclaw/gateway/pkg/httpwire"
	"openclaw/gateway/pkg/providers"
	"openclaw/gateway/pkg/session"
)

// anthropicUpstream fakes the Anthropic messages API, echoing the last user
// message back as a single content delta.
func anthropicUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []providers.Message `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		last := "nothing"
		if n := len(req.Messages); n > 0 {
			last = req.Messages[n-1].Content
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("event: content_block_delta\n" +
			`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"echo: ` + last + `"}}` + "\n\n" +
			"event: message_stop\n" +
			`data: {"type":"message_stop","usage":{"input_tokens":5,"output_tokens":9}}` + "\n\n"))
	}))
}

func testDeps(t *testing.T, mutate func(*config.Config)) Deps {
	t.Helper()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Gateway.UpstreamTimeout = 5 * time.Second
	if mutate != nil {
		mutate(cfg)
	}
	return Deps{
		Config: func() *config.Config { return cfg },
		Client: providers.NewStreamClient(nil),
	}
}

func postJSON(t *testing.T, body string) *httpwire.Request {
	t.Helper()
	raw := "POST /x HTTP/1.1\r\nContent-Type: application/json\r\nContent-Length: " +
		strconv.Itoa(len(body)) + "\r\n\r\n" + body
	var p httpwire.Parser
	result, err := p.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if result != httpwire.Complete {
		t.Fatalf("Parse() = %v, want Complete", result)
	}
	return p.Request()
}

func decodeBody[T any](t *testing.T, resp *httpwire.Response) T {
	t.Helper()
	encoded := string(resp.Encode())
	_, body, ok := strings.Cut(encoded, "\r\n\r\n")
	if !ok {
		t.Fatal("response has no body separator")
	}
	var v T
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		t.Fatalf("response body is not valid JSON: %v\n%s", err, body)
	}
	return v
}

func TestHealth(t *testing.T) {
	start := time.Now().Add(-3 * time.Second)
	h := Health(func() Stats {
		return Stats{Version: "1.2.3", StartTime: start, TotalRequests: 1, ActiveConnections: 1}
	})

	resp := httpwire.NewResponse()
	req := postJSON(t, "{}")
	if err := h(context.Background(), req, resp); err != nil {
		t.Fatalf("Health() error: %v", err)
	}

	body := decodeBody[map[string]any](t, resp)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["version"] != "1.2.3" {
		t.Errorf("version = %v", body["version"])
	}
	if body["total_requests"] != float64(1) {
		t.Errorf("total_requests = %v, want 1", body["total_requests"])
	}
	if body["uptime_seconds"].(float64) < 2 {
		t.Errorf("uptime_seconds = %v, want >= 2", body["uptime_seconds"])
	}
}

func TestRequireBearer(t *testing.T) {
	next := Health(func() Stats { return Stats{} })

	tests := []struct {
		name       string
		token      string
		authHeader string
		wantStatus int
	}{
		{name: "no token configured", token: "", authHeader: "", wantStatus: 200},
		{name: "valid token", token: "secret", authHeader: "Bearer secret", wantStatus: 200},
		{name: "missing header", token: "secret", authHeader: "", wantStatus: 401},
		{name: "wrong token", token: "secret", authHeader: "Bearer nope", wantStatus: 401},
		{name: "not bearer scheme", token: "secret", authHeader: "Basic c2VjcmV0", wantStatus: 401},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := RequireBearer(func() string { return tt.token }, next)

			raw := "GET /health HTTP/1.1\r\n"
			if tt.authHeader != "" {
				raw += "Authorization: " + tt.authHeader + "\r\n"
			}
			raw += "\r\n"
			var p httpwire.Parser
			if _, err := p.Parse([]byte(raw)); err != nil {
				t.Fatalf("Parse() error: %v", err)
			}

			resp := httpwire.NewResponse()
			if err := h(context.Background(), p.Request(), resp); err != nil {
				t.Fatalf("handler error: %v", err)
			}
			if resp.Status() != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.Status(), tt.wantStatus)
			}
		})
	}
}

func TestWebhookValidation(t *testing.T) {
	deps := testDeps(t, nil)
	h := Webhook(deps)

	tests := []struct {
		name      string
		body      string
		wantCode  int
		wantError string
	}{
		{name: "invalid json", body: "{nope", wantCode: 400, wantError: "Invalid JSON body"},
		{name: "missing message", body: `{"session_id":"x"}`, wantCode: 400, wantError: "Missing message field"},
		{name: "empty message", body: `{"message":""}`, wantCode: 400, wantError: "Missing message field"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := httpwire.NewResponse()
			h(context.Background(), postJSON(t, tt.body), resp)
			if resp.Status() != tt.wantCode {
				t.Errorf("status = %d, want %d", resp.Status(), tt.wantCode)
			}
			body := decodeBody[map[string]string](t, resp)
			if body["error"] != tt.wantError {
				t.Errorf("error = %q, want %q", body["error"], tt.wantError)
			}
		})
	}
}

func TestWebhookNoAPIKey(t *testing.T) {
	deps := testDeps(t, nil) // defaults carry no API key
	h := Webhook(deps)

	resp := httpwire.NewResponse()
	h(context.Background(), postJSON(t, `{"message":"hi"}`), resp)

	if resp.Status() != 500 {
		t.Fatalf("status = %d, want 500", resp.Status())
	}
	body := decodeBody[map[string]string](t, resp)
	if body["error"] != "No API key configured" {
		t.Errorf("error = %q, want %q", body["error"], "No API key configured")
	}
}

func TestWebhookSuccess(t *testing.T) {
	srv := anthropicUpstream(t)
	defer srv.Close()

	deps := testDeps(t, func(cfg *config.Config) {
		cfg.Providers.Anthropic.APIKey = "sk-ant-test"
		cfg.Providers.Anthropic.BaseURL = srv.URL
	})
	h := Webhook(deps)

	resp := httpwire.NewResponse()
	if err := h(context.Background(), postJSON(t, `{"message":"hi"}`), resp); err != nil {
		t.Fatalf("Webhook() error: %v", err)
	}
	if resp.Status() != 200 {
		t.Fatalf("status = %d, want 200", resp.Status())
	}

	body := decodeBody[webhookResponse](t, resp)
	if body.Response != "echo: hi" {
		t.Errorf("response = %q, want %q", body.Response, "echo: hi")
	}
	if body.Model == "" {
		t.Error("model missing from response")
	}
}

func TestWebhookUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadRequest)
	}))
	defer srv.Close()

	deps := testDeps(t, func(cfg *config.Config) {
		cfg.Providers.Anthropic.APIKey = "sk-ant-test"
		cfg.Providers.Anthropic.BaseURL = srv.URL
	})
	h := Webhook(deps)

	resp := httpwire.NewResponse()
	h(context.Background(), postJSON(t, `{"message":"hi"}`), resp)
	if resp.Status() != 502 {
		t.Errorf("status = %d, want 502", resp.Status())
	}
}

func TestWebhookSessionHistory(t *testing.T) {
	srv := anthropicUpstream(t)
	defer srv.Close()

	store, err := session.Open(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("session.Open() error: %v", err)
	}
	defer store.Close()

	deps := testDeps(t, func(cfg *config.Config) {
		cfg.Providers.Anthropic.APIKey = "sk-ant-test"
		cfg.Providers.Anthropic.BaseURL = srv.URL
	})
	deps.Store = store
	h := Webhook(deps)

	resp := httpwire.NewResponse()
	if err := h(context.Background(), postJSON(t, `{"message":"first"}`), resp); err != nil {
		t.Fatalf("first call error: %v", err)
	}
	first := decodeBody[webhookResponse](t, resp)
	if first.SessionID == "" {
		t.Fatal("first response carries no session id")
	}

	resp = httpwire.NewResponse()
	if err := h(context.Background(), postJSON(t, `{"message":"second","session_id":"`+first.SessionID+`"}`), resp); err != nil {
		t.Fatalf("second call error: %v", err)
	}
	second := decodeBody[webhookResponse](t, resp)
	if second.SessionID != first.SessionID {
		t.Errorf("session id changed: %q -> %q", first.SessionID, second.SessionID)
	}

	n, err := store.MessageCount(context.Background(), first.SessionID)
	if err != nil {
		t.Fatalf("MessageCount() error: %v", err)
	}
	if n != 4 {
		t.Errorf("stored messages = %d, want 4 (two user/assistant turns)", n)
	}
}

func TestChatValidation(t *testing.T) {
	deps := testDeps(t, nil)
	h := Chat(deps)

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{name: "invalid json", body: "{nope", wantCode: 400},
		{name: "empty messages", body: `{"model":"gpt-4o","messages":[]}`, wantCode: 400},
		{name: "no user message", body: `{"messages":[{"role":"system","content":"x"}]}`, wantCode: 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := httpwire.NewResponse()
			h(context.Background(), postJSON(t, tt.body), resp)
			if resp.Status() != tt.wantCode {
				t.Errorf("status = %d, want %d", resp.Status(), tt.wantCode)
			}
			body := decodeBody[openaiError](t, resp)
			if body.Error.Type != "invalid_request_error" {
				t.Errorf("error type = %q, want invalid_request_error", body.Error.Type)
			}
		})
	}
}

func TestChatModelPrefixDispatch(t *testing.T) {
	var hitOpenAI bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitOpenAI = strings.Contains(r.URL.Path, "chat/completions")
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(`data: {"choices":[{"delta":{"content":"hi there"}}],"usage":{"prompt_tokens":2,"completion_tokens":3}}` + "\n\ndata: [DONE]\n\n"))
	}))
	defer srv.Close()

	deps := testDeps(t, func(cfg *config.Config) {
		cfg.Providers.OpenAI.APIKey = "sk-test"
		cfg.Providers.OpenAI.BaseURL = srv.URL
	})
	h := Chat(deps)

	resp := httpwire.NewResponse()
	if err := h(context.Background(), postJSON(t, `{"model":"gpt-4o","messages":[{"role":"user","content":"hello"}]}`), resp); err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if !hitOpenAI {
		t.Error("gpt-prefixed model did not dispatch to the OpenAI endpoint")
	}

	body := decodeBody[chatResponse](t, resp)
	if body.Object != "chat.completion" {
		t.Errorf("object = %q, want chat.completion", body.Object)
	}
	if !strings.HasPrefix(body.ID, "chatcmpl-") {
		t.Errorf("id = %q, want chatcmpl- prefix", body.ID)
	}
	if len(body.Choices) != 1 || body.Choices[0].Message.Content != "hi there" {
		t.Errorf("choices = %+v", body.Choices)
	}
	if body.Usage.TotalTokens != 5 {
		t.Errorf("total_tokens = %d, want 5", body.Usage.TotalTokens)
	}
	if body.Model != "gpt-4o" {
		t.Errorf("model = %q, want caller's model", body.Model)
	}
}

func TestChatUnknownModelUsesDefaultProvider(t *testing.T) {
	var gotPath, gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var req struct {
			Model string `json:"model"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		gotModel = req.Model

		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("event: content_block_delta\n" +
			`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"ok"}}` + "\n\n" +
			"event: message_stop\n" +
			`data: {"type":"message_stop"}` + "\n\n"))
	}))
	defer srv.Close()

	deps := testDeps(t, func(cfg *config.Config) {
		cfg.Providers.Default = "anthropic"
		cfg.Providers.Anthropic.APIKey = "sk-ant-test"
		cfg.Providers.Anthropic.BaseURL = srv.URL
	})
	h := Chat(deps)

	resp := httpwire.NewResponse()
	if err := h(context.Background(), postJSON(t, `{"model":"llama-3","messages":[{"role":"user","content":"x"}]}`), resp); err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	// An unrecognized prefix goes to the default provider under the
	// caller's model name.
	if !strings.HasSuffix(gotPath, "/v1/messages") {
		t.Errorf("upstream path = %q, want the default provider's endpoint", gotPath)
	}
	if gotModel != "llama-3" {
		t.Errorf("upstream model = %q, want llama-3", gotModel)
	}

	body := decodeBody[chatResponse](t, resp)
	if body.Model != "llama-3" {
		t.Errorf("model = %q, want llama-3", body.Model)
	}
}

func TestChatUpstreamErrorEnvelope(t *testing.T) {
	deps := testDeps(t, nil) // no key configured
	h := Chat(deps)

	resp := httpwire.NewResponse()
	h(context.Background(), postJSON(t, `{"model":"claude-3-haiku","messages":[{"role":"user","content":"x"}]}`), resp)
	if resp.Status() != 500 {
		t.Fatalf("status = %d, want 500", resp.Status())
	}
	body := decodeBody[openaiError](t, resp)
	if body.Error.Message != "No API key configured" {
		t.Errorf("error message = %q", body.Error.Message)
	}
}

func TestChatTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	deps := testDeps(t, func(cfg *config.Config) {
		cfg.Gateway.UpstreamTimeout = 50 * time.Millisecond
		cfg.Providers.Anthropic.APIKey = "sk-ant-test"
		cfg.Providers.Anthropic.BaseURL = srv.URL
	})
	h := Chat(deps)

	resp := httpwire.NewResponse()
	h(context.Background(), postJSON(t, `{"model":"claude-3-haiku","messages":[{"role":"user","content":"x"}]}`), resp)
	if resp.Status() != 504 {
		t.Errorf("status = %d, want 504", resp.Status())
	}
}
