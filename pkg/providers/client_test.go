package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"openclaw/gateway/pkg/stream"
)

// testEvents collects decoder callbacks for assertions.
type testEvents struct {
	text  strings.Builder
	dones int
	errs  []string
}

func (e *testEvents) events() stream.Events {
	return stream.Events{
		OnText:  func(s string) { e.text.WriteString(s) },
		OnDone:  func(in, out int) { e.dones++ },
		OnError: func(msg string) { e.errs = append(e.errs, msg) },
	}
}

func sseServer(t *testing.T, checkReq func(*http.Request), lines ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if checkReq != nil {
			checkReq(r)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, line := range lines {
			w.Write([]byte(line + "\n"))
			flusher.Flush()
		}
	}))
}

func TestStreamOpenAISuccess(t *testing.T) {
	var gotAuth, gotAccept string
	srv := sseServer(t, func(r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
	},
		`data: {"choices":[{"delta":{"content":"Hello"}}]}`,
		`data: {"choices":[{"delta":{"content":" world"}}],"usage":{"prompt_tokens":3,"completion_tokens":2}}`,
		`data: [DONE]`,
	)
	defer srv.Close()

	var ev testEvents
	c := NewStreamClient(nil)
	err := c.Stream(context.Background(), OpenAI, srv.URL, "sk-test",
		Params{Model: "gpt-4o", Messages: []Message{{Role: "user", Content: "hi"}}, MaxTokens: 10},
		stream.NewOpenAIDecoder(ev.events()))
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	if got := ev.text.String(); got != "Hello world" {
		t.Errorf("text = %q, want %q", got, "Hello world")
	}
	if ev.dones != 1 {
		t.Errorf("done callbacks = %d, want 1", ev.dones)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
	if gotAccept != "text/event-stream" {
		t.Errorf("Accept = %q, want text/event-stream", gotAccept)
	}
}

func TestStreamAnthropicHeaders(t *testing.T) {
	var gotKey, gotVersion string
	srv := sseServer(t, func(r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
	},
		"event: message_stop",
		`data: {"type":"message_stop"}`,
	)
	defer srv.Close()

	var ev testEvents
	c := NewStreamClient(nil)
	err := c.Stream(context.Background(), Anthropic, srv.URL, "sk-ant-test",
		Params{Model: "claude-sonnet-4-20250514", Messages: []Message{{Role: "user", Content: "hi"}}, MaxTokens: 10},
		stream.NewAnthropicDecoder(ev.events()))
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	if gotKey != "sk-ant-test" {
		t.Errorf("x-api-key = %q", gotKey)
	}
	if gotVersion == "" {
		t.Error("anthropic-version header missing")
	}
	if ev.dones != 1 {
		t.Errorf("done callbacks = %d, want 1", ev.dones)
	}
}

func TestStreamUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"invalid api key"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	var ev testEvents
	c := NewStreamClient(nil)
	err := c.Stream(context.Background(), OpenAI, srv.URL, "bad-key",
		Params{Model: "gpt-4o"}, stream.NewOpenAIDecoder(ev.events()))

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Stream() = %v, want *AuthError", err)
	}
}

func TestStreamRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: [DONE]\n"))
	}))
	defer srv.Close()

	var ev testEvents
	c := NewStreamClient(nil)
	c.retryDelay = time.Millisecond
	err := c.Stream(context.Background(), OpenAI, srv.URL, "sk-test",
		Params{Model: "gpt-4o"}, stream.NewOpenAIDecoder(ev.events()))
	if err != nil {
		t.Fatalf("Stream() error after retry: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("upstream calls = %d, want 2", got)
	}
	if ev.dones != 1 {
		t.Errorf("done callbacks = %d, want 1", ev.dones)
	}
}

func TestStreamBadRequestNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":{"message":"bad model"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	var ev testEvents
	c := NewStreamClient(nil)
	err := c.Stream(context.Background(), OpenAI, srv.URL, "sk-test",
		Params{Model: "nope"}, stream.NewOpenAIDecoder(ev.events()))

	var provErr *ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("Stream() = %v, want *ProviderError", err)
	}
	if provErr.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want 400", provErr.StatusCode)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("upstream calls = %d, want 1 (no retry on 4xx)", got)
	}
}

func TestStreamDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var ev testEvents
	c := NewStreamClient(nil)
	err := c.Stream(ctx, Anthropic, srv.URL, "sk-ant-test",
		Params{Model: "claude-sonnet-4-20250514"}, stream.NewAnthropicDecoder(ev.events()))

	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("Stream() = %v, want *TimeoutError", err)
	}
	// The error reports how long the call actually ran, not the remaining
	// deadline (which is always near zero once it fires).
	if timeoutErr.Elapsed < 50*time.Millisecond {
		t.Errorf("Elapsed = %s, want at least the 50ms deadline", timeoutErr.Elapsed)
	}
}
