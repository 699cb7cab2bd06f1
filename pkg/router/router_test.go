package router

import (
	"context"
	"errors"
	"strings"
	"testing"

	"openclaw/gateway/pkg/httpwire"
)

func parseRequest(t *testing.T, raw string) *httpwire.Request {
	t.Helper()
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

func okHandler(body string) HandlerFunc {
	return func(ctx context.Context, req *httpwire.Request, resp *httpwire.Response) error {
		resp.SetJSONString(body)
		return nil
	}
}

func TestExactMatch(t *testing.T) {
	r := New(nil)
	r.HandleFunc(httpwire.MethodGet, "/health", okHandler(`{"status":"ok"}`))

	resp := r.Dispatch(context.Background(), parseRequest(t, "GET /health HTTP/1.1\r\n\r\n"))
	if resp.Status() != 200 {
		t.Errorf("status = %d, want 200", resp.Status())
	}
	if !strings.Contains(string(resp.Encode()), `{"status":"ok"}`) {
		t.Error("handler body missing")
	}
}

func TestMethodMismatch(t *testing.T) {
	r := New(nil)
	r.HandleFunc(httpwire.MethodPost, "/hooks/webchat", okHandler(`{}`))

	resp := r.Dispatch(context.Background(), parseRequest(t, "GET /hooks/webchat HTTP/1.1\r\n\r\n"))
	if resp.Status() != 404 {
		t.Errorf("status = %d, want 404 for wrong method", resp.Status())
	}
}

func TestWildcardMatch(t *testing.T) {
	r := New(nil)
	r.HandleFunc(httpwire.MethodGet, "/static/*", okHandler(`{"kind":"static"}`))

	tests := []struct {
		path  string
		match bool
	}{
		{path: "/static/app.js", match: true},
		{path: "/static/css/site.css", match: true},
		{path: "/static/", match: true},
		{path: "/statics", match: false},
		{path: "/other", match: false},
	}
	for _, tt := range tests {
		resp := r.Dispatch(context.Background(), parseRequest(t, "GET "+tt.path+" HTTP/1.1\r\n\r\n"))
		matched := resp.Status() == 200
		if matched != tt.match {
			t.Errorf("path %q matched = %v, want %v", tt.path, matched, tt.match)
		}
	}
}

// Registration order decides which of two overlapping routes wins.
func TestFirstRegistrationWins(t *testing.T) {
	r := New(nil)
	r.HandleFunc(httpwire.MethodGet, "/api/health", okHandler(`{"which":"exact"}`))
	r.HandleFunc(httpwire.MethodGet, "/api/*", okHandler(`{"which":"wildcard"}`))

	resp := r.Dispatch(context.Background(), parseRequest(t, "GET /api/health HTTP/1.1\r\n\r\n"))
	if !strings.Contains(string(resp.Encode()), `"exact"`) {
		t.Error("exact route registered first did not win")
	}

	resp = r.Dispatch(context.Background(), parseRequest(t, "GET /api/other HTTP/1.1\r\n\r\n"))
	if !strings.Contains(string(resp.Encode()), `"wildcard"`) {
		t.Error("wildcard route did not catch non-exact path")
	}
}

func TestOptionsPreflightShortCircuits(t *testing.T) {
	r := New(nil)
	called := false
	r.HandleFunc(httpwire.MethodOptions, "/anything", func(ctx context.Context, req *httpwire.Request, resp *httpwire.Response) error {
		called = true
		return nil
	})

	resp := r.Dispatch(context.Background(), parseRequest(t, "OPTIONS /anything HTTP/1.1\r\n\r\n"))
	if called {
		t.Error("OPTIONS must short-circuit before route matching")
	}
	if resp.Status() != 204 {
		t.Errorf("status = %d, want 204", resp.Status())
	}
	encoded := string(resp.Encode())
	if !strings.Contains(encoded, "Access-Control-Allow-Methods:") {
		t.Error("preflight missing allow-methods header")
	}
	if !strings.Contains(encoded, "Access-Control-Allow-Headers:") {
		t.Error("preflight missing allow-headers header")
	}
}

func TestNotFoundBody(t *testing.T) {
	r := New(nil)
	resp := r.Dispatch(context.Background(), parseRequest(t, "GET /nope HTTP/1.1\r\n\r\n"))
	if resp.Status() != 404 {
		t.Errorf("status = %d, want 404", resp.Status())
	}
	if !strings.Contains(string(resp.Encode()), `{"error":"Not Found"}`) {
		t.Error("404 body missing")
	}
}

func TestCORSHeaderOnEveryResponse(t *testing.T) {
	r := New(nil)
	r.HandleFunc(httpwire.MethodGet, "/health", okHandler(`{}`))

	for _, raw := range []string{
		"GET /health HTTP/1.1\r\n\r\n",
		"GET /missing HTTP/1.1\r\n\r\n",
		"OPTIONS /x HTTP/1.1\r\n\r\n",
	} {
		resp := r.Dispatch(context.Background(), parseRequest(t, raw))
		if !strings.Contains(string(resp.Encode()), "Access-Control-Allow-Origin: *\r\n") {
			t.Errorf("request %q response missing CORS origin header", raw)
		}
	}
}

// A handler error is logged but the response it built is still sent.
func TestHandlerErrorStillSendsResponse(t *testing.T) {
	r := New(nil)
	r.HandleFunc(httpwire.MethodGet, "/fail", func(ctx context.Context, req *httpwire.Request, resp *httpwire.Response) error {
		resp.SetStatus(502, "")
		resp.SetJSONString(`{"error":"upstream unavailable"}`)
		return errors.New("upstream unavailable")
	})

	resp := r.Dispatch(context.Background(), parseRequest(t, "GET /fail HTTP/1.1\r\n\r\n"))
	if resp.Status() != 502 {
		t.Errorf("status = %d, want 502", resp.Status())
	}
	if !strings.Contains(string(resp.Encode()), "upstream unavailable") {
		t.Error("error body missing")
	}
}
