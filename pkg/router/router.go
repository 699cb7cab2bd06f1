// Package router matches requests against registered method+path patterns
// and produces the response for each dispatched request.
//
// Matching is first-registration-wins: routes are tried in the order they
// were added, so more specific patterns must be registered before broader
// wildcards.
package router

import (
	"context"
	"log/slog"
	"strings"

	"openclaw/gateway/pkg/httpwire"
)

// Handler produces a response for a matched request. Handlers set the
// response status themselves on failure; the returned error is for logging
// and the response is sent regardless.
type Handler interface {
	Handle(ctx context.Context, req *httpwire.Request, resp *httpwire.Response) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, req *httpwire.Request, resp *httpwire.Response) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, req *httpwire.Request, resp *httpwire.Response) error {
	return f(ctx, req, resp)
}

type route struct {
	method  httpwire.Method
	pattern string
	handler Handler
}

// Router dispatches requests to handlers. Routes are registered at startup
// and immutable afterwards; Dispatch itself is safe for concurrent use.
type Router struct {
	routes []route
	logger *slog.Logger
}

// New creates an empty router.
func New(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{logger: logger}
}

// Handle registers a route. Patterns are exact paths or a prefix ending in
// "*" which matches any path with that prefix.
func (r *Router) Handle(method httpwire.Method, pattern string, h Handler) {
	r.routes = append(r.routes, route{method: method, pattern: pattern, handler: h})
}

// HandleFunc registers a function as a route handler.
func (r *Router) HandleFunc(method httpwire.Method, pattern string, f HandlerFunc) {
	r.Handle(method, pattern, f)
}

// Dispatch produces the response for req. OPTIONS requests short-circuit
// into a CORS preflight response before any route matching. Every response
// carries Access-Control-Allow-Origin so browser clients can call the
// gateway directly.
func (r *Router) Dispatch(ctx context.Context, req *httpwire.Request) *httpwire.Response {
	resp := httpwire.NewResponse()
	resp.AddHeader("Access-Control-Allow-Origin", "*")

	if req.Method == httpwire.MethodOptions {
		resp.SetStatus(204, "")
		resp.AddHeader("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		resp.AddHeader("Access-Control-Allow-Headers", "Content-Type, Authorization")
		return resp
	}

	for _, rt := range r.routes {
		if rt.method != req.Method || !matchPattern(rt.pattern, req.Path) {
			continue
		}
		if err := rt.handler.Handle(ctx, req, resp); err != nil {
			r.logger.Warn("handler failed",
				"method", req.Method.String(),
				"path", req.Path,
				"status", resp.Status(),
				"error", err,
			)
		}
		return resp
	}

	resp.SetStatus(404, "")
	resp.SetJSONString(`{"error":"Not Found"}`)
	return resp
}

// matchPattern matches an exact path or a trailing-wildcard prefix.
func matchPattern(pattern, path string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(path, prefix)
	}
	return pattern == path
}
