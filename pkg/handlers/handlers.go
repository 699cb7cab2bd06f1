// Package handlers implements the gateway's HTTP endpoints: health,
// webhook chat, the OpenAI-compatible chat completions route, Prometheus
// exposition, and the bearer-token gate in front of them.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"openclaw/gateway/pkg/config"
	"openclaw/gateway/pkg/httpwire"
	"openclaw/gateway/pkg/providers"
	"openclaw/gateway/pkg/session"
	"openclaw/gateway/pkg/stream"
	"openclaw/gateway/pkg/telemetry/metrics"
)

// Deps bundles the collaborators handlers share. Config is an accessor
// rather than a snapshot so hot reloads apply to subsequent requests.
type Deps struct {
	Config  func() *config.Config
	Client  *providers.StreamClient
	Store   *session.Store // nil disables conversation persistence
	Metrics *metrics.Collector
	Logger  *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// completion is the aggregated result of one upstream streaming call.
type completion struct {
	text         string
	inputTokens  int
	outputTokens int
}

// complete runs one upstream streaming call to p and aggregates the SSE
// stream into a full completion. The configured upstream timeout bounds
// the whole call, stream consumption included.
func (d Deps) complete(ctx context.Context, p providers.Provider, params providers.Params) (completion, error) {
	cfg := d.Config()

	key, err := providers.ResolveKey(cfg, p)
	if err != nil {
		return completion{}, err
	}

	timeout := cfg.Gateway.UpstreamTimeout
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var (
		text      strings.Builder
		result    completion
		streamErr error
	)
	dec := providers.NewDecoder(p, stream.Events{
		OnText: func(s string) { text.WriteString(s) },
		OnDone: func(in, out int) {
			result.inputTokens = in
			result.outputTokens = out
		},
		OnError: func(msg string) {
			streamErr = fmt.Errorf("upstream stream error: %s", msg)
		},
	})

	start := time.Now()
	err = d.Client.Stream(ctx, p, providers.Endpoint(cfg, p), key, params, dec)
	if d.Metrics != nil {
		d.Metrics.RecordUpstream(p.String(), time.Since(start).Seconds())
	}
	if err != nil {
		return completion{}, err
	}
	if streamErr != nil {
		return completion{}, streamErr
	}

	if d.Metrics != nil {
		d.Metrics.RecordTokens(p.String(), result.inputTokens, result.outputTokens)
	}
	result.text = text.String()
	return result, nil
}

// upstreamStatus maps an upstream call failure to the HTTP status the
// gateway's caller should see. A missing local API key is the server's own
// misconfiguration; everything else is the upstream's fault.
func upstreamStatus(err error) int {
	var timeoutErr *providers.TimeoutError
	switch {
	case errors.Is(err, providers.ErrNoAPIKey):
		return 500
	case errors.As(err, &timeoutErr):
		return 504
	default:
		return 502
	}
}

// setError writes the plain {"error": ...} body used by the webhook and
// health family of routes.
func setError(resp *httpwire.Response, status int, message string) {
	resp.SetStatus(status, "")
	resp.SetJSON(map[string]string{"error": message})
}
