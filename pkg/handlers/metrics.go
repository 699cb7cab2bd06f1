package handlers

import (
	"context"

	"openclaw/gateway/pkg/httpwire"
	"openclaw/gateway/pkg/router"
	"openclaw/gateway/pkg/telemetry/metrics"
)

// Metrics renders the Prometheus registry in text exposition format.
func Metrics(collector *metrics.Collector) router.HandlerFunc {
	return func(ctx context.Context, req *httpwire.Request, resp *httpwire.Response) error {
		body, err := collector.Render()
		if err != nil {
			setError(resp, 500, "metrics rendering failed")
			return err
		}
		resp.AddHeader("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		resp.SetBody(body)
		return nil
	}
}
