package handlers

import (
	"context"
	"time"

	"openclaw/gateway/pkg/httpwire"
	"openclaw/gateway/pkg/router"
)

// Stats is a snapshot of the gateway's aggregate counters.
type Stats struct {
	Version           string
	StartTime         time.Time
	TotalRequests     uint64
	ActiveConnections int
}

type healthBody struct {
	Status            string `json:"status"`
	Version           string `json:"version"`
	UptimeSeconds     int64  `json:"uptime_seconds"`
	TotalRequests     uint64 `json:"total_requests"`
	ActiveConnections int    `json:"active_connections"`
}

// Health reports liveness and the gateway's counters. The request counter
// is incremented before dispatch, so a health probe counts itself.
func Health(stats func() Stats) router.HandlerFunc {
	return func(ctx context.Context, req *httpwire.Request, resp *httpwire.Response) error {
		s := stats()
		return resp.SetJSON(healthBody{
			Status:            "ok",
			Version:           s.Version,
			UptimeSeconds:     int64(time.Since(s.StartTime).Seconds()),
			TotalRequests:     s.TotalRequests,
			ActiveConnections: s.ActiveConnections,
		})
	}
}
