// Package metrics provides Prometheus instrumentation for the gateway.
//
// Unlike a net/http based server, the gateway serves its own wire format,
// so exposition goes through Render rather than promhttp.
package metrics

import (
	"bytes"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Collector owns the gateway's Prometheus registry and metric instances.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal     *prometheus.CounterVec
	activeConnections prometheus.Gauge
	upstreamDuration  *prometheus.HistogramVec
	upstreamTokens    *prometheus.CounterVec
	parseErrorsTotal  prometheus.Counter
}

// NewCollector creates a collector with all gateway metrics registered.
// If registry is nil a fresh registry is used.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "openclaw",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Total HTTP requests dispatched, by route pattern and status code.",
		}, []string{"route", "status"}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "openclaw",
			Subsystem: "gateway",
			Name:      "active_connections",
			Help:      "Currently open client connections.",
		}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "openclaw",
			Subsystem: "gateway",
			Name:      "upstream_request_duration_seconds",
			Help:      "Latency of upstream provider calls.",
			// LLM latencies run from sub-second to tens of seconds.
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
		}, []string{"provider"}),
		upstreamTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "openclaw",
			Subsystem: "gateway",
			Name:      "upstream_tokens_total",
			Help:      "Token counts reported by upstream providers.",
		}, []string{"provider", "direction"}),
		parseErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "openclaw",
			Subsystem: "gateway",
			Name:      "parse_errors_total",
			Help:      "Connections torn down due to malformed HTTP requests.",
		}),
	}

	registry.MustRegister(
		c.requestsTotal,
		c.activeConnections,
		c.upstreamDuration,
		c.upstreamTokens,
		c.parseErrorsTotal,
	)

	return c
}

// RecordRequest records a dispatched request.
func (c *Collector) RecordRequest(route string, status int) {
	c.requestsTotal.WithLabelValues(route, fmt.Sprintf("%d", status)).Inc()
}

// ConnectionOpened increments the active connection gauge.
func (c *Collector) ConnectionOpened() {
	c.activeConnections.Inc()
}

// ConnectionClosed decrements the active connection gauge.
func (c *Collector) ConnectionClosed() {
	c.activeConnections.Dec()
}

// RecordUpstream records the latency of one upstream call.
func (c *Collector) RecordUpstream(provider string, seconds float64) {
	c.upstreamDuration.WithLabelValues(provider).Observe(seconds)
}

// RecordTokens records token usage reported by a provider.
func (c *Collector) RecordTokens(provider string, inputTokens, outputTokens int) {
	c.upstreamTokens.WithLabelValues(provider, "input").Add(float64(inputTokens))
	c.upstreamTokens.WithLabelValues(provider, "output").Add(float64(outputTokens))
}

// RecordParseError counts a connection killed by a malformed request.
func (c *Collector) RecordParseError() {
	c.parseErrorsTotal.Inc()
}

// Render returns the registry contents in Prometheus text exposition format.
func (c *Collector) Render() ([]byte, error) {
	families, err := c.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}

	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return nil, fmt.Errorf("encode metric family %q: %w", mf.GetName(), err)
		}
	}
	return buf.Bytes(), nil
}
