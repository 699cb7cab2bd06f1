package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"openclaw/gateway/pkg/stream"
)

// Streaming client defaults.
const (
	defaultMaxRetries = 2
	defaultRetryDelay = 500 * time.Millisecond
	readChunkSize     = 4096
)

// StreamClient performs streaming completion calls against upstream
// providers. It retries transient failures that occur before any stream
// bytes are consumed; once the response body is being read, failures
// surface to the caller instead of restarting the stream.
type StreamClient struct {
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewStreamClient creates a client with pooled connections. Per-request
// deadlines come from the caller's context, not a client-wide timeout.
func NewStreamClient(logger *slog.Logger) *StreamClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamClient{
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
		logger:     logger,
	}
}

// Stream posts a completion request to endpoint and feeds the SSE response
// body into dec as it arrives. It returns once the stream ends, the context
// expires, or the call fails.
func (c *StreamClient) Stream(ctx context.Context, p Provider, endpoint, apiKey string, params Params, dec stream.Decoder) error {
	body, err := BuildBody(p, params)
	if err != nil {
		return &ProviderError{Provider: p.String(), Message: "encoding request body", Cause: err}
	}

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying upstream request",
				"provider", p.String(),
				"attempt", attempt,
			)
			select {
			case <-ctx.Done():
				return c.ctxError(ctx, p, start)
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}

		resp, err := c.send(ctx, p, endpoint, apiKey, body)
		if err != nil {
			if ctx.Err() != nil {
				return c.ctxError(ctx, p, start)
			}
			lastErr = &ProviderError{Provider: p.String(), Message: "request failed", Cause: err}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return c.consume(ctx, p, resp.Body, dec, start)
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			msg := readErrorBody(resp.Body)
			resp.Body.Close()
			return &AuthError{Provider: p.String(), Message: msg}
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			msg := readErrorBody(resp.Body)
			resp.Body.Close()
			lastErr = &ProviderError{Provider: p.String(), StatusCode: resp.StatusCode, Message: msg}
			continue
		default:
			msg := readErrorBody(resp.Body)
			resp.Body.Close()
			return &ProviderError{Provider: p.String(), StatusCode: resp.StatusCode, Message: msg}
		}
	}
	return lastErr
}

func (c *StreamClient) send(ctx context.Context, p Provider, endpoint, apiKey string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	switch p {
	case Anthropic:
		req.Header.Set("x-api-key", apiKey)
		req.Header.Set("anthropic-version", anthropicVersionHeader)
	case OpenAI:
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	return c.httpClient.Do(req)
}

// consume feeds the response body into dec chunk by chunk until EOF.
func (c *StreamClient) consume(ctx context.Context, p Provider, body io.ReadCloser, dec stream.Decoder, start time.Time) error {
	defer body.Close()

	buf := make([]byte, readChunkSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if ferr := dec.Feed(buf[:n]); ferr != nil {
				return &StreamError{Provider: p.String(), Message: "decoding stream", Cause: ferr}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return dec.Close()
			}
			if ctx.Err() != nil {
				return c.ctxError(ctx, p, start)
			}
			return &StreamError{Provider: p.String(), Message: "reading stream", Cause: err}
		}
	}
}

// ctxError maps a finished context to the matching typed error. start is
// when the call began, so a timeout reports how long it actually ran.
func (c *StreamClient) ctxError(ctx context.Context, p Provider, start time.Time) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Provider: p.String(), Elapsed: time.Since(start)}
	}
	return fmt.Errorf("upstream call canceled: %w", ctx.Err())
}

// readErrorBody extracts a short diagnostic from a non-200 response.
func readErrorBody(body io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(body, 2048))
	if err != nil || len(b) == 0 {
		return "no response body"
	}
	return string(b)
}
