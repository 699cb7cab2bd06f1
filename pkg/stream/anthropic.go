package stream

import (
	"bytes"
	"encoding/json"
	"log/slog"
)

// Anthropic SSE framing: "event: <type>" and "data: <json>" lines. Deltas
// arrive as content_block_delta events; usage arrives split across
// message_start (input tokens) and message_delta (output tokens);
// message_stop ends the stream.

// anthropicEvent is the subset of Anthropic's stream event schema the
// gateway consumes.
type anthropicEvent struct {
	Type    string `json:"type"`
	Message *struct {
		Usage anthropicUsage `json:"usage"`
	} `json:"message,omitempty"`
	Delta json.RawMessage `json:"delta,omitempty"`
	Usage *anthropicUsage `json:"usage,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// anthropicContentDelta is the delta payload of a content_block_delta event.
type anthropicContentDelta struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// AnthropicDecoder incrementally decodes Anthropic messages-API SSE streams.
type AnthropicDecoder struct {
	events Events
	lines  lineBuffer

	// eventType is the most recent "event:" field, used when a data
	// line's JSON omits its own type.
	eventType string

	inputTokens  int
	outputTokens int
	done         bool
}

// NewAnthropicDecoder creates a decoder emitting into ev.
func NewAnthropicDecoder(ev Events) *AnthropicDecoder {
	return &AnthropicDecoder{events: ev}
}

// Feed implements Decoder.
func (d *AnthropicDecoder) Feed(p []byte) error {
	d.lines.append(p)
	for {
		line, ok := d.lines.next()
		if !ok {
			return nil
		}
		d.processLine(line)
	}
}

// Close implements Decoder, handling a final line without a trailing newline.
func (d *AnthropicDecoder) Close() error {
	if line := d.lines.rest(); len(line) > 0 {
		d.processLine(line)
	}
	return nil
}

var (
	ssePrefixEvent = []byte("event: ")
	ssePrefixData  = []byte("data: ")
)

func (d *AnthropicDecoder) processLine(line []byte) {
	switch {
	case len(line) == 0:
		// Blank line ends an SSE event; the pending type no longer
		// applies to subsequent data lines.
		d.eventType = ""
	case bytes.HasPrefix(line, ssePrefixEvent):
		d.eventType = string(line[len(ssePrefixEvent):])
	case bytes.HasPrefix(line, ssePrefixData):
		d.processData(line[len(ssePrefixData):])
	}
	// Other SSE fields (id, retry, comments) are ignored.
}

func (d *AnthropicDecoder) processData(data []byte) {
	var event anthropicEvent
	if err := json.Unmarshal(data, &event); err != nil {
		// Providers emit heartbeats and occasionally garbled lines;
		// skipping is the correct degradation.
		slog.Debug("skipping malformed anthropic stream line", "error", err)
		return
	}

	eventType := event.Type
	if eventType == "" {
		eventType = d.eventType
	}

	switch eventType {
	case "content_block_delta":
		var delta anthropicContentDelta
		if err := json.Unmarshal(event.Delta, &delta); err != nil {
			slog.Debug("skipping malformed content delta", "error", err)
			return
		}
		d.events.emitText(delta.Text)

	case "message_start":
		if event.Message != nil {
			d.inputTokens = event.Message.Usage.InputTokens
			if event.Message.Usage.OutputTokens > 0 {
				d.outputTokens = event.Message.Usage.OutputTokens
			}
		}

	case "message_delta":
		if event.Usage != nil {
			if event.Usage.InputTokens > 0 {
				d.inputTokens = event.Usage.InputTokens
			}
			if event.Usage.OutputTokens > 0 {
				d.outputTokens = event.Usage.OutputTokens
			}
		}

	case "message_stop":
		// Some stream variants attach final usage to the stop event.
		if event.Usage != nil {
			if event.Usage.InputTokens > 0 {
				d.inputTokens = event.Usage.InputTokens
			}
			if event.Usage.OutputTokens > 0 {
				d.outputTokens = event.Usage.OutputTokens
			}
		}
		if !d.done {
			d.done = true
			d.events.emitDone(d.inputTokens, d.outputTokens)
		}

	case "error":
		if event.Error != nil {
			d.events.emitError(event.Error.Message)
		}

	default:
		// Unrecognized event types (ping, content_block_start, ...)
		// are ignored, not errors.
	}
}
