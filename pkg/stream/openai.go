package stream

import (
	"bytes"
	"encoding/json"
	"log/slog"
)

// OpenAI SSE framing: only "data: <json>" lines, with a literal
// "data: [DONE]" sentinel ending the stream. Usage appears on a late chunk
// when the caller requested stream_options.include_usage; streams without it
// finish with zero token counts.

// openaiChunk is the subset of OpenAI's chat.completion.chunk schema the
// gateway consumes.
type openaiChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// OpenAIDecoder incrementally decodes OpenAI chat-completions SSE streams.
type OpenAIDecoder struct {
	events Events
	lines  lineBuffer

	promptTokens     int
	completionTokens int
	done             bool
}

// NewOpenAIDecoder creates a decoder emitting into ev.
func NewOpenAIDecoder(ev Events) *OpenAIDecoder {
	return &OpenAIDecoder{events: ev}
}

// Feed implements Decoder.
func (d *OpenAIDecoder) Feed(p []byte) error {
	d.lines.append(p)
	for {
		line, ok := d.lines.next()
		if !ok {
			return nil
		}
		d.processLine(line)
	}
}

// Close implements Decoder.
func (d *OpenAIDecoder) Close() error {
	if line := d.lines.rest(); len(line) > 0 {
		d.processLine(line)
	}
	return nil
}

var openaiDone = []byte("[DONE]")

func (d *OpenAIDecoder) processLine(line []byte) {
	if !bytes.HasPrefix(line, ssePrefixData) {
		// Blank lines, comments, and event fields are skipped.
		return
	}
	data := line[len(ssePrefixData):]

	if bytes.Equal(data, openaiDone) {
		if !d.done {
			d.done = true
			d.events.emitDone(d.promptTokens, d.completionTokens)
		}
		return
	}

	var chunk openaiChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		slog.Debug("skipping malformed openai stream line", "error", err)
		return
	}

	if chunk.Error != nil {
		d.events.emitError(chunk.Error.Message)
		return
	}

	if chunk.Usage != nil {
		d.promptTokens = chunk.Usage.PromptTokens
		d.completionTokens = chunk.Usage.CompletionTokens
	}

	if len(chunk.Choices) > 0 {
		d.events.emitText(chunk.Choices[0].Delta.Content)
	}
}
