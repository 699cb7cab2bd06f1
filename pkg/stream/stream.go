// Package stream decodes upstream SSE byte streams incrementally.
//
// Upstream chunks arrive at arbitrary byte boundaries, never aligned to SSE
// event boundaries, so each decoder buffers input, consumes complete
// newline-terminated lines from the front, and retains the trailing partial
// line for the next Feed call. Feeding a stream one byte at a time produces
// exactly the same callbacks as feeding it whole.
package stream

import "bytes"

// Events receives the unified semantic events decoded from a provider
// stream. Nil callbacks are skipped.
type Events struct {
	// OnText receives each text delta as it arrives.
	OnText func(text string)

	// OnDone receives final token counts when the stream completes.
	OnDone func(inputTokens, outputTokens int)

	// OnError receives an error message reported in-band by the provider.
	OnError func(message string)
}

func (e Events) emitText(text string) {
	if e.OnText != nil && text != "" {
		e.OnText(text)
	}
}

func (e Events) emitDone(inputTokens, outputTokens int) {
	if e.OnDone != nil {
		e.OnDone(inputTokens, outputTokens)
	}
}

func (e Events) emitError(message string) {
	if e.OnError != nil {
		e.OnError(message)
	}
}

// Decoder consumes raw SSE bytes and emits semantic events.
type Decoder interface {
	// Feed appends raw bytes and processes every complete line they form.
	Feed(p []byte) error

	// Close flushes any buffered final line. Call once at end of stream.
	Close() error
}

// lineBuffer accumulates bytes and yields complete lines. CR before the
// terminating LF is stripped. The trailing partial line stays buffered.
type lineBuffer struct {
	buf []byte
}

func (lb *lineBuffer) append(p []byte) {
	lb.buf = append(lb.buf, p...)
}

// next returns the next complete line and true, or nil and false when no
// full line is buffered.
func (lb *lineBuffer) next() ([]byte, bool) {
	i := bytes.IndexByte(lb.buf, '\n')
	if i < 0 {
		return nil, false
	}
	line := lb.buf[:i]
	lb.buf = lb.buf[i+1:]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line, true
}

// rest drains whatever remains without a newline terminator.
func (lb *lineBuffer) rest() []byte {
	line := lb.buf
	lb.buf = nil
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line
}
