// Package httpwire implements the gateway's byte-level HTTP/1.1 wire
// handling: an incremental request parser that operates on partial reads and
// a response builder that emits a single framed write.
//
// The parser never assumes a read boundary lines up with a protocol
// boundary. Callers append raw socket bytes to a buffer and re-run Parse
// until it reports completion; the simplest correct resumption strategy is
// to re-scan from the buffer start each attempt, which is acceptable because
// buffers are bounded by MaxBodyLen.
package httpwire

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Method is the HTTP request method.
type Method int

// Supported methods. Anything else parses as MethodUnknown rather than
// failing, so routing can produce a clean 404.
const (
	MethodGet Method = iota
	MethodPost
	MethodPut
	MethodDelete
	MethodOptions
	MethodHead
	MethodUnknown
)

// String returns the canonical method token.
func (m Method) String() string {
	switch m {
	case MethodGet:
		return "GET"
	case MethodPost:
		return "POST"
	case MethodPut:
		return "PUT"
	case MethodDelete:
		return "DELETE"
	case MethodOptions:
		return "OPTIONS"
	case MethodHead:
		return "HEAD"
	default:
		return "UNKNOWN"
	}
}

// ParseMethod maps a request-line token to a Method.
func ParseMethod(token string) Method {
	switch token {
	case "GET":
		return MethodGet
	case "POST":
		return MethodPost
	case "PUT":
		return MethodPut
	case "DELETE":
		return MethodDelete
	case "OPTIONS":
		return MethodOptions
	case "HEAD":
		return MethodHead
	default:
		return MethodUnknown
	}
}

// Wire limits. Oversized header keys and values are truncated, not
// rejected; oversized URLs and bodies are hard errors.
const (
	MaxHeaders        = 64
	MaxHeaderKeyLen   = 256
	MaxHeaderValueLen = 512
	MaxURLLen         = 2048
	MaxBodyLen        = 1 << 20 // 1 MiB
)

// Header is one request header pair. Order is preserved from the wire.
type Header struct {
	Key   string
	Value string
}

// Request is a fully parsed HTTP request.
type Request struct {
	Method        Method
	URL           string
	Path          string
	Query         string
	Headers       []Header
	Body          []byte
	ContentLength int

	// Close is true when the request carried "Connection: close".
	Close bool
}

// Header returns the first header value whose key matches case-insensitively.
func (r *Request) Header(key string) (string, bool) {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Key, key) {
			return h.Value, true
		}
	}
	return "", false
}

// Reset clears the request for reuse on a keep-alive connection, retaining
// the headers slice capacity.
func (r *Request) Reset() {
	r.Method = MethodUnknown
	r.URL = ""
	r.Path = ""
	r.Query = ""
	r.Headers = r.Headers[:0]
	r.Body = nil
	r.ContentLength = 0
	r.Close = false
}

// Result reports parser progress.
type Result int

const (
	// NeedMore means the buffer does not yet hold a complete request.
	NeedMore Result = iota
	// Complete means the parser produced a full request.
	Complete
)

// ParseState tracks which phase the parser is in, mirroring the owning
// connection's state field.
type ParseState int

const (
	// StateHeaders means the header terminator has not been seen yet.
	StateHeaders ParseState = iota
	// StateBody means headers parsed; waiting on Content-Length bytes.
	StateBody
)

var crlfcrlf = []byte("\r\n\r\n")

// ErrMalformed is wrapped by all parse failures. A connection receiving a
// malformed request must be torn down without a response, since framing can
// no longer be trusted.
var ErrMalformed = fmt.Errorf("malformed HTTP request")

// Parser converts accumulated connection bytes into a Request. The zero
// value is ready to use.
type Parser struct {
	state    ParseState
	req      Request
	consumed int
}

// State returns the current parse phase.
func (p *Parser) State() ParseState { return p.state }

// Consumed returns how many buffer bytes the completed request occupied.
// Bytes past that belong to the next request on a keep-alive connection.
// Valid only after Parse reports Complete.
func (p *Parser) Consumed() int { return p.consumed }

// Request returns the parsed request. Valid only after Parse reports
// Complete.
func (p *Parser) Request() *Request { return &p.req }

// Reset prepares the parser for the next request on the same connection.
func (p *Parser) Reset() {
	p.state = StateHeaders
	p.consumed = 0
	p.req.Reset()
}

// Parse attempts to produce a complete request from buf, which must contain
// every byte received on the connection since the last Reset. It returns
// NeedMore when more bytes are required, Complete when p.Request() is fully
// populated, or an error when the bytes cannot be a valid request.
func (p *Parser) Parse(buf []byte) (Result, error) {
	headerEnd := bytes.Index(buf, crlfcrlf)
	if headerEnd < 0 {
		if p.state == StateBody {
			// The terminator was present on a previous attempt; the
			// caller handed us a different buffer.
			return NeedMore, fmt.Errorf("%w: header terminator lost", ErrMalformed)
		}
		return NeedMore, nil
	}
	headerSize := headerEnd + len(crlfcrlf)

	if p.state == StateHeaders {
		if err := p.parseHeaderBlock(buf[:headerEnd]); err != nil {
			return NeedMore, err
		}
		if p.req.ContentLength == 0 {
			p.consumed = headerSize
			return Complete, nil
		}
		if p.req.ContentLength > MaxBodyLen {
			return NeedMore, fmt.Errorf("%w: declared body of %d bytes exceeds limit", ErrMalformed, p.req.ContentLength)
		}
		p.state = StateBody
	}

	available := len(buf) - headerSize
	if available < p.req.ContentLength {
		return NeedMore, nil
	}

	// Copy exactly ContentLength bytes; anything beyond belongs to the
	// next request on a keep-alive connection.
	body := make([]byte, p.req.ContentLength)
	copy(body, buf[headerSize:headerSize+p.req.ContentLength])
	p.req.Body = body
	p.consumed = headerSize + p.req.ContentLength
	return Complete, nil
}

// parseHeaderBlock parses the request line and header lines in block, which
// excludes the CRLFCRLF terminator.
func (p *Parser) parseHeaderBlock(block []byte) error {
	lineEnd := bytes.Index(block, []byte("\r\n"))
	var requestLine, rest []byte
	if lineEnd < 0 {
		requestLine = block
	} else {
		requestLine = block[:lineEnd]
		rest = block[lineEnd+2:]
	}

	space1 := bytes.IndexByte(requestLine, ' ')
	if space1 < 0 {
		return fmt.Errorf("%w: request line has no method", ErrMalformed)
	}
	p.req.Method = ParseMethod(string(requestLine[:space1]))

	afterMethod := requestLine[space1+1:]
	space2 := bytes.IndexByte(afterMethod, ' ')
	if space2 < 0 {
		return fmt.Errorf("%w: request line has no version", ErrMalformed)
	}
	rawURL := afterMethod[:space2]
	if len(rawURL) >= MaxURLLen {
		return fmt.Errorf("%w: URL exceeds %d bytes", ErrMalformed, MaxURLLen)
	}
	p.req.URL = string(rawURL)

	// The HTTP version token is accepted but not interpreted; the
	// gateway speaks 1.1 semantics regardless.

	if q := strings.IndexByte(p.req.URL, '?'); q >= 0 {
		p.req.Path = p.req.URL[:q]
		p.req.Query = p.req.URL[q+1:]
	} else {
		p.req.Path = p.req.URL
		p.req.Query = ""
	}

	p.parseHeaderLines(rest)

	if cl, ok := p.req.Header("Content-Length"); ok {
		p.req.ContentLength = parseContentLength(cl)
	}
	if conn, ok := p.req.Header("Connection"); ok && strings.EqualFold(conn, "close") {
		p.req.Close = true
	}

	return nil
}

func (p *Parser) parseHeaderLines(rest []byte) {
	for len(rest) > 0 && len(p.req.Headers) < MaxHeaders {
		var line []byte
		if i := bytes.Index(rest, []byte("\r\n")); i >= 0 {
			line = rest[:i]
			rest = rest[i+2:]
		} else {
			line = rest
			rest = nil
		}
		if len(line) == 0 {
			continue
		}

		colon := bytes.IndexByte(line, ':')
		if colon < 0 {
			// Lines without a colon are skipped, not fatal.
			continue
		}

		key := line[:colon]
		value := line[colon+1:]
		for len(value) > 0 && value[0] == ' ' {
			value = value[1:]
		}

		// Oversized fields are silently truncated to their caps. This
		// tolerance is deliberate and pinned by tests.
		if len(key) > MaxHeaderKeyLen {
			key = key[:MaxHeaderKeyLen]
		}
		if len(value) > MaxHeaderValueLen {
			value = value[:MaxHeaderValueLen]
		}

		p.req.Headers = append(p.req.Headers, Header{
			Key:   string(key),
			Value: string(value),
		})
	}
}

// parseContentLength reads a leading decimal, tolerating trailing garbage
// the way atol does. Invalid values come back as 0.
func parseContentLength(s string) int {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}
