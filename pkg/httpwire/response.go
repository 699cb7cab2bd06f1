package httpwire

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Response builds an HTTP/1.1 response as a single framed byte slice.
// Content-Length is always computed and emitted; the gateway never chunks.
type Response struct {
	status  int
	reason  string
	headers []Header
	body    []byte
}

// NewResponse returns a builder primed with 200 OK and no headers.
func NewResponse() *Response {
	return &Response{status: 200, reason: "OK"}
}

// Status returns the current status code.
func (r *Response) Status() int { return r.status }

// SetStatus sets the status code and reason phrase. An empty reason falls
// back to the standard phrase for the code.
func (r *Response) SetStatus(code int, reason string) {
	if reason == "" {
		reason = ReasonPhrase(code)
	}
	r.status = code
	r.reason = reason
}

// AddHeader appends a header. Order is preserved in the output.
func (r *Response) AddHeader(key, value string) {
	r.headers = append(r.headers, Header{Key: key, Value: value})
}

// SetBody replaces the response body.
func (r *Response) SetBody(body []byte) {
	r.body = body
}

// SetJSON marshals v as the body and sets the JSON content type.
func (r *Response) SetJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal response body: %w", err)
	}
	r.AddHeader("Content-Type", "application/json")
	r.SetBody(data)
	return nil
}

// SetJSONString sets a pre-encoded JSON body.
func (r *Response) SetJSONString(s string) {
	r.AddHeader("Content-Type", "application/json")
	r.SetBody([]byte(s))
}

// Encode frames the response for a single write: status line, accumulated
// headers, Content-Length, blank line, body. Statuses that cannot carry a
// body (1xx, 204, 304) are framed without Content-Length or body, per
// RFC 7230 section 3.3.2.
func (r *Response) Encode() []byte {
	// Preallocate: status line + headers + Content-Length + body.
	size := len("HTTP/1.1 999 ") + len(r.reason) + 2
	for _, h := range r.headers {
		size += len(h.Key) + len(h.Value) + 4
	}
	size += len("Content-Length: \r\n\r\n") + 20 + len(r.body)

	buf := make([]byte, 0, size)
	buf = append(buf, "HTTP/1.1 "...)
	buf = strconv.AppendInt(buf, int64(r.status), 10)
	buf = append(buf, ' ')
	buf = append(buf, r.reason...)
	buf = append(buf, "\r\n"...)
	for _, h := range r.headers {
		buf = append(buf, h.Key...)
		buf = append(buf, ": "...)
		buf = append(buf, h.Value...)
		buf = append(buf, "\r\n"...)
	}
	if bodiless(r.status) {
		buf = append(buf, "\r\n"...)
		return buf
	}
	buf = append(buf, "Content-Length: "...)
	buf = strconv.AppendInt(buf, int64(len(r.body)), 10)
	buf = append(buf, "\r\n\r\n"...)
	buf = append(buf, r.body...)
	return buf
}

// bodiless reports whether status forbids a message body.
func bodiless(status int) bool {
	return status < 200 || status == 204 || status == 304
}

// ReasonPhrase returns the standard reason phrase for code, or "Unknown"
// when there is none.
func ReasonPhrase(code int) string {
	switch code {
	case 101:
		return "Switching Protocols"
	case 200:
		return "OK"
	case 204:
		return "No Content"
	case 304:
		return "Not Modified"
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 500:
		return "Internal Server Error"
	case 502:
		return "Bad Gateway"
	case 504:
		return "Gateway Timeout"
	default:
		return "Unknown"
	}
}
