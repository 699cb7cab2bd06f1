package gateway

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"openclaw/gateway/pkg/httpwire"
)

// Buffer sizing. Read buffers start small and double up to the ceiling;
// the ceiling doubles as the request-size limit since a request must be
// fully buffered before dispatch.
const (
	initialReadBuffer = 8 * 1024
	maxReadBuffer     = httpwire.MaxBodyLen + 64*1024
)

// connState tracks where a connection is in its request lifecycle.
type connState int

const (
	// stateReading means the reactor feeds socket bytes to the parser.
	stateReading connState = iota
	// stateProcessing means a request is in flight on the worker pool;
	// no further parsing happens until its completion is delivered.
	stateProcessing
	// stateWebSocket means the connection was upgraded and now speaks
	// WebSocket framing instead of HTTP.
	stateWebSocket
)

// readResult distinguishes the three ways a non-blocking read can stop.
type readResult int

const (
	// readWouldBlock means the socket is drained; wait for the next event.
	readWouldBlock readResult = iota
	// readPeerClosed means the peer shut down its end.
	readPeerClosed
	// readFatal means an unrecoverable socket error.
	readFatal
)

// errRequestTooLarge tears the connection down when buffered bytes hit the
// read-buffer ceiling without completing a request.
var errRequestTooLarge = errors.New("request exceeds buffer ceiling")

// conn owns all per-socket state. Exactly one live conn exists per fd, and
// only the reactor goroutine touches it; workers reference it opaquely
// through completions that are validated against the fd table before use.
type conn struct {
	fd  int
	gen uint64 // fd reuse guard for in-flight completions

	state           connState
	buf             []byte // unparsed inbound bytes
	wbuf            []byte // outbound bytes the socket would not take yet
	parser          httpwire.Parser
	keepAlive       bool
	closeAfterFlush bool
	connectedAt     time.Time
	wsSession       string
}

func newConn(fd int, gen uint64) *conn {
	return &conn{
		fd:          fd,
		gen:         gen,
		buf:         make([]byte, 0, initialReadBuffer),
		keepAlive:   true,
		connectedAt: time.Now(),
	}
}

// read drains the socket until EAGAIN, growing the buffer geometrically.
// The returned error is non-nil only for readFatal.
func (c *conn) read() (readResult, error) {
	for {
		if len(c.buf) == cap(c.buf) {
			if err := c.grow(); err != nil {
				return readFatal, err
			}
		}
		n, err := unix.Read(c.fd, c.buf[len(c.buf):cap(c.buf)])
		switch {
		case n > 0:
			c.buf = c.buf[:len(c.buf)+n]
		case n == 0 && err == nil:
			return readPeerClosed, nil
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			return readWouldBlock, nil
		case err == unix.EINTR:
			continue
		default:
			return readFatal, fmt.Errorf("read fd %d: %w", c.fd, err)
		}
	}
}

// grow doubles buffer capacity, clamped to the ceiling.
func (c *conn) grow() error {
	if cap(c.buf) >= maxReadBuffer {
		return errRequestTooLarge
	}
	newCap := cap(c.buf) * 2
	if newCap > maxReadBuffer {
		newCap = maxReadBuffer
	}
	grown := make([]byte, len(c.buf), newCap)
	copy(grown, c.buf)
	c.buf = grown
	return nil
}

// consume drops the first n buffered bytes, keeping capacity for reuse.
func (c *conn) consume(n int) {
	remaining := copy(c.buf, c.buf[n:])
	c.buf = c.buf[:remaining]
}

// consumeWbuf drops the first n pending write bytes.
func (c *conn) consumeWbuf(n int) {
	remaining := copy(c.wbuf, c.wbuf[n:])
	c.wbuf = c.wbuf[:remaining]
}

// resetForKeepAlive prepares the connection for its next request without
// releasing buffer capacity.
func (c *conn) resetForKeepAlive() {
	c.state = stateReading
	c.parser.Reset()
}
