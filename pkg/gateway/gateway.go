// Package gateway implements the daemon's core: a single-threaded epoll
// reactor that accepts connections, parses HTTP requests incrementally off
// raw socket bytes, hands completed requests to a bounded worker pool, and
// writes the responses back on the same sockets.
//
// All connection state is owned by the reactor goroutine. Workers never
// touch sockets; they return completions through a channel and wake the
// reactor via an eventfd registered in the epoll set.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"openclaw/gateway/pkg/config"
	"openclaw/gateway/pkg/httpwire"
	"openclaw/gateway/pkg/router"
	"openclaw/gateway/pkg/telemetry/metrics"
	"openclaw/gateway/pkg/ws"
)

// epollWaitMillis bounds each wait so the shutdown check runs even on an
// idle gateway.
const epollWaitMillis = 1000

// Options configures a Gateway.
type Options struct {
	// Config is a snapshot accessor; hot reloads apply between requests.
	Config func() *config.Config

	// Router produces responses for parsed requests.
	Router *router.Router

	// Logger receives structured reactor logs.
	Logger *slog.Logger

	// Metrics receives counters; nil disables recording.
	Metrics *metrics.Collector

	// Version is reported by the health endpoint.
	Version string
}

// Stats is a snapshot of the gateway's aggregate counters.
type Stats struct {
	Version           string
	StartTime         time.Time
	TotalRequests     uint64
	ActiveConnections int
}

// Gateway is the reactor aggregate: listening socket, epoll set, fd table,
// worker pool, and counters. Run drives everything from one goroutine.
type Gateway struct {
	cfg     func() *config.Config
	router  *router.Router
	logger  *slog.Logger
	metrics *metrics.Collector
	version string

	epfd     int
	listenFd int
	wakeFd   int
	table    connTable
	pool     *workerPool
	nextGen  uint64

	// pendingJobs holds parsed requests that did not fit in the worker
	// queue. Only the reactor touches it; entries are retried on each
	// completion wakeup as worker slots free up.
	pendingJobs []job

	totalRequests atomic.Uint64
	activeConns   atomic.Int64
	startTime     time.Time
}

// New creates a Gateway. Sockets are not opened until Run.
func New(opts Options) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		cfg:       opts.Config,
		router:    opts.Router,
		logger:    logger,
		metrics:   opts.Metrics,
		version:   opts.Version,
		epfd:      -1,
		listenFd:  -1,
		wakeFd:    -1,
		startTime: time.Now(),
	}
}

// Stats returns the counters the health endpoint reports. Safe to call from
// worker goroutines.
func (g *Gateway) Stats() Stats {
	return Stats{
		Version:           g.version,
		StartTime:         g.startTime,
		TotalRequests:     g.totalRequests.Load(),
		ActiveConnections: int(g.activeConns.Load()),
	}
}

// Run binds the listening socket and drives the reactor until ctx is
// canceled. SIGPIPE is ignored process-wide: writes to half-closed sockets
// must surface as I/O errors, not kill the process.
func (g *Gateway) Run(ctx context.Context) error {
	signal.Ignore(syscall.SIGPIPE)

	cfg := g.cfg()
	if g.listenFd < 0 {
		if err := g.Listen(); err != nil {
			return err
		}
	}
	defer g.closeAll()

	var err error
	g.epfd, err = unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fmt.Errorf("epoll_create1: %w", err)
	}
	g.wakeFd, err = unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return fmt.Errorf("eventfd: %w", err)
	}
	if err := g.addFd(g.listenFd, unix.EPOLLIN); err != nil {
		return err
	}
	if err := g.addFd(g.wakeFd, unix.EPOLLIN); err != nil {
		return err
	}

	g.pool = newWorkerPool(cfg.Gateway.Workers, g.wakeFd, g.dispatch, g.logger)
	g.startTime = time.Now()

	g.logger.Info("gateway listening",
		"bind", cfg.Gateway.Bind,
		"port", cfg.Gateway.Port,
		"workers", cfg.Gateway.Workers,
	)

	events := make([]unix.EpollEvent, 128)
	for ctx.Err() == nil {
		n, err := unix.EpollWait(g.epfd, events, epollWaitMillis)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("epoll_wait: %w", err)
		}
		for i := 0; i < n; i++ {
			g.handleEvent(ctx, int(events[i].Fd), events[i].Events)
		}
	}

	g.logger.Info("gateway shutting down")
	return nil
}

// dispatch runs on worker goroutines.
func (g *Gateway) dispatch(ctx context.Context, req *httpwire.Request) *httpwire.Response {
	return g.router.Dispatch(ctx, req)
}

// Listen opens the listening socket ahead of Run. Calling it separately is
// mainly useful when the configured port is 0 and the caller needs the
// kernel-assigned address, via Addr.
func (g *Gateway) Listen() error {
	cfg := g.cfg()
	return g.listen(cfg.Gateway.Bind, cfg.Gateway.Port, cfg.Gateway.Backlog)
}

// Addr returns the bound listen address. Valid only after Listen.
func (g *Gateway) Addr() (string, error) {
	if g.listenFd < 0 {
		return "", fmt.Errorf("gateway is not listening")
	}
	sa, err := unix.Getsockname(g.listenFd)
	if err != nil {
		return "", fmt.Errorf("getsockname: %w", err)
	}
	inet, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return "", fmt.Errorf("unexpected socket address type %T", sa)
	}
	ip := net.IPv4(inet.Addr[0], inet.Addr[1], inet.Addr[2], inet.Addr[3])
	return net.JoinHostPort(ip.String(), fmt.Sprintf("%d", inet.Port)), nil
}

// listen opens the non-blocking listening socket.
func (g *Gateway) listen(bind string, port, backlog int) error {
	ip := net.ParseIP(bind).To4()
	if ip == nil {
		return fmt.Errorf("bind address %q is not IPv4", bind)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return fmt.Errorf("SO_REUSEADDR: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		unix.Close(fd)
		return fmt.Errorf("SO_REUSEPORT: %w", err)
	}

	var addr unix.SockaddrInet4
	addr.Port = port
	copy(addr.Addr[:], ip)
	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return fmt.Errorf("bind %s:%d: %w", bind, port, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return fmt.Errorf("listen: %w", err)
	}

	g.listenFd = fd
	return nil
}

// handleEvent routes one epoll event.
func (g *Gateway) handleEvent(ctx context.Context, fd int, events uint32) {
	switch fd {
	case g.listenFd:
		g.acceptLoop()
	case g.wakeFd:
		drainWake(g.wakeFd)
		g.drainCompletions()
	default:
		c := g.table.get(fd)
		if c == nil {
			return
		}
		if events&(unix.EPOLLERR|unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
			g.teardown(c)
			return
		}
		if events&unix.EPOLLOUT != 0 {
			if !g.flushWrites(c) {
				return
			}
		}
		if events&unix.EPOLLIN != 0 {
			g.handleReadable(ctx, c)
		}
	}
}

// acceptLoop accepts until the listen socket drains.
func (g *Gateway) acceptLoop() {
	for {
		fd, _, err := unix.Accept4(g.listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			g.logger.Warn("accept failed", "error", err)
			return
		}

		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
			g.logger.Debug("TCP_NODELAY failed", "fd", fd, "error", err)
		}

		g.nextGen++
		c := newConn(fd, g.nextGen)
		g.table.put(c)

		if err := g.addFd(fd, unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLET); err != nil {
			g.logger.Warn("epoll add failed", "fd", fd, "error", err)
			g.table.remove(fd)
			unix.Close(fd)
			continue
		}

		g.activeConns.Add(1)
		if g.metrics != nil {
			g.metrics.ConnectionOpened()
		}
	}
}

// handleReadable drains the socket and advances whatever protocol the
// connection is speaking. During stateProcessing bytes still get read (the
// edge must not be lost) but nothing is parsed until the completion lands.
func (g *Gateway) handleReadable(ctx context.Context, c *conn) {
	res, err := c.read()
	if err != nil {
		if err != errRequestTooLarge {
			g.logger.Debug("connection read failed", "fd", c.fd, "error", err)
		}
		g.teardown(c)
		return
	}

	if !g.advance(ctx, c) {
		return
	}

	if res == readPeerClosed {
		g.teardown(c)
	}
}

// advance consumes buffered bytes according to the connection's state.
// Returns false when the connection was torn down.
func (g *Gateway) advance(ctx context.Context, c *conn) bool {
	for {
		switch c.state {
		case stateWebSocket:
			return g.advanceWebSocket(c)
		case stateProcessing:
			return true
		case stateReading:
			result, err := c.parser.Parse(c.buf)
			if err != nil {
				// Framing cannot be trusted; close without a response.
				if g.metrics != nil {
					g.metrics.RecordParseError()
				}
				g.logger.Debug("malformed request", "fd", c.fd, "error", err)
				g.teardown(c)
				return false
			}
			if result == httpwire.NeedMore {
				return true
			}
			if !g.dispatchRequest(ctx, c) {
				return false
			}
		}
	}
}

// dispatchRequest handles one complete parsed request: WebSocket upgrades
// run inline on the reactor (no upstream work), everything else goes to the
// worker pool. Returns false when the connection was torn down.
func (g *Gateway) dispatchRequest(ctx context.Context, c *conn) bool {
	g.totalRequests.Add(1)

	req := c.parser.Request()
	consumed := c.parser.Consumed()

	if req.Method == httpwire.MethodGet && ws.IsUpgrade(req) {
		resp := httpwire.NewResponse()
		ws.Upgrade(req, resp)
		if g.metrics != nil {
			g.metrics.RecordRequest(req.Path, resp.Status())
		}
		if !g.write(c, resp.Encode()) {
			return false
		}
		c.consume(consumed)
		c.state = stateWebSocket
		c.wsSession = uuid.NewString()
		g.logger.Info("websocket session opened", "fd", c.fd, "session", c.wsSession)
		return true
	}

	c.keepAlive = !req.Close
	c.state = stateProcessing
	c.consume(consumed)
	j := job{fd: c.fd, gen: c.gen, req: req}
	if !g.pool.trySubmit(j) {
		g.pendingJobs = append(g.pendingJobs, j)
	}
	return true
}

// flushPendingJobs moves overflowed jobs into freed worker slots, in arrival
// order. Jobs whose connection died in the meantime are dropped; the gen
// check keeps a reused fd from stealing them.
func (g *Gateway) flushPendingJobs() {
	for len(g.pendingJobs) > 0 {
		j := g.pendingJobs[0]
		if c := g.table.get(j.fd); c == nil || c.gen != j.gen {
			g.pendingJobs = g.pendingJobs[1:]
			continue
		}
		if !g.pool.trySubmit(j) {
			return
		}
		g.pendingJobs = g.pendingJobs[1:]
	}
	g.pendingJobs = nil
}

// advanceWebSocket decodes and answers buffered frames. Text and binary
// frames echo back; pings get pongs; a close frame ends the connection.
func (g *Gateway) advanceWebSocket(c *conn) bool {
	for {
		frame, n, err := ws.Decode(c.buf)
		if err == ws.ErrIncomplete {
			return true
		}
		if err != nil {
			g.logger.Debug("websocket protocol error", "fd", c.fd, "session", c.wsSession, "error", err)
			g.teardown(c)
			return false
		}
		c.consume(n)

		switch frame.Opcode {
		case ws.OpClose:
			g.write(c, ws.Encode(ws.Frame{Fin: true, Opcode: ws.OpClose}))
			g.teardown(c)
			return false
		case ws.OpPing:
			if !g.write(c, ws.Encode(ws.Frame{Fin: true, Opcode: ws.OpPong, Payload: frame.Payload})) {
				return false
			}
		case ws.OpText, ws.OpBinary:
			if !g.write(c, ws.Encode(ws.Frame{Fin: true, Opcode: frame.Opcode, Payload: frame.Payload})) {
				return false
			}
		}
	}
}

// drainCompletions applies every finished job to its connection, if that
// connection is still the one the job was created for. Each drained
// completion means a worker freed a queue slot, so overflowed jobs are
// retried here too.
func (g *Gateway) drainCompletions() {
	for {
		select {
		case comp := <-g.pool.completions:
			g.applyCompletion(comp)
			g.flushPendingJobs()
		default:
			g.flushPendingJobs()
			return
		}
	}
}

func (g *Gateway) applyCompletion(comp completion) {
	c := g.table.get(comp.fd)
	if c == nil || c.gen != comp.gen || c.state != stateProcessing {
		// The connection died or the fd was reused while the request
		// was in flight.
		return
	}

	if g.metrics != nil {
		g.metrics.RecordRequest(comp.path, comp.status)
	}

	if !g.write(c, comp.data) {
		return
	}

	if !c.keepAlive || !comp.keepAlive {
		if len(c.wbuf) > 0 {
			c.closeAfterFlush = true
			return
		}
		g.teardown(c)
		return
	}

	c.resetForKeepAlive()
	// Pipelined bytes may already hold the next request.
	g.advance(context.Background(), c)
}

// write sends data now if the socket will take it, otherwise buffers the
// remainder and arms EPOLLOUT. Returns false when the connection was torn
// down by a fatal write error.
func (g *Gateway) write(c *conn, data []byte) bool {
	if len(c.wbuf) > 0 {
		c.wbuf = append(c.wbuf, data...)
		return true
	}

	off := 0
	for off < len(data) {
		n, err := unix.Write(c.fd, data[off:])
		switch {
		case n > 0:
			off += n
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			c.wbuf = append(c.wbuf, data[off:]...)
			g.modFd(c.fd, unix.EPOLLIN|unix.EPOLLOUT|unix.EPOLLRDHUP|unix.EPOLLET)
			return true
		case err == unix.EINTR:
			continue
		default:
			g.logger.Debug("connection write failed", "fd", c.fd, "error", err)
			g.teardown(c)
			return false
		}
	}
	return true
}

// flushWrites drains the pending write buffer on EPOLLOUT. Returns false
// when the connection was torn down.
func (g *Gateway) flushWrites(c *conn) bool {
	off := 0
	for off < len(c.wbuf) {
		n, err := unix.Write(c.fd, c.wbuf[off:])
		switch {
		case n > 0:
			off += n
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			c.consumeWbuf(off)
			return true
		case err == unix.EINTR:
			continue
		default:
			g.teardown(c)
			return false
		}
	}
	c.wbuf = c.wbuf[:0]
	g.modFd(c.fd, unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLET)

	if c.closeAfterFlush {
		g.teardown(c)
		return false
	}
	return true
}

// teardown closes and forgets a connection. The table slot is nulled before
// the close so a reused fd can never alias a stale conn.
func (g *Gateway) teardown(c *conn) {
	if g.table.remove(c.fd) == nil {
		return // already gone
	}
	g.delFd(c.fd)
	unix.Close(c.fd)
	g.activeConns.Add(-1)
	if g.metrics != nil {
		g.metrics.ConnectionClosed()
	}
}

// closeAll tears down every live socket and the reactor's own fds.
func (g *Gateway) closeAll() {
	if g.pool != nil {
		g.pool.close()
	}
	g.table.each(func(c *conn) { g.teardown(c) })
	for _, fd := range []int{g.listenFd, g.wakeFd, g.epfd} {
		if fd >= 0 {
			unix.Close(fd)
		}
	}
	g.listenFd, g.wakeFd, g.epfd = -1, -1, -1
}

func (g *Gateway) addFd(fd int, events uint32) error {
	err := unix.EpollCtl(g.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: events, Fd: int32(fd)})
	if err != nil {
		return fmt.Errorf("epoll_ctl add fd %d: %w", fd, err)
	}
	return nil
}

func (g *Gateway) modFd(fd int, events uint32) {
	err := unix.EpollCtl(g.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Events: events, Fd: int32(fd)})
	if err != nil {
		g.logger.Warn("epoll_ctl mod failed", "fd", fd, "error", err)
	}
}

func (g *Gateway) delFd(fd int) {
	_ = unix.EpollCtl(g.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}
