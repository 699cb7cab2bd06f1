package gateway

import (
	"context"
	"encoding/binary"
	"log/slog"
	"sync"

	"golang.org/x/sys/unix"

	"openclaw/gateway/pkg/httpwire"
)

// job is one parsed request handed off the reactor thread. The request
// pointer stays valid because the owning connection is parked in
// stateProcessing until this job's completion comes back.
type job struct {
	fd  int
	gen uint64
	req *httpwire.Request
}

// completion is a finished job's response, delivered back to the reactor.
// The fd/gen pair is re-validated against the fd table before any bytes are
// written, so a connection torn down mid-flight is simply dropped.
type completion struct {
	fd        int
	gen       uint64
	data      []byte
	status    int
	path      string
	keepAlive bool
}

// workerPool runs handler dispatch off the reactor thread. Handlers block
// on upstream AI calls, so parking them here keeps one slow provider from
// stalling every other connection.
type workerPool struct {
	jobs        chan job
	completions chan completion
	dispatch    func(ctx context.Context, req *httpwire.Request) *httpwire.Response
	wakeFd      int
	logger      *slog.Logger
	wg          sync.WaitGroup
}

// newWorkerPool starts n workers. wakeFd is an eventfd registered in the
// reactor's epoll set; writing to it wakes the reactor to drain completions.
func newWorkerPool(n int, wakeFd int, dispatch func(context.Context, *httpwire.Request) *httpwire.Response, logger *slog.Logger) *workerPool {
	p := &workerPool{
		jobs:        make(chan job, n*2),
		completions: make(chan completion, n*2),
		dispatch:    dispatch,
		wakeFd:      wakeFd,
		logger:      logger,
	}
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.worker()
	}
	return p
}

// trySubmit queues a job if a slot is free. It must never block: the caller
// is the reactor goroutine, which is also the only consumer of completions,
// so blocking here while workers block on a full completions channel would
// freeze the whole gateway. The reactor holds jobs that do not fit in an
// overflow queue and retries on each completion wakeup.
func (p *workerPool) trySubmit(j job) bool {
	select {
	case p.jobs <- j:
		return true
	default:
		return false
	}
}

// close stops accepting jobs and waits for in-flight ones to finish,
// draining completions so no worker blocks on the channel during shutdown.
func (p *workerPool) close() {
	close(p.jobs)
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	for {
		select {
		case <-p.completions:
		case <-done:
			return
		}
	}
}

func (p *workerPool) worker() {
	defer p.wg.Done()
	for j := range p.jobs {
		resp := p.dispatch(context.Background(), j.req)
		p.completions <- completion{
			fd:        j.fd,
			gen:       j.gen,
			data:      resp.Encode(),
			status:    resp.Status(),
			path:      j.req.Path,
			keepAlive: !j.req.Close,
		}
		p.wake()
	}
}

// wake bumps the eventfd counter so the reactor's epoll wait returns.
func (p *workerPool) wake() {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(p.wakeFd, buf[:]); err != nil && err != unix.EAGAIN {
		p.logger.Error("eventfd wake failed", "error", err)
	}
}

// drainWake resets the eventfd counter after the reactor wakes.
func drainWake(wakeFd int) {
	var buf [8]byte
	for {
		if _, err := unix.Read(wakeFd, buf[:]); err != nil {
			return
		}
	}
}
