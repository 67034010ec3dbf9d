package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/roach88/mcpcheck/internal/faults"
)

// ServeFunc is an in-process server: it reads requests from r and writes
// responses to w until r is exhausted or ctx is cancelled.
type ServeFunc func(ctx context.Context, r io.Reader, w io.Writer) error

// Pipe is a Transport that runs a ServeFunc in a goroutine over in-memory
// pipes. It stands in for a child process in tests and in self-checks of
// the reference server.
type Pipe struct {
	serve ServeFunc
	grace time.Duration

	// harness side
	toServer   *io.PipeWriter
	fromServer *io.PipeReader

	// server side
	serverIn  *io.PipeReader
	serverOut *io.PipeWriter

	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	started  bool
	serveErr error

	stopOnce sync.Once
	stopErr  error
}

var _ Transport = (*Pipe)(nil)

// NewPipe creates a pipe transport for serve.
func NewPipe(serve ServeFunc) *Pipe {
	serverIn, toServer := io.Pipe()
	fromServer, serverOut := io.Pipe()
	return &Pipe{
		serve:      serve,
		grace:      DefaultShutdownGrace,
		toServer:   toServer,
		fromServer: fromServer,
		serverIn:   serverIn,
		serverOut:  serverOut,
		done:       make(chan struct{}),
	}
}

// Start launches the server goroutine.
func (p *Pipe) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return errors.New("pipe already started")
	}
	if p.serve == nil {
		return faults.Startup("no server function", nil)
	}
	p.started = true

	serveCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel

	go func() {
		err := p.serve(serveCtx, p.serverIn, p.serverOut)
		p.mu.Lock()
		p.serveErr = err
		p.mu.Unlock()

		// Server gone: the harness reads EOF and further sends fail
		p.serverOut.Close()
		p.serverIn.CloseWithError(io.ErrClosedPipe)
		close(p.done)
	}()
	return nil
}

// Send writes to the server's input.
func (p *Pipe) Send(b []byte) error {
	select {
	case <-p.done:
		return faults.New(faults.KindTransport, "send", "server exited")
	default:
	}
	if _, err := p.toServer.Write(b); err != nil {
		return faults.Wrap(faults.KindTransport, "send", "write to server", err)
	}
	return nil
}

// Receive returns the server's output.
func (p *Pipe) Receive() io.Reader {
	return p.fromServer
}

// Done is closed once the server function has returned.
func (p *Pipe) Done() <-chan struct{} {
	return p.done
}

// ExitErr returns the server function's error once Done is closed.
func (p *Pipe) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.serveErr
}

// Stop closes the server's input, cancels its context and waits for it
// to return.
func (p *Pipe) Stop() error {
	p.stopOnce.Do(func() {
		p.stopErr = p.stop()
	})
	return p.stopErr
}

func (p *Pipe) stop() error {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return nil
	}

	p.toServer.Close()
	p.cancel()

	timer := time.NewTimer(p.grace)
	defer timer.Stop()

	select {
	case <-p.done:
		return nil
	case <-timer.C:
	}

	// Unblock a server stuck writing output nobody reads
	p.fromServer.CloseWithError(io.ErrClosedPipe)
	select {
	case <-p.done:
		return nil
	case <-time.After(p.grace):
		return fmt.Errorf("in-process server did not return within %s", 2*p.grace)
	}
}
