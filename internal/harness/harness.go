package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/mcpcheck/internal/faults"
	"github.com/roach88/mcpcheck/internal/jsonrpc"
	"github.com/roach88/mcpcheck/internal/metrics"
	"github.com/roach88/mcpcheck/internal/transport"
)

// DefaultTimeout bounds every awaited call when Options.Timeout is zero.
const DefaultTimeout = 5 * time.Second

const (
	readBufferSize = 64 << 10
	orphanQueueLen = 64
)

// Options configures a Harness.
type Options struct {
	// Timeout bounds each awaited call. Zero uses DefaultTimeout.
	Timeout time.Duration

	// Logger receives frame and dispatch logs. Nil discards.
	Logger *slog.Logger

	// Metrics records request counters. Nil records nothing.
	Metrics *metrics.Recorder

	// Debug logs every frame sent and received at debug level.
	Debug bool

	// MaxLineSize bounds one incoming line. Zero uses jsonrpc.DefaultMaxLineSize.
	MaxLineSize int
}

// Stats counts traffic seen by the harness.
type Stats struct {
	Sent           int64
	Received       int64
	Uncorrelated   int64
	Notifications  int64
	ServerRequests int64
	Malformed      int64
}

// Harness drives one server over a transport.
//
// All methods are safe for concurrent use. Each awaited call carries its own
// timeout so one hung request never stalls another.
type Harness struct {
	tr      transport.Transport
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Recorder
	debug   bool

	nextID atomic.Int64

	mu      sync.Mutex
	pending map[string]*pendingCall
	ended   bool
	endErr  error

	// streamEnded is closed when the incoming stream ends
	streamEnded chan struct{}
	routerDone  chan struct{}
	orphans     chan *jsonrpc.Envelope

	sent, received, uncorrelated, notifications, serverRequests, malformed atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

// pendingCall is one registered correlation. Batch members share a channel.
type pendingCall struct {
	id       jsonrpc.ID
	method   string
	sentAt   time.Time
	deadline time.Time
	ch       chan settled
}

type settled struct {
	resp *jsonrpc.Envelope
	err  error
}

// frame is one decoded line, or the decode failure for it.
type frame struct {
	line []byte
	msgs []*jsonrpc.Envelope
	err  error
}

// New attaches a harness to a started transport and begins reading.
func New(tr transport.Transport, opts Options) *Harness {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	h := &Harness{
		tr:          tr,
		timeout:     opts.Timeout,
		logger:      logger,
		metrics:     opts.Metrics,
		debug:       opts.Debug,
		pending:     make(map[string]*pendingCall),
		streamEnded: make(chan struct{}),
		routerDone:  make(chan struct{}),
		orphans:     make(chan *jsonrpc.Envelope, orphanQueueLen),
	}

	frames := make(chan frame, 16)
	go h.readLoop(tr.Receive(), frames, opts.MaxLineSize)
	go h.route(frames)
	return h
}

// Timeout returns the per-call timeout.
func (h *Harness) Timeout() time.Duration {
	return h.timeout
}

// Stats returns a snapshot of the traffic counters.
func (h *Harness) Stats() Stats {
	return Stats{
		Sent:           h.sent.Load(),
		Received:       h.received.Load(),
		Uncorrelated:   h.uncorrelated.Load(),
		Notifications:  h.notifications.Load(),
		ServerRequests: h.serverRequests.Load(),
		Malformed:      h.malformed.Load(),
	}
}

// Pending returns the number of registered correlations.
func (h *Harness) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}

// StreamEnded is closed once the server's output stream has ended.
func (h *Harness) StreamEnded() <-chan struct{} {
	return h.streamEnded
}

// Close stops the transport and waits for the router to drain.
// Pending calls are failed. Safe to call more than once.
func (h *Harness) Close() error {
	h.closeOnce.Do(func() {
		h.closeErr = h.tr.Stop()
		select {
		case <-h.routerDone:
		case <-time.After(h.timeout):
			h.logger.Warn("router did not drain after stop", "timeout", h.timeout)
			h.failAll(errors.New("harness closed"))
		}
	})
	return h.closeErr
}

// readLoop feeds the transport's byte stream through the line decoder and
// hands each decoded line to the router.
func (h *Harness) readLoop(r io.Reader, frames chan<- frame, maxLine int) {
	defer close(frames)

	dec := jsonrpc.NewLineDecoder(maxLine)
	buf := make([]byte, readBufferSize)
	emit := func(line []byte) {
		msgs, _, err := jsonrpc.DecodeLine(line)
		frames <- frame{line: line, msgs: msgs, err: err}
	}

	for {
		n, err := r.Read(buf)
		if n > 0 {
			lines, ferr := dec.Feed(buf[:n])
			for _, line := range lines {
				emit(line)
			}
			if ferr != nil {
				frames <- frame{err: ferr}
			}
		}
		if err != nil {
			// A peer may end without a trailing newline
			if tail := dec.Flush(); tail != nil {
				emit(tail)
			}
			if !errors.Is(err, io.EOF) {
				h.logger.Debug("read from server failed", "error", err)
			}
			return
		}
	}
}

// route dispatches frames until the stream ends, then fails every call
// still pending.
func (h *Harness) route(frames <-chan frame) {
	defer close(h.routerDone)

	for f := range frames {
		h.dispatch(f)
	}
	h.failAll(h.streamError())
}

func (h *Harness) streamError() error {
	var exitErr error
	if x, ok := h.tr.(interface{ ExitErr() error }); ok {
		// ExitErr is only populated once the peer has fully exited
		select {
		case <-h.tr.Done():
			exitErr = x.ExitErr()
		case <-time.After(100 * time.Millisecond):
		}
	}
	msg := "server exited"
	if s, ok := h.tr.(interface{ Stderr() string }); ok {
		if tail := s.Stderr(); tail != "" {
			msg += "; stderr: " + tail
		}
	}
	return faults.Wrap(faults.KindTransport, "receive", msg, exitErr)
}

func (h *Harness) dispatch(f frame) {
	if f.err != nil {
		h.malformed.Add(1)
		h.logger.Warn("undecodable frame from server", "error", f.err, "line", truncate(f.line, 200))
		h.settleMalformed(f)
		return
	}

	for _, msg := range f.msgs {
		h.received.Add(1)
		if h.debug {
			h.logger.Debug("frame received", "data", string(msg.Raw))
		}

		switch {
		case msg.IsRequest():
			h.answerServerRequest(msg)
		case msg.IsNotification():
			h.notifications.Add(1)
			h.metrics.Notification()
			h.logger.Debug("server notification", "method", msg.Method)
		default:
			h.settle(msg)
		}
	}
}

// settle delivers a response to its pending call, or queues it as
// uncorrelated.
func (h *Harness) settle(resp *jsonrpc.Envelope) {
	key := resp.ID.Key()

	h.mu.Lock()
	call, ok := h.pending[key]
	if ok {
		delete(h.pending, key)
	}
	h.mu.Unlock()

	if ok {
		call.ch <- settled{resp: resp}
		return
	}

	h.uncorrelated.Add(1)
	h.metrics.Uncorrelated()
	h.logger.Debug("uncorrelated response", "id", resp.ID.String())
	h.pushOrphan(resp)
}

// settleMalformed fails the pending call a malformed line was addressed to,
// if an id can still be read from it.
func (h *Harness) settleMalformed(f frame) {
	if len(f.line) == 0 {
		return
	}
	var probe struct {
		ID jsonrpc.ID `json:"id"`
	}
	if json.Unmarshal(f.line, &probe) != nil || probe.ID.IsAbsent() {
		return
	}

	key := probe.ID.Key()
	h.mu.Lock()
	call, ok := h.pending[key]
	if ok {
		delete(h.pending, key)
	}
	h.mu.Unlock()

	if ok {
		call.ch <- settled{err: faults.Protocolf(call.method, "malformed response: %v", f.err)}
	}
}

func (h *Harness) pushOrphan(resp *jsonrpc.Envelope) {
	for {
		select {
		case h.orphans <- resp:
			return
		default:
		}
		// Queue full: drop the oldest
		select {
		case <-h.orphans:
		default:
		}
	}
}

func (h *Harness) drainOrphans() {
	for {
		select {
		case <-h.orphans:
		default:
			return
		}
	}
}

// answerServerRequest replies to a request the server sent to the client.
// ping is answered; everything else is unknown to the harness.
func (h *Harness) answerServerRequest(req *jsonrpc.Envelope) {
	h.serverRequests.Add(1)
	h.logger.Debug("server request", "method", req.Method, "id", req.ID.String())

	resp := &jsonrpc.Envelope{JSONRPC: jsonrpc.Version, ID: req.ID}
	if req.Method == MethodPing {
		resp.Result = json.RawMessage(`{}`)
	} else {
		resp.Error = &jsonrpc.ErrorObject{
			Code:    jsonrpc.CodeMethodNotFound,
			Message: "Method not found: " + req.Method,
		}
	}

	line, err := jsonrpc.Encode(resp)
	if err != nil {
		h.logger.Warn("encode reply to server request", "error", err)
		return
	}
	if err := h.write(line); err != nil {
		h.logger.Debug("reply to server request failed", "error", err)
	}
}

// failAll resolves every pending call with err and refuses new ones.
func (h *Harness) failAll(err error) {
	h.mu.Lock()
	if h.ended {
		h.mu.Unlock()
		return
	}
	h.ended = true
	h.endErr = err
	calls := h.pending
	h.pending = make(map[string]*pendingCall)
	h.mu.Unlock()

	close(h.streamEnded)
	for _, call := range calls {
		call.ch <- settled{err: faults.Wrap(faults.KindTransport, call.method, "server exited before responding", err)}
	}
	if len(calls) > 0 {
		h.logger.Debug("failed pending calls on stream end", "count", len(calls))
	}
}

// register adds a pending correlation for id. The channel may be shared by
// batch members and must have room for every call registered on it.
func (h *Harness) register(id jsonrpc.ID, method string, ch chan settled) (*pendingCall, error) {
	key := id.Key()
	now := time.Now()
	call := &pendingCall{
		id:       id,
		method:   method,
		sentAt:   now,
		deadline: now.Add(h.timeout),
		ch:       ch,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ended {
		return nil, faults.Wrap(faults.KindTransport, method, "server exited", h.endErr)
	}
	if _, dup := h.pending[key]; dup {
		return nil, fmt.Errorf("%s: id %s is already pending", method, id)
	}
	h.pending[key] = call
	return call, nil
}

// unregister removes the call if it is still pending. It reports false when
// the call was settled concurrently, in which case the result is in its channel.
func (h *Harness) unregister(call *pendingCall) bool {
	key := call.id.Key()
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.pending[key]; ok && cur == call {
		delete(h.pending, key)
		return true
	}
	return false
}

func (h *Harness) write(line []byte) error {
	if h.debug {
		h.logger.Debug("frame sent", "data", string(trimNewline(line)))
	}
	if err := h.tr.Send(line); err != nil {
		return err
	}
	h.sent.Add(1)
	return nil
}

// await waits for call to settle, for the call's timeout, or for ctx.
func (h *Harness) await(ctx context.Context, call *pendingCall) (*jsonrpc.Envelope, error) {
	timer := time.NewTimer(time.Until(call.deadline))
	defer timer.Stop()

	var res settled
	select {
	case res = <-call.ch:
	case <-timer.C:
		if h.unregister(call) {
			h.metrics.RequestDone(call.method, metrics.OutcomeTimeout, time.Since(call.sentAt))
			return nil, faults.Timeout(call.method, h.timeout)
		}
		res = <-call.ch
	case <-ctx.Done():
		if h.unregister(call) {
			h.metrics.RequestDone(call.method, metrics.OutcomeTimeout, time.Since(call.sentAt))
			return nil, faults.Wrap(faults.KindTimeout, call.method, "cancelled", ctx.Err())
		}
		res = <-call.ch
	}

	h.observe(call, res)
	return res.resp, res.err
}

func (h *Harness) observe(call *pendingCall, res settled) {
	outcome := metrics.OutcomeResult
	switch {
	case res.err != nil:
		outcome = metrics.OutcomeFailed
	case res.resp.Error != nil:
		outcome = metrics.OutcomeError
	}
	h.metrics.RequestDone(call.method, outcome, time.Since(call.sentAt))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

func trimNewline(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] == '\n' {
		return b[:len(b)-1]
	}
	return b
}
