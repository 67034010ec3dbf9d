// Package transport moves raw bytes between the harness and a server.
//
// Two implementations share the Transport interface: Process drives a real
// child process over its standard streams, and Pipe runs a server function
// in-process over in-memory pipes. The harness only ever sees bytes, so it
// can be exercised without spawning anything.
package transport

import (
	"context"
	"io"
)

// Transport is a bidirectional byte stream to one server.
type Transport interface {
	// Start brings the peer up. Process returns a STARTUP_FAILURE fault if
	// the server cannot be spawned or exits during the startup probe.
	Start(ctx context.Context) error

	// Send writes p to the peer. Safe for concurrent use.
	Send(p []byte) error

	// Receive returns the byte stream written by the peer. It reports
	// io.EOF once the peer is gone. Only one goroutine should read it.
	Receive() io.Reader

	// Done is closed once the peer has exited.
	Done() <-chan struct{}

	// Stop shuts the peer down, escalating as needed. Idempotent: later
	// calls return the first call's result.
	Stop() error
}
