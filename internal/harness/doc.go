// Package harness speaks newline-delimited JSON-RPC 2.0 to one MCP server.
//
// A Harness sits on top of a transport.Transport. Outgoing envelopes are
// written as single lines; incoming bytes are split by a jsonrpc.LineDecoder
// and fed, one decoded frame at a time, through a single channel to a router
// goroutine. The router owns nothing but dispatch: responses settle the
// pending correlation registered under their id, server notifications are
// counted, and server-initiated requests are answered so the server never
// blocks on the harness.
//
// # Correlation
//
// Every awaited request registers a pending entry keyed by the structural
// identity of its id (see jsonrpc.ID.Key). The entry is removed exactly once:
// when a response with the same id arrives, when the caller's timeout fires,
// or when the byte stream ends. Ids never match across JSON types, so a
// server that echoes "1" for 1 times out rather than being accepted.
//
// Batch responses are matched by id only. Arrival order and array position
// carry no meaning.
//
// # Fault injection
//
// SendInvalidMessage, SendRaw, CallNonExistentMethod and SendInvalidParams
// write deliberately broken traffic. Responses the server cannot correlate
// (typically a parse error with a null id) are delivered to these callers
// through a separate uncorrelated queue.
//
// # Usage
//
//	p := transport.NewProcess(transport.ProcessConfig{Path: "./server"})
//	if err := p.Start(ctx); err != nil {
//	    return err
//	}
//	h := harness.New(p, harness.Options{Timeout: 5 * time.Second})
//	defer h.Close()
//
//	resp, err := h.Initialize(ctx, harness.DefaultInitializeParams())
package harness
