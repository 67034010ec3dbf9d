package harness

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/mcpcheck/internal/faults"
	"github.com/roach88/mcpcheck/internal/jsonrpc"
	"github.com/roach88/mcpcheck/internal/metrics"
)

// NextID returns a fresh numeric request id.
func (h *Harness) NextID() jsonrpc.ID {
	return jsonrpc.NumberID(h.nextID.Add(1))
}

// SendMessage writes a request for method. With an absent id the envelope is
// a notification and SendMessage returns (nil, nil) once it is written.
// Otherwise it waits for the response whose id is structurally equal to id.
//
// A JSON-RPC error response is returned as an envelope with Error set and a
// nil error; the error return is reserved for timeouts and transport failures.
func (h *Harness) SendMessage(ctx context.Context, method string, params any, id jsonrpc.ID) (*jsonrpc.Envelope, error) {
	req, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	line, err := jsonrpc.Encode(req)
	if err != nil {
		return nil, err
	}

	if id.IsAbsent() {
		h.metrics.RequestSent(method, false)
		return nil, h.write(line)
	}

	call, err := h.register(id, method, make(chan settled, 1))
	if err != nil {
		return nil, err
	}
	h.metrics.RequestSent(method, true)

	if err := h.write(line); err != nil {
		if h.unregister(call) {
			h.metrics.RequestDone(method, metrics.OutcomeFailed, 0)
			return nil, err
		}
	}
	return h.await(ctx, call)
}

// Request sends method with a harness-assigned numeric id and waits for the
// response.
func (h *Harness) Request(ctx context.Context, method string, params any) (*jsonrpc.Envelope, error) {
	return h.SendMessage(ctx, method, params, h.NextID())
}

// SendNotification writes a notification. Nothing is registered or awaited.
func (h *Harness) SendNotification(ctx context.Context, method string, params any) error {
	_, err := h.SendMessage(ctx, method, params, nil)
	return err
}

// BatchItem is one member of a batch request. An absent ID makes the member
// a notification.
type BatchItem struct {
	ID     jsonrpc.ID
	Method string
	Params any
}

// SendBatchRequest writes items as one JSON array and waits for one response
// per member with an id. Responses are matched by id only; the returned
// slice follows the order of items, with nil for notification members.
//
// A single uncorrelated error response means the server refused the batch
// as a whole and is reported as a protocol violation.
func (h *Harness) SendBatchRequest(ctx context.Context, items []BatchItem) ([]*jsonrpc.Envelope, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("batch: no items")
	}

	envs := make([]*jsonrpc.Envelope, len(items))
	for i, item := range items {
		env, err := jsonrpc.NewRequest(item.ID, item.Method, item.Params)
		if err != nil {
			return nil, fmt.Errorf("batch[%d]: %w", i, err)
		}
		envs[i] = env
	}
	line, err := jsonrpc.EncodeBatch(envs)
	if err != nil {
		return nil, err
	}

	// 1. Register every awaited member on one shared channel
	ch := make(chan settled, len(items))
	calls := make(map[string]*pendingCall, len(items))
	release := func(outcome string) {
		for _, call := range calls {
			if h.unregister(call) {
				h.metrics.RequestDone(call.method, outcome, time.Since(call.sentAt))
			}
		}
	}
	for _, item := range items {
		if item.ID.IsAbsent() {
			continue
		}
		call, err := h.register(item.ID, item.Method, ch)
		if err != nil {
			release(metrics.OutcomeFailed)
			return nil, err
		}
		calls[item.ID.Key()] = call
		h.metrics.RequestSent(item.Method, true)
	}

	// 2. Send the array as one line
	h.drainOrphans()
	if err := h.write(line); err != nil {
		release(metrics.OutcomeFailed)
		return nil, err
	}

	// 3. Collect by id until every member settled
	byKey := make(map[string]*jsonrpc.Envelope, len(calls))
	timer := time.NewTimer(h.timeout)
	defer timer.Stop()

	for len(byKey) < len(calls) {
		select {
		case res := <-ch:
			if res.err != nil {
				release(metrics.OutcomeFailed)
				return nil, res.err
			}
			key := res.resp.ID.Key()
			byKey[key] = res.resp
			h.observe(calls[key], res)

		case orphan := <-h.orphans:
			if orphan.Error != nil && orphan.ID.Kind() == jsonrpc.IDNull {
				release(metrics.OutcomeError)
				return nil, faults.Wrap(faults.KindProtocolViolation, "batch", "server rejected the batch", orphan.Error)
			}

		case <-timer.C:
			release(metrics.OutcomeTimeout)
			return nil, faults.Timeout("batch", timeoutList{after: h.timeout, missing: missingIDs(calls, byKey)})

		case <-ctx.Done():
			release(metrics.OutcomeTimeout)
			return nil, faults.Wrap(faults.KindTimeout, "batch", "cancelled", ctx.Err())
		}
	}

	out := make([]*jsonrpc.Envelope, len(items))
	for i, item := range items {
		if !item.ID.IsAbsent() {
			out[i] = byKey[item.ID.Key()]
		}
	}
	return out, nil
}

// timeoutList renders "5s (missing ids: 1, "a")" for batch timeouts.
type timeoutList struct {
	after   time.Duration
	missing []string
}

func (t timeoutList) String() string {
	if len(t.missing) == 0 {
		return t.after.String()
	}
	return fmt.Sprintf("%s (missing ids: %s)", t.after, strings.Join(t.missing, ", "))
}

func missingIDs(calls map[string]*pendingCall, got map[string]*jsonrpc.Envelope) []string {
	var missing []string
	for key, call := range calls {
		if _, ok := got[key]; !ok {
			missing = append(missing, call.id.String())
		}
	}
	return missing
}

// SendInvalidMessage writes raw bytes as one line and waits for the error
// response the server cannot correlate (normally a -32700 with a null id).
// If the server closes the stream instead, a TRANSPORT_ERROR is returned.
func (h *Harness) SendInvalidMessage(ctx context.Context, raw []byte) (*jsonrpc.Envelope, error) {
	const op = "invalid message"
	h.drainOrphans()
	h.metrics.RequestSent(op, false)
	if err := h.write(asLine(raw)); err != nil {
		return nil, err
	}
	return h.awaitOrphan(ctx, op)
}

func (h *Harness) awaitOrphan(ctx context.Context, op string) (*jsonrpc.Envelope, error) {
	timer := time.NewTimer(h.timeout)
	defer timer.Stop()

	for {
		select {
		case orphan := <-h.orphans:
			if orphan.Error != nil {
				return orphan, nil
			}
			h.logger.Debug("ignoring uncorrelated result", "op", op, "id", orphan.ID.String())
		case <-h.streamEnded:
			return nil, faults.New(faults.KindTransport, op, "server closed the stream")
		case <-timer.C:
			return nil, faults.Timeout(op, h.timeout)
		case <-ctx.Done():
			return nil, faults.Wrap(faults.KindTimeout, op, "cancelled", ctx.Err())
		}
	}
}

// SendRaw writes raw bytes whose response is expected under id. A server
// that cannot read the id back and answers with a null-id error is accepted
// too; that response is returned as is.
func (h *Harness) SendRaw(ctx context.Context, raw []byte, id jsonrpc.ID) (*jsonrpc.Envelope, error) {
	const op = "raw"
	call, err := h.register(id, op, make(chan settled, 1))
	if err != nil {
		return nil, err
	}
	h.metrics.RequestSent(op, true)
	h.drainOrphans()

	if err := h.write(asLine(raw)); err != nil {
		if h.unregister(call) {
			h.metrics.RequestDone(op, metrics.OutcomeFailed, 0)
		}
		return nil, err
	}

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()

	for {
		select {
		case res := <-call.ch:
			h.observe(call, res)
			return res.resp, res.err
		case orphan := <-h.orphans:
			if orphan.Error == nil || orphan.ID.Kind() != jsonrpc.IDNull {
				continue
			}
			if h.unregister(call) {
				h.metrics.RequestDone(op, metrics.OutcomeError, time.Since(call.sentAt))
				return orphan, nil
			}
			res := <-call.ch
			h.observe(call, res)
			return res.resp, res.err
		case <-timer.C:
			if h.unregister(call) {
				h.metrics.RequestDone(op, metrics.OutcomeTimeout, time.Since(call.sentAt))
				return nil, faults.Timeout(op, h.timeout)
			}
			res := <-call.ch
			h.observe(call, res)
			return res.resp, res.err
		case <-ctx.Done():
			if h.unregister(call) {
				h.metrics.RequestDone(op, metrics.OutcomeTimeout, time.Since(call.sentAt))
				return nil, faults.Wrap(faults.KindTimeout, op, "cancelled", ctx.Err())
			}
			res := <-call.ch
			h.observe(call, res)
			return res.resp, res.err
		}
	}
}

// CallNonExistentMethod requests a method no server implements.
func (h *Harness) CallNonExistentMethod(ctx context.Context) (*jsonrpc.Envelope, error) {
	method := "mcpcheck/nonexistent-" + uuid.NewString()[:8]
	return h.Request(ctx, method, map[string]any{})
}

// SendInvalidParams requests method with params of the wrong shape. With an
// empty method it sends tools/call with a numeric name and non-object
// arguments.
func (h *Harness) SendInvalidParams(ctx context.Context, method string, params any) (*jsonrpc.Envelope, error) {
	if method == "" {
		method = MethodToolsCall
		params = map[string]any{"name": 42, "arguments": "not-an-object"}
	}
	return h.Request(ctx, method, params)
}

// Initialize sends the initialize request.
func (h *Harness) Initialize(ctx context.Context, params InitializeParams) (*jsonrpc.Envelope, error) {
	return h.Request(ctx, MethodInitialize, params)
}

// Initialized sends the notifications/initialized notification.
func (h *Harness) Initialized(ctx context.Context) error {
	return h.SendNotification(ctx, MethodInitialized, nil)
}

// Ping sends ping.
func (h *Harness) Ping(ctx context.Context) (*jsonrpc.Envelope, error) {
	return h.Request(ctx, MethodPing, nil)
}

// ListTools sends tools/list.
func (h *Harness) ListTools(ctx context.Context) (*jsonrpc.Envelope, error) {
	return h.Request(ctx, MethodToolsList, map[string]any{})
}

// CallTool sends tools/call. Nil arguments are sent as an empty object.
func (h *Harness) CallTool(ctx context.Context, name string, args map[string]any) (*jsonrpc.Envelope, error) {
	if args == nil {
		args = map[string]any{}
	}
	return h.Request(ctx, MethodToolsCall, CallToolParams{Name: name, Arguments: args})
}

// ListResources sends resources/list.
func (h *Harness) ListResources(ctx context.Context) (*jsonrpc.Envelope, error) {
	return h.Request(ctx, MethodResourcesList, map[string]any{})
}

// ReadResource sends resources/read.
func (h *Harness) ReadResource(ctx context.Context, uri string) (*jsonrpc.Envelope, error) {
	return h.Request(ctx, MethodResourcesRead, ReadResourceParams{URI: uri})
}

// ListPrompts sends prompts/list.
func (h *Harness) ListPrompts(ctx context.Context) (*jsonrpc.Envelope, error) {
	return h.Request(ctx, MethodPromptsList, map[string]any{})
}

// GetPrompt sends prompts/get.
func (h *Harness) GetPrompt(ctx context.Context, name string, args map[string]string) (*jsonrpc.Envelope, error) {
	return h.Request(ctx, MethodPromptsGet, GetPromptParams{Name: name, Arguments: args})
}

// Decode unmarshals a response's result into v. Error responses are
// returned as *jsonrpc.ErrorObject.
func Decode[T any](resp *jsonrpc.Envelope) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("no response")
	}
	var v T
	if err := resp.DecodeResult(&v); err != nil {
		return nil, err
	}
	return &v, nil
}

func asLine(raw []byte) []byte {
	if bytes.HasSuffix(raw, []byte("\n")) {
		return raw
	}
	return append(append([]byte(nil), raw...), '\n')
}
