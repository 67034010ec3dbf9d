package compliance

import (
	"fmt"

	"github.com/roach88/mcpcheck/internal/faults"
	"github.com/roach88/mcpcheck/internal/harness"
	"github.com/roach88/mcpcheck/internal/jsonrpc"
)

// truncatedRequest is a request cut off before its closing brace.
const truncatedRequest = `{"jsonrpc":"2.0","id":"mcpcheck-invalid","method":"ping"`

// probeNotification is a notification no server implements. Servers must
// ignore it without answering.
const probeNotification = "notifications/mcpcheck/probe"

func runErrorHandling(rc *RunContext) {
	rc.run(CategoryErrorHandling, "invalid JSON", func(rc *RunContext) error {
		resp, err := rc.h.SendInvalidMessage(rc.ctx, []byte(truncatedRequest))
		return rc.expectCode("invalid JSON", resp, err, jsonrpc.CodeParseError)
	})

	rc.run(CategoryErrorHandling, "missing method", func(rc *RunContext) error {
		id := rc.h.NextID()
		raw := fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"params":{}}`, id)
		resp, err := rc.h.SendRaw(rc.ctx, []byte(raw), id)
		return rc.expectCode("missing method", resp, err, jsonrpc.CodeInvalidRequest)
	})

	rc.run(CategoryErrorHandling, "unknown method", func(rc *RunContext) error {
		resp, err := rc.h.CallNonExistentMethod(rc.ctx)
		return rc.expectCode("unknown method", resp, err, jsonrpc.CodeMethodNotFound)
	})

	rc.run(CategoryErrorHandling, "invalid params", func(rc *RunContext) error {
		var (
			resp *jsonrpc.Envelope
			err  error
		)
		if tool, ok := requiredString(rc.tools); ok {
			resp, err = rc.h.SendInvalidParams(rc.ctx, harness.MethodToolsCall, harness.CallToolParams{
				Name:      tool.Name,
				Arguments: map[string]any{},
			})
		} else {
			resp, err = rc.h.SendInvalidParams(rc.ctx, "", nil)
		}
		return rc.expectCode("invalid params", resp, err, jsonrpc.CodeInvalidParams)
	})
}

func runJSONRPC(rc *RunContext) {
	rc.run(CategoryJSONRPC, "notification round-trip", func(rc *RunContext) error {
		before := rc.h.Stats().Uncorrelated
		if err := rc.h.SendNotification(rc.ctx, probeNotification, map[string]any{}); err != nil {
			return rc.inferStartup(err)
		}
		// The server must stay responsive after a notification.
		resp, err := rc.h.Ping(rc.ctx)
		if _, err := rc.success(harness.MethodPing, resp, err); err != nil {
			return err
		}
		if n := rc.h.Stats().Uncorrelated - before; n > 0 {
			return faults.Protocolf("notification", "server answered a notification (%d unexpected responses)", n)
		}
		return nil
	})

	rc.run(CategoryJSONRPC, "batch request", func(rc *RunContext) error {
		items := []harness.BatchItem{
			{ID: jsonrpc.StringID("batch-" + shortID()), Method: harness.MethodPing},
			{ID: rc.h.NextID(), Method: harness.MethodToolsList, Params: map[string]any{}},
		}
		resps, err := rc.h.SendBatchRequest(rc.ctx, items)
		if err != nil {
			return rc.inferStartup(err)
		}
		for i, resp := range resps {
			if err := rc.checkMessage("batch", resp); err != nil {
				return err
			}
			if !resp.ID.Equal(items[i].ID) {
				return faults.Protocolf("batch", "response %d carries id %s, expected %s", i, resp.ID, items[i].ID)
			}
		}
		return nil
	})

	idCases := []struct {
		name string
		id   func() jsonrpc.ID
	}{
		{"id preservation (string)", func() jsonrpc.ID { return jsonrpc.StringID("mcpcheck-" + shortID()) }},
		{"id preservation (number)", func() jsonrpc.ID { return rc.h.NextID() }},
		{"id preservation (null)", jsonrpc.NullID},
	}
	for _, c := range idCases {
		rc.run(CategoryJSONRPC, c.name, func(rc *RunContext) error {
			id := c.id()
			resp, err := rc.h.SendMessage(rc.ctx, harness.MethodPing, nil, id)
			if err != nil {
				if faults.IsTimeout(err) {
					return faults.New(faults.KindTimeout, harness.MethodPing,
						fmt.Sprintf("no response carrying %s id %s within %s", id.Kind(), id, rc.h.Timeout()))
				}
				return rc.inferStartup(err)
			}
			if err := rc.checkMessage(harness.MethodPing, resp); err != nil {
				return err
			}
			if !resp.ID.Equal(id) {
				return faults.Protocolf(harness.MethodPing, "response id %s differs from request id %s", resp.ID, id)
			}
			return nil
		})
	}
}
