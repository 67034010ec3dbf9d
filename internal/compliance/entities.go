package compliance

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/mcpcheck/internal/faults"
	"github.com/roach88/mcpcheck/internal/harness"
	"github.com/roach88/mcpcheck/internal/jsonrpc"
	"github.com/roach88/mcpcheck/internal/validate"
)

func runTools(rc *RunContext) {
	rc.run(CategoryTools, "list tools", func(rc *RunContext) error {
		if err := rc.requireCapability("tools"); err != nil {
			return err
		}
		resp, err := rc.h.ListTools(rc.ctx)
		items, err := rc.list(harness.MethodToolsList, "tools", resp, err, rc.validator.ValidateToolDeclaration)
		rc.toolsListed = items != nil
		rc.tools = decodeAll[harness.Tool](items)
		return err
	})

	rc.run(CategoryTools, "call first tool", func(rc *RunContext) error {
		if err := rc.requireCapability("tools"); err != nil {
			return err
		}
		if !rc.toolsListed {
			return faults.Assertf(harness.MethodToolsCall, "no tool list to call from")
		}
		if len(rc.tools) == 0 {
			return skip("server lists no tools")
		}
		tool := pickTool(rc.tools)
		resp, err := rc.h.CallTool(rc.ctx, tool.Name, synthesizeArguments(tool.InputSchema))
		raw, err := rc.success(harness.MethodToolsCall, resp, err)
		if err != nil {
			return err
		}
		if res := rc.validator.ValidateCallToolResult(raw); !res.Valid {
			return faults.Protocolf(harness.MethodToolsCall, "invalid result for tool %q: %s", tool.Name, res)
		}
		out, err := harness.Decode[harness.CallToolResult](resp)
		if err != nil {
			return faults.Wrap(faults.KindProtocolViolation, harness.MethodToolsCall, "undecodable result", err)
		}
		if len(out.Content) == 0 {
			return faults.Assertf(harness.MethodToolsCall, "tool %q returned no content", tool.Name)
		}
		if out.IsError {
			rc.logger.Info("tool reported an execution error", "tool", tool.Name)
		}
		return nil
	})

	rc.run(CategoryTools, "call nonexistent tool", func(rc *RunContext) error {
		if err := rc.requireCapability("tools"); err != nil {
			return err
		}
		name := "mcpcheck-nonexistent-" + shortID()
		resp, err := rc.h.CallTool(rc.ctx, name, nil)
		if err := rc.expectCode(harness.MethodToolsCall, resp, err,
			jsonrpc.CodeMethodNotFound, jsonrpc.CodeInvalidParams); err != nil {
			return err
		}
		if resp.Error.Code == jsonrpc.CodeInvalidParams {
			rc.logger.Debug("nonexistent tool answered with invalid params instead of method not found",
				"tool", name, "code", resp.Error.Code)
		}
		return nil
	})
}

func runResources(rc *RunContext) {
	rc.run(CategoryResources, "list resources", func(rc *RunContext) error {
		if err := rc.requireCapability("resources"); err != nil {
			return err
		}
		resp, err := rc.h.ListResources(rc.ctx)
		items, err := rc.list(harness.MethodResourcesList, "resources", resp, err, rc.validator.ValidateResourceDeclaration)
		rc.resourcesListed = items != nil
		rc.resources = decodeAll[harness.Resource](items)
		return err
	})

	rc.run(CategoryResources, "read first resource", func(rc *RunContext) error {
		if err := rc.requireCapability("resources"); err != nil {
			return err
		}
		if !rc.resourcesListed {
			return faults.Assertf(harness.MethodResourcesRead, "no resource list to read from")
		}
		if len(rc.resources) == 0 {
			return skip("server lists no resources")
		}
		res := rc.resources[0]
		resp, err := rc.h.ReadResource(rc.ctx, res.URI)
		raw, err := rc.success(harness.MethodResourcesRead, resp, err)
		if err != nil {
			return err
		}
		if v := rc.validator.ValidateReadResourceResult(raw); !v.Valid {
			return faults.Protocolf(harness.MethodResourcesRead, "invalid result for %s: %s", res.URI, v)
		}
		out, err := harness.Decode[harness.ReadResourceResult](resp)
		if err != nil {
			return faults.Wrap(faults.KindProtocolViolation, harness.MethodResourcesRead, "undecodable result", err)
		}
		if len(out.Contents) == 0 {
			return faults.Assertf(harness.MethodResourcesRead, "resource %s returned no contents", res.URI)
		}
		return nil
	})

	rc.run(CategoryResources, "read nonexistent resource", func(rc *RunContext) error {
		if err := rc.requireCapability("resources"); err != nil {
			return err
		}
		resp, err := rc.h.ReadResource(rc.ctx, "mcpcheck://nonexistent/"+shortID())
		_, err = rc.expectError(harness.MethodResourcesRead, resp, err)
		return err
	})
}

func runPrompts(rc *RunContext) {
	rc.run(CategoryPrompts, "list prompts", func(rc *RunContext) error {
		if err := rc.requireCapability("prompts"); err != nil {
			return err
		}
		resp, err := rc.h.ListPrompts(rc.ctx)
		items, err := rc.list(harness.MethodPromptsList, "prompts", resp, err, rc.validator.ValidatePromptDeclaration)
		rc.promptsListed = items != nil
		rc.prompts = decodeAll[harness.Prompt](items)
		return err
	})

	rc.run(CategoryPrompts, "get first prompt", func(rc *RunContext) error {
		if err := rc.requireCapability("prompts"); err != nil {
			return err
		}
		if !rc.promptsListed {
			return faults.Assertf(harness.MethodPromptsGet, "no prompt list to get from")
		}
		if len(rc.prompts) == 0 {
			return skip("server lists no prompts")
		}
		p := rc.prompts[0]
		var args map[string]string
		for _, a := range p.Arguments {
			if a.Required {
				if args == nil {
					args = make(map[string]string)
				}
				args[a.Name] = "test"
			}
		}
		resp, err := rc.h.GetPrompt(rc.ctx, p.Name, args)
		raw, err := rc.success(harness.MethodPromptsGet, resp, err)
		if err != nil {
			return err
		}
		if v := rc.validator.ValidateGetPromptResult(raw); !v.Valid {
			return faults.Protocolf(harness.MethodPromptsGet, "invalid result for prompt %q: %s", p.Name, v)
		}
		out, err := harness.Decode[harness.GetPromptResult](resp)
		if err != nil {
			return faults.Wrap(faults.KindProtocolViolation, harness.MethodPromptsGet, "undecodable result", err)
		}
		if len(out.Messages) == 0 {
			return faults.Assertf(harness.MethodPromptsGet, "prompt %q returned no messages", p.Name)
		}
		return nil
	})

	rc.run(CategoryPrompts, "get nonexistent prompt", func(rc *RunContext) error {
		if err := rc.requireCapability("prompts"); err != nil {
			return err
		}
		resp, err := rc.h.GetPrompt(rc.ctx, "mcpcheck-nonexistent-"+shortID(), nil)
		_, err = rc.expectError(harness.MethodPromptsGet, resp, err)
		return err
	})
}

// list checks a */list response and validates each declaration under field.
// It returns the declarations that passed validation, or nil when the call
// itself did not succeed.
func (rc *RunContext) list(op, field string, resp *jsonrpc.Envelope, err error, check func([]byte) validate.Result) ([]json.RawMessage, error) {
	raw, err := rc.success(op, resp, err)
	if err != nil {
		return nil, err
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, faults.Protocolf(op, "result is not an object")
	}
	var all []json.RawMessage
	if err := json.Unmarshal(obj[field], &all); err != nil || all == nil {
		return nil, faults.Protocolf(op, "result has no %s array", field)
	}
	if cursor, ok := obj["nextCursor"]; ok {
		rc.logger.Debug("list is paginated; only the first page is checked", "method", op, "cursor", string(cursor))
	}

	valid := make([]json.RawMessage, 0, len(all))
	var bad []validate.Violation
	for i, item := range all {
		res := check(item)
		if !res.Valid {
			for _, v := range res.Violations {
				v.Field = fmt.Sprintf("%s[%d]", field, i) + dotted(v.Field)
				bad = append(bad, v)
			}
			continue
		}
		valid = append(valid, item)
	}
	if len(bad) > 0 {
		return valid, faults.Protocolf(op, "invalid declarations: %s", validate.Result{Violations: bad})
	}
	return valid, nil
}

func decodeAll[T any](items []json.RawMessage) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		var v T
		if err := json.Unmarshal(item, &v); err == nil {
			out = append(out, v)
		}
	}
	return out
}

// pickTool prefers a tool named "ping", which is side-effect free on
// well-behaved servers.
func pickTool(tools []harness.Tool) harness.Tool {
	for _, t := range tools {
		if t.Name == "ping" {
			return t
		}
	}
	return tools[0]
}

// synthesizeArguments builds a value for every required property of an
// input schema.
func synthesizeArguments(schema json.RawMessage) map[string]any {
	args := map[string]any{}
	if len(schema) == 0 {
		return args
	}
	var s struct {
		Properties map[string]struct {
			Type    json.RawMessage `json:"type"`
			Enum    []any           `json:"enum"`
			Default any             `json:"default"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(schema, &s); err != nil {
		return args
	}
	for _, name := range s.Required {
		prop := s.Properties[name]
		switch {
		case prop.Default != nil:
			args[name] = prop.Default
		case len(prop.Enum) > 0:
			args[name] = prop.Enum[0]
		default:
			args[name] = sampleValue(schemaType(prop.Type))
		}
	}
	return args
}

// schemaType reads "type" as either a string or a list of strings,
// preferring the first non-null entry.
func schemaType(raw json.RawMessage) string {
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return one
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		for _, t := range many {
			if t != "null" {
				return t
			}
		}
	}
	return ""
}

func sampleValue(typ string) any {
	switch typ {
	case "number", "integer":
		return 1
	case "boolean":
		return true
	case "array":
		return []any{}
	case "object":
		return map[string]any{}
	default:
		return "test"
	}
}

// requiredString returns the first tool with a required string property.
func requiredString(tools []harness.Tool) (harness.Tool, bool) {
	for _, t := range tools {
		var s struct {
			Properties map[string]struct {
				Type json.RawMessage `json:"type"`
			} `json:"properties"`
			Required []string `json:"required"`
		}
		if err := json.Unmarshal(t.InputSchema, &s); err != nil {
			continue
		}
		for _, name := range s.Required {
			if schemaType(s.Properties[name].Type) == "string" {
				return t, true
			}
		}
	}
	return harness.Tool{}, false
}

func dotted(field string) string {
	if field == "" {
		return ""
	}
	return "." + field
}

func shortID() string {
	return uuid.NewString()[:8]
}
