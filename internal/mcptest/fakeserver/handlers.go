package fakeserver

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/mcpcheck/internal/jsonrpc"
)

// Catalog entries served by the fake server.
const (
	ToolPing     = "ping"
	ToolEcho     = "echo"
	ResourceURI  = "fake://readme"
	ResourceText = "fake server readme"
	PromptGreet  = "greet"
)

type object = map[string]any

func (s *server) dispatch(msg *jsonrpc.Envelope) (any, *jsonrpc.ErrorObject) {
	switch msg.Method {
	case "initialize":
		return s.initialize()
	case "ping":
		return object{}, nil
	case "tools/list":
		if s.cfg.NoTools {
			return nil, methodNotFound(msg.Method)
		}
		return object{"tools": s.tools()}, nil
	case "tools/call":
		if s.cfg.NoTools {
			return nil, methodNotFound(msg.Method)
		}
		return s.callTool(msg.Params)
	case "resources/list":
		if s.cfg.NoResources {
			return nil, methodNotFound(msg.Method)
		}
		return object{"resources": []object{{
			"uri":      ResourceURI,
			"name":     "readme",
			"mimeType": "text/plain",
		}}}, nil
	case "resources/read":
		if s.cfg.NoResources {
			return nil, methodNotFound(msg.Method)
		}
		return s.readResource(msg.Params)
	case "prompts/list":
		if s.cfg.NoPrompts {
			return nil, methodNotFound(msg.Method)
		}
		return object{"prompts": []object{{
			"name":        PromptGreet,
			"description": "Greets someone",
			"arguments":   []object{{"name": "name", "description": "Who to greet"}},
		}}}, nil
	case "prompts/get":
		if s.cfg.NoPrompts {
			return nil, methodNotFound(msg.Method)
		}
		return s.getPrompt(msg.Params)
	default:
		return nil, methodNotFound(msg.Method)
	}
}

func (s *server) initialize() (any, *jsonrpc.ErrorObject) {
	if s.cfg.RejectInitialize {
		return nil, &jsonrpc.ErrorObject{Code: jsonrpc.CodeInternalError, Message: "Initialization failed"}
	}
	if s.initialized && !s.cfg.AllowDoubleInit {
		return nil, &jsonrpc.ErrorObject{Code: jsonrpc.CodeInvalidRequest, Message: "Server already initialized"}
	}
	s.initialized = true

	caps := object{}
	if !s.cfg.NoTools {
		caps["tools"] = object{"listChanged": false}
	}
	if !s.cfg.NoResources {
		caps["resources"] = object{"listChanged": false, "subscribe": false}
	}
	if !s.cfg.NoPrompts {
		caps["prompts"] = object{"listChanged": false}
	}

	result := object{
		"capabilities": caps,
		"serverInfo":   object{"name": "fakeserver", "version": "0.0.1"},
	}
	if !s.cfg.OmitProtocolVersion {
		result["protocolVersion"] = ProtocolVersion
	}
	return result, nil
}

func (s *server) tools() []object {
	ping := object{
		"name":        ToolPing,
		"description": "Replies with pong",
		"inputSchema": object{"type": "object", "properties": object{}},
	}
	if s.cfg.ToolWithoutName {
		delete(ping, "name")
	}
	echo := object{
		"name":        ToolEcho,
		"description": "Echoes its message",
		"inputSchema": object{
			"type":       "object",
			"properties": object{"message": object{"type": "string"}},
			"required":   []string{"message"},
		},
	}
	return []object{ping, echo}
}

func (s *server) callTool(params json.RawMessage) (any, *jsonrpc.ErrorObject) {
	var p struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, s.invalidParams(fmt.Sprintf("Invalid params: %v", err))
	}

	var text string
	switch p.Name {
	case ToolPing:
		text = "pong"
	case ToolEcho:
		msg, ok := p.Arguments["message"].(string)
		if !ok {
			return nil, s.invalidParams("Invalid params: message is required and must be a string")
		}
		text = msg
	default:
		return nil, s.invalidParams("Unknown tool: " + p.Name)
	}

	content := []object{{"type": "text", "text": text}}
	if s.cfg.EmptyContent {
		content = []object{}
	}
	return object{"content": content}, nil
}

func (s *server) readResource(params json.RawMessage) (any, *jsonrpc.ErrorObject) {
	var p struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.URI == "" {
		return nil, s.invalidParams("Invalid params: uri is required")
	}
	if p.URI != ResourceURI {
		return nil, &jsonrpc.ErrorObject{Code: jsonrpc.CodeResourceNotFound, Message: "Resource not found: " + p.URI}
	}
	return object{"contents": []object{{
		"uri":      ResourceURI,
		"mimeType": "text/plain",
		"text":     ResourceText,
	}}}, nil
}

func (s *server) getPrompt(params json.RawMessage) (any, *jsonrpc.ErrorObject) {
	var p struct {
		Name      string            `json:"name"`
		Arguments map[string]string `json:"arguments"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, s.invalidParams(fmt.Sprintf("Invalid params: %v", err))
	}
	if p.Name != PromptGreet {
		return nil, s.invalidParams("Unknown prompt: " + p.Name)
	}
	who := p.Arguments["name"]
	if who == "" {
		who = "world"
	}
	return object{
		"description": "Greets someone",
		"messages": []object{{
			"role":    "user",
			"content": object{"type": "text", "text": "Hello, " + who + "!"},
		}},
	}, nil
}

func (s *server) invalidParams(message string) *jsonrpc.ErrorObject {
	code := jsonrpc.CodeInvalidParams
	if s.cfg.InvalidParamsCode != 0 {
		code = s.cfg.InvalidParamsCode
	}
	return &jsonrpc.ErrorObject{Code: code, Message: message}
}

func methodNotFound(method string) *jsonrpc.ErrorObject {
	return &jsonrpc.ErrorObject{Code: jsonrpc.CodeMethodNotFound, Message: "Method not found: " + method}
}
