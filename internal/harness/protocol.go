package harness

import "encoding/json"

// MCP method names used by the harness.
const (
	MethodInitialize    = "initialize"
	MethodInitialized   = "notifications/initialized"
	MethodPing          = "ping"
	MethodToolsList     = "tools/list"
	MethodToolsCall     = "tools/call"
	MethodResourcesList = "resources/list"
	MethodResourcesRead = "resources/read"
	MethodPromptsList   = "prompts/list"
	MethodPromptsGet    = "prompts/get"
)

// DefaultProtocolVersion is the MCP revision requested when none is configured.
const DefaultProtocolVersion = "2025-06-18"

// Implementation identifies a client or server.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams is the params member of an initialize request.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      Implementation `json:"clientInfo"`
}

// DefaultInitializeParams returns the handshake the harness sends: current
// protocol revision and the restricted client capability set (roots only,
// without change notifications).
func DefaultInitializeParams() InitializeParams {
	return InitializeParams{
		ProtocolVersion: DefaultProtocolVersion,
		Capabilities: map[string]any{
			"roots": map[string]any{"listChanged": false},
		},
		ClientInfo: Implementation{Name: "mcpcheck", Version: Version},
	}
}

// Version is reported as clientInfo.version.
var Version = "dev"

// InitializeResult is the result of a successful initialize.
type InitializeResult struct {
	ProtocolVersion string                     `json:"protocolVersion"`
	Capabilities    map[string]json.RawMessage `json:"capabilities"`
	ServerInfo      *Implementation            `json:"serverInfo,omitempty"`
	Instructions    string                     `json:"instructions,omitempty"`
}

// HasCapability reports whether the server advertised the named capability.
func (r *InitializeResult) HasCapability(name string) bool {
	if r == nil {
		return false
	}
	_, ok := r.Capabilities[name]
	return ok
}

// Tool is a tool declaration.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ListToolsResult is the result of tools/list. Declarations stay raw so they
// can be validated before being decoded.
type ListToolsResult struct {
	Tools      []json.RawMessage `json:"tools"`
	NextCursor string            `json:"nextCursor,omitempty"`
}

// CallToolParams is the params member of tools/call.
type CallToolParams struct {
	Name      string `json:"name"`
	Arguments any    `json:"arguments"`
}

// CallToolResult is the result of tools/call.
type CallToolResult struct {
	Content []json.RawMessage `json:"content"`
	IsError bool              `json:"isError,omitempty"`
}

// Resource is a resource declaration.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mimeType,omitempty"`
}

// ListResourcesResult is the result of resources/list.
type ListResourcesResult struct {
	Resources  []json.RawMessage `json:"resources"`
	NextCursor string            `json:"nextCursor,omitempty"`
}

// ReadResourceParams is the params member of resources/read.
type ReadResourceParams struct {
	URI string `json:"uri"`
}

// ReadResourceResult is the result of resources/read.
type ReadResourceResult struct {
	Contents []json.RawMessage `json:"contents"`
}

// Prompt is a prompt declaration.
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// PromptArgument describes one prompt argument.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// ListPromptsResult is the result of prompts/list.
type ListPromptsResult struct {
	Prompts    []json.RawMessage `json:"prompts"`
	NextCursor string            `json:"nextCursor,omitempty"`
}

// GetPromptParams is the params member of prompts/get.
type GetPromptParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

// GetPromptResult is the result of prompts/get.
type GetPromptResult struct {
	Description string            `json:"description,omitempty"`
	Messages    []json.RawMessage `json:"messages"`
}
