// Package reference is a small, well-behaved MCP server built on the
// official Go SDK. mcpcheck uses it to check itself: a run against the
// reference server should pass every case the SDK implements.
package reference

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	sdkjsonrpc "github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/roach88/mcpcheck/internal/jsonrpc"
)

// Catalog served by the reference server.
const (
	Name         = "mcpcheck-reference"
	ReadmeURI    = "mcpcheck://reference/readme"
	ReadmeText   = "mcpcheck reference server.\nIt exposes ping and echo tools, this resource and a greet prompt.\n"
	PromptGreet  = "greet"
	ToolPing     = "ping"
	ToolEcho     = "echo"
	instructions = "A minimal server used to verify the mcpcheck compliance harness."
)

// Version is reported in serverInfo.
var Version = "dev"

// New builds the reference server with its tools, resource and prompt
// registered.
func New() *mcp.Server {
	s := mcp.NewServer(
		&mcp.Implementation{Name: Name, Title: "mcpcheck reference server", Version: Version},
		&mcp.ServerOptions{Instructions: instructions},
	)

	s.AddTool(
		&mcp.Tool{
			Name:        ToolPing,
			Description: "Replies with pong.",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
		},
		func(_ context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return textResult("pong"), nil
		},
	)

	s.AddTool(
		&mcp.Tool{
			Name:        ToolEcho,
			Description: "Echoes its message argument.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"message": map[string]any{
						"type":        "string",
						"description": "Text to echo back.",
					},
				},
				"required": []string{"message"},
			},
		},
		func(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args struct {
				Message *string `json:"message"`
			}
			if len(req.Params.Arguments) > 0 {
				if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
					return nil, invalidParams("arguments must be an object: %v", err)
				}
			}
			if args.Message == nil {
				return nil, invalidParams("missing required argument %q", "message")
			}
			return textResult(*args.Message), nil
		},
	)

	s.AddResource(
		&mcp.Resource{
			URI:         ReadmeURI,
			Name:        "readme",
			Description: "What the reference server exposes.",
			MIMEType:    "text/plain",
		},
		func(_ context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			return &mcp.ReadResourceResult{
				Contents: []*mcp.ResourceContents{
					{URI: ReadmeURI, MIMEType: "text/plain", Text: ReadmeText},
				},
			}, nil
		},
	)

	s.AddPrompt(
		&mcp.Prompt{
			Name:        PromptGreet,
			Description: "Greets someone by name.",
			Arguments: []*mcp.PromptArgument{
				{Name: "name", Description: "Who to greet (default: world)", Required: false},
			},
		},
		func(_ context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			who := req.Params.Arguments["name"]
			if who == "" {
				who = "world"
			}
			return &mcp.GetPromptResult{
				Description: "Greeting for " + who,
				Messages: []*mcp.PromptMessage{
					{Role: "user", Content: &mcp.TextContent{Text: fmt.Sprintf("Say hello to %s.", who)}},
				},
			}, nil
		},
	)

	return s
}

// RunStdio serves on the process's stdin and stdout until the client
// disconnects or ctx is cancelled.
func RunStdio(ctx context.Context, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger.Info("reference server listening on stdio", "name", Name, "version", Version)
	err := New().Run(ctx, &mcp.StdioTransport{})
	logger.Info("reference server stopped", "error", err)
	return err
}

// Serve serves one session over r and w. It has the shape of
// transport.ServeFunc, so the harness can drive the reference server in
// process.
func Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	t := &mcp.IOTransport{
		Reader: io.NopCloser(r),
		Writer: nopWriteCloser{w},
	}
	return New().Run(ctx, t)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func invalidParams(format string, args ...any) error {
	return &sdkjsonrpc.Error{Code: int64(jsonrpc.CodeInvalidParams), Message: fmt.Sprintf(format, args...)}
}
