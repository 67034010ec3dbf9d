package reference_test

import (
	"context"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mcpcheck/internal/compliance"
	"github.com/roach88/mcpcheck/internal/config"
	"github.com/roach88/mcpcheck/internal/reference"
	"github.com/roach88/mcpcheck/internal/transport"
)

func newSession(t *testing.T) *mcp.ClientSession {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	go func() {
		_ = reference.New().Run(ctx, serverTransport)
	}()

	client := mcp.NewClient(&mcp.Implementation{Name: "reference-test", Version: "0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { cs.Close() })
	return cs
}

func TestReference_Catalog(t *testing.T) {
	cs := newSession(t)
	ctx := context.Background()

	tools, err := cs.ListTools(ctx, &mcp.ListToolsParams{})
	require.NoError(t, err)
	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{reference.ToolPing, reference.ToolEcho}, names)

	res, err := cs.ListResources(ctx, &mcp.ListResourcesParams{})
	require.NoError(t, err)
	require.Len(t, res.Resources, 1)
	assert.Equal(t, reference.ReadmeURI, res.Resources[0].URI)

	prompts, err := cs.ListPrompts(ctx, &mcp.ListPromptsParams{})
	require.NoError(t, err)
	require.Len(t, prompts.Prompts, 1)
	assert.Equal(t, reference.PromptGreet, prompts.Prompts[0].Name)
}

func TestReference_Echo(t *testing.T) {
	cs := newSession(t)

	out, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      reference.ToolEcho,
		Arguments: map[string]any{"message": "hello"},
	})
	require.NoError(t, err)
	require.Len(t, out.Content, 1)
	text, ok := out.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Equal(t, "hello", text.Text)
}

func TestReference_EchoMissingArgument(t *testing.T) {
	cs := newSession(t)

	_, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      reference.ToolEcho,
		Arguments: map[string]any{},
	})
	assert.ErrorContains(t, err, "message")
}

func TestReference_ReadAndPrompt(t *testing.T) {
	cs := newSession(t)
	ctx := context.Background()

	read, err := cs.ReadResource(ctx, &mcp.ReadResourceParams{URI: reference.ReadmeURI})
	require.NoError(t, err)
	require.Len(t, read.Contents, 1)
	assert.Equal(t, reference.ReadmeText, read.Contents[0].Text)

	prompt, err := cs.GetPrompt(ctx, &mcp.GetPromptParams{
		Name:      reference.PromptGreet,
		Arguments: map[string]string{"name": "Ada"},
	})
	require.NoError(t, err)
	require.Len(t, prompt.Messages, 1)
	assert.Equal(t, "Say hello to Ada.", prompt.Messages[0].Content.(*mcp.TextContent).Text)
}

// TestReference_Compliance drives the reference server with the harness
// over an in-memory pipe.
func TestReference_Compliance(t *testing.T) {
	cfg := config.HarnessConfig{
		Name:       reference.Name,
		ServerPath: "reference",
		Categories: []string{"initialization", "tools", "resources", "prompts"},
	}
	res, err := compliance.Run(context.Background(), cfg,
		compliance.WithTransportFactory(func(config.HarnessConfig) transport.Transport {
			return transport.NewPipe(reference.Serve)
		}),
	)
	require.NoError(t, err)
	assertCounts := res.Passed + res.Failed + res.Skipped
	assert.Equal(t, len(res.Tests), assertCounts)

	for _, c := range []struct {
		cat  compliance.Category
		name string
	}{
		{compliance.CategoryInitialization, "initialize handshake"},
		{compliance.CategoryInitialization, "protocol version present"},
		{compliance.CategoryInitialization, "capability negotiation"},
		{compliance.CategoryTools, "list tools"},
		{compliance.CategoryTools, "call first tool"},
		{compliance.CategoryResources, "list resources"},
		{compliance.CategoryResources, "read first resource"},
		{compliance.CategoryResources, "read nonexistent resource"},
		{compliance.CategoryPrompts, "list prompts"},
		{compliance.CategoryPrompts, "get first prompt"},
	} {
		tc, ok := res.Case(c.cat, c.name)
		require.True(t, ok, c.name)
		assert.Equal(t, compliance.StatusPassed, tc.Status, "%s: %s", c.name, tc.Error)
	}
}
