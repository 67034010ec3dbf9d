package fakeserver

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mcpcheck/internal/jsonrpc"
)

// exchange feeds lines to a fake server and returns what it wrote, one
// string per output line.
func exchange(t *testing.T, cfg Config, lines ...string) []string {
	t.Helper()
	var out bytes.Buffer
	in := strings.Join(lines, "\n") + "\n"
	err := Serve(context.Background(), strings.NewReader(in), &out, cfg)
	if !cfg.ExitOnInvalidJSON {
		require.NoError(t, err)
	}
	text := strings.TrimSpace(out.String())
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

func decode(t *testing.T, line string) *jsonrpc.Envelope {
	t.Helper()
	msgs, _, err := jsonrpc.DecodeLine([]byte(line))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	return msgs[0]
}

const initReq = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"t","version":"0"}}}`

func TestInitialize_OnlyOnce(t *testing.T) {
	out := exchange(t, Config{}, initReq, strings.Replace(initReq, `"id":1`, `"id":2`, 1))
	require.Len(t, out, 2)

	first := decode(t, out[0])
	assert.Contains(t, string(first.Result), `"protocolVersion":"2025-06-18"`)

	second := decode(t, out[1])
	require.NotNil(t, second.Error)
	assert.Equal(t, jsonrpc.CodeInvalidRequest, second.Error.Code)
}

func TestInitialize_AllowDoubleInit(t *testing.T) {
	out := exchange(t, Config{AllowDoubleInit: true}, initReq, strings.Replace(initReq, `"id":1`, `"id":2`, 1))
	require.Len(t, out, 2)
	assert.Nil(t, decode(t, out[1]).Error)
}

func TestInitialize_OmitProtocolVersion(t *testing.T) {
	out := exchange(t, Config{OmitProtocolVersion: true}, initReq)
	assert.NotContains(t, out[0], "protocolVersion")
}

func TestParseError(t *testing.T) {
	out := exchange(t, Config{}, `{"jsonrpc":`)
	require.Len(t, out, 1)
	env := decode(t, out[0])
	assert.Equal(t, jsonrpc.IDNull, env.ID.Kind())
	assert.Equal(t, jsonrpc.CodeParseError, env.Error.Code)
}

func TestExitOnInvalidJSON(t *testing.T) {
	var out bytes.Buffer
	err := Serve(context.Background(), strings.NewReader("garbage\n"), &out, Config{ExitOnInvalidJSON: true})
	assert.ErrorIs(t, err, ErrInvalidJSON)
	assert.Empty(t, out.String())
}

func TestMissingMethod(t *testing.T) {
	out := exchange(t, Config{}, `{"jsonrpc":"2.0","id":5,"params":{}}`)
	env := decode(t, out[0])
	assert.Equal(t, "n:5", env.ID.Key())
	assert.Equal(t, jsonrpc.CodeInvalidRequest, env.Error.Code)
}

func TestUnknownMethod(t *testing.T) {
	out := exchange(t, Config{}, `{"jsonrpc":"2.0","id":"x","method":"bogus"}`)
	env := decode(t, out[0])
	assert.Equal(t, jsonrpc.CodeMethodNotFound, env.Error.Code)
	assert.Equal(t, "Method not found: bogus", env.Error.Message)
}

func TestToolsCall(t *testing.T) {
	out := exchange(t, Config{},
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"ping","arguments":{}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo","arguments":{}}}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":42,"arguments":"x"}}`,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"nope","arguments":{}}}`,
	)
	require.Len(t, out, 4)
	assert.JSONEq(t, `{"content":[{"type":"text","text":"pong"}]}`, string(decode(t, out[0]).Result))
	assert.Equal(t, jsonrpc.CodeInvalidParams, decode(t, out[1]).Error.Code)
	assert.Equal(t, jsonrpc.CodeInvalidParams, decode(t, out[2]).Error.Code)
	assert.Equal(t, jsonrpc.CodeInvalidParams, decode(t, out[3]).Error.Code)
}

func TestResourcesAndPrompts(t *testing.T) {
	out := exchange(t, Config{},
		`{"jsonrpc":"2.0","id":1,"method":"resources/read","params":{"uri":"fake://readme"}}`,
		`{"jsonrpc":"2.0","id":2,"method":"resources/read","params":{"uri":"fake://missing"}}`,
		`{"jsonrpc":"2.0","id":3,"method":"prompts/get","params":{"name":"greet","arguments":{"name":"Ada"}}}`,
		`{"jsonrpc":"2.0","id":4,"method":"prompts/get","params":{"name":"nope"}}`,
	)
	require.Len(t, out, 4)
	assert.Contains(t, string(decode(t, out[0]).Result), ResourceText)
	assert.Equal(t, jsonrpc.CodeResourceNotFound, decode(t, out[1]).Error.Code)
	assert.Contains(t, string(decode(t, out[2]).Result), "Hello, Ada!")
	assert.NotNil(t, decode(t, out[3]).Error)
}

func TestBatch(t *testing.T) {
	batch := `[{"jsonrpc":"2.0","id":"a","method":"ping"},{"jsonrpc":"2.0","method":"notifications/initialized"},{"jsonrpc":"2.0","id":2,"method":"tools/list"}]`

	out := exchange(t, Config{}, batch)
	require.Len(t, out, 1)
	msgs, isBatch, err := jsonrpc.DecodeLine([]byte(out[0]))
	require.NoError(t, err)
	assert.True(t, isBatch)
	require.Len(t, msgs, 2, "notifications get no response")
	assert.Equal(t, `s:"a"`, msgs[0].ID.Key())

	out = exchange(t, Config{ReverseBatch: true}, batch)
	msgs, _, _ = jsonrpc.DecodeLine([]byte(out[0]))
	assert.Equal(t, "n:2", msgs[0].ID.Key())

	out = exchange(t, Config{RejectBatch: true}, batch)
	env := decode(t, out[0])
	assert.Equal(t, jsonrpc.IDNull, env.ID.Kind())
}

func TestMisbehaviors(t *testing.T) {
	out := exchange(t, Config{StringifyIDs: true}, `{"jsonrpc":"2.0","id":7,"method":"ping"}`)
	assert.Equal(t, `s:"7"`, decode(t, out[0]).ID.Key())

	out = exchange(t, Config{SilentMethods: []string{"ping"}}, `{"jsonrpc":"2.0","id":7,"method":"ping"}`)
	assert.Empty(t, out)

	out = exchange(t, Config{AnswerNotifications: true}, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	assert.Len(t, out, 1)

	out = exchange(t, Config{NoTools: true}, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	assert.Equal(t, jsonrpc.CodeMethodNotFound, decode(t, out[0]).Error.Code)

	out = exchange(t, Config{ExitImmediately: true}, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	assert.Empty(t, out)

	out = exchange(t, Config{RejectInitialize: true}, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	assert.Equal(t, jsonrpc.CodeInternalError, decode(t, out[0]).Error.Code)
}

func TestConfigEnvRoundTrip(t *testing.T) {
	cfg := Config{ReverseBatch: true, SilentMethods: []string{"ping"}}
	kv := strings.SplitN(cfg.Env(), "=", 2)
	require.Len(t, kv, 2)
	assert.Equal(t, EnvConfig, kv[0])

	t.Setenv(EnvConfig, kv[1])
	got, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}
