package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := New()
	require.NoError(t, err)
	return v
}

func TestValidateMessage(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantValid  bool
		wantFields []string
	}{
		{"result response", `{"jsonrpc":"2.0","id":1,"result":{}}`, true, nil},
		{"error response", `{"jsonrpc":"2.0","id":"a","error":{"code":-32601,"message":"Method not found"}}`, true, nil},
		{"null id parse error", `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"Parse error"}}`, true, nil},
		{"request", `{"jsonrpc":"2.0","id":1,"method":"ping"}`, true, nil},
		{"notification", `{"jsonrpc":"2.0","method":"notifications/initialized"}`, true, nil},
		{"both result and error", `{"jsonrpc":"2.0","id":1,"result":{},"error":{"code":1,"message":"x"}}`, false, []string{"result"}},
		{"neither result nor error", `{"jsonrpc":"2.0","id":1}`, false, []string{"result"}},
		{"object id", `{"jsonrpc":"2.0","id":{"n":1},"result":{}}`, false, []string{"id"}},
		{"bool id", `{"jsonrpc":"2.0","id":true,"result":{}}`, false, []string{"id"}},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"result":{}}`, false, []string{"jsonrpc"}},
		{"missing version", `{"id":1,"result":{}}`, false, []string{"jsonrpc"}},
		{"response without id", `{"jsonrpc":"2.0","result":{}}`, false, []string{"id"}},
		{"string error", `{"jsonrpc":"2.0","id":1,"error":"boom"}`, false, []string{"error"}},
		{"fractional code", `{"jsonrpc":"2.0","id":1,"error":{"code":1.5,"message":"x"}}`, false, []string{"error.code"}},
		{"string code", `{"jsonrpc":"2.0","id":1,"error":{"code":"-32600","message":"x"}}`, false, []string{"error.code"}},
		{"null message", `{"jsonrpc":"2.0","id":1,"error":{"code":1,"message":null}}`, false, []string{"error.message"}},
		{"request with result", `{"jsonrpc":"2.0","id":1,"method":"ping","result":{}}`, false, []string{"method"}},
		{"array", `[1,2]`, false, []string{""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateMessage([]byte(tt.raw))
			assert.Equal(t, tt.wantValid, got.Valid, got.String())
			if tt.wantFields != nil {
				assert.Equal(t, tt.wantFields, got.Fields())
			}
		})
	}
}

func TestValidateToolDeclaration(t *testing.T) {
	v := newValidator(t)

	ok := v.ValidateToolDeclaration([]byte(`{"name":"ping","description":"d","inputSchema":{"type":"object","properties":{}},"x-extra":true}`))
	assert.True(t, ok.Valid, ok.String())

	missing := v.ValidateToolDeclaration([]byte(`{"description":"no name","inputSchema":{"type":"object"}}`))
	assert.False(t, missing.Valid)
	assert.Contains(t, missing.Fields(), "name")

	badSchema := v.ValidateToolDeclaration([]byte(`{"name":"t","inputSchema":{"type":"array"}}`))
	assert.False(t, badSchema.Valid)
	assert.Contains(t, badSchema.Fields(), "inputSchema.type")

	wrongType := v.ValidateToolDeclaration([]byte(`{"name":7,"inputSchema":{"type":"object"}}`))
	assert.False(t, wrongType.Valid)
	assert.Contains(t, wrongType.Fields(), "name")
}

func TestValidateResourceDeclaration(t *testing.T) {
	v := newValidator(t)

	assert.True(t, v.ValidateResourceDeclaration([]byte(`{"uri":"file:///a","name":"a","mimeType":"text/plain"}`)).Valid)

	res := v.ValidateResourceDeclaration([]byte(`{"description":"nothing"}`))
	assert.False(t, res.Valid)
	assert.Contains(t, res.Fields(), "uri")
	assert.Contains(t, res.Fields(), "name")
}

func TestValidatePromptDeclaration(t *testing.T) {
	v := newValidator(t)

	assert.True(t, v.ValidatePromptDeclaration([]byte(`{"name":"greet","arguments":[{"name":"who","required":true}]}`)).Valid)

	res := v.ValidatePromptDeclaration([]byte(`{"name":"greet","arguments":[{"required":true}]}`))
	assert.False(t, res.Valid)
	require.Len(t, res.Fields(), 1)
	assert.Regexp(t, `^arguments\.\[?0\]?\.?name$`, res.Fields()[0])
}

func TestValidateResults(t *testing.T) {
	v := newValidator(t)

	assert.True(t, v.ValidateInitializeResult([]byte(`{"protocolVersion":"2025-06-18","capabilities":{"tools":{}},"serverInfo":{"name":"s","version":"1"}}`)).Valid)
	noVersion := v.ValidateInitializeResult([]byte(`{"capabilities":{},"serverInfo":{"name":"s","version":"1"}}`))
	assert.Contains(t, noVersion.Fields(), "protocolVersion")

	assert.True(t, v.ValidateCallToolResult([]byte(`{"content":[{"type":"text","text":"pong"}]}`)).Valid)
	badContent := v.ValidateCallToolResult([]byte(`{"content":[{"type":"text"}]}`))
	assert.False(t, badContent.Valid)

	assert.True(t, v.ValidateReadResourceResult([]byte(`{"contents":[{"uri":"fake://readme","text":"hi"}]}`)).Valid)
	assert.False(t, v.ValidateReadResourceResult([]byte(`{"contents":[{"text":"no uri"}]}`)).Valid)

	assert.True(t, v.ValidateGetPromptResult([]byte(`{"messages":[{"role":"user","content":{"type":"text","text":"hi"}}]}`)).Valid)
	assert.False(t, v.ValidateGetPromptResult([]byte(`{"messages":[{"role":"system","content":{"type":"text","text":"hi"}}]}`)).Valid)
}

func TestValidate_NonObject(t *testing.T) {
	v := newValidator(t)

	res := v.Validate(KindTool, []byte(`["ping"]`))
	assert.False(t, res.Valid)
	assert.Contains(t, res.String(), "must be a JSON object")

	res = v.Validate(KindTool, []byte(`{`))
	assert.False(t, res.Valid)
	assert.Contains(t, res.String(), "not valid JSON")

	res = v.Validate(Kind("widget"), []byte(`{}`))
	assert.False(t, res.Valid)
}

func TestValidate_MessageKindDelegates(t *testing.T) {
	v := newValidator(t)
	assert.False(t, v.Validate(KindMessage, []byte(`{"jsonrpc":"2.0","id":1}`)).Valid)
}

func TestResult_String(t *testing.T) {
	r := Result{Violations: []Violation{{Field: "name", Message: "required field is missing"}, {Message: "bad"}}}
	assert.Equal(t, "name: required field is missing; bad", r.String())
	assert.Equal(t, "valid", Result{Valid: true}.String())
}

func TestKinds(t *testing.T) {
	assert.Contains(t, Kinds(), "tool")
	assert.Contains(t, Kinds(), "message")
	assert.Len(t, Kinds(), 8)
}
