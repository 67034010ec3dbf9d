// Package validate performs structural checks on JSON-RPC envelopes and on
// MCP tool, resource and prompt declarations.
//
// Envelope checks (ValidateMessage) are plain Go over the decoded members.
// Entity shapes are CUE definitions embedded from schema.cue and unified
// with the candidate document; every conflict or missing field becomes one
// Violation. Nothing here has side effects.
package validate

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	cuejson "cuelang.org/go/encoding/json"
)

//go:embed schema.cue
var schemaSource string

// Kind selects the shape a document is checked against.
type Kind string

const (
	KindMessage            Kind = "message"
	KindTool               Kind = "tool"
	KindResource           Kind = "resource"
	KindPrompt             Kind = "prompt"
	KindInitializeResult   Kind = "initialize_result"
	KindCallToolResult     Kind = "call_tool_result"
	KindReadResourceResult Kind = "read_resource_result"
	KindGetPromptResult    Kind = "get_prompt_result"
)

var definitions = map[Kind]string{
	KindTool:               "#Tool",
	KindResource:           "#Resource",
	KindPrompt:             "#Prompt",
	KindInitializeResult:   "#InitializeResult",
	KindCallToolResult:     "#CallToolResult",
	KindReadResourceResult: "#ReadResourceResult",
	KindGetPromptResult:    "#GetPromptResult",
}

// Kinds lists every supported kind, sorted.
func Kinds() []string {
	out := []string{string(KindMessage)}
	for k := range definitions {
		out = append(out, string(k))
	}
	sort.Strings(out)
	return out
}

// Violation is one failed check.
type Violation struct {
	// Field is the dotted path of the offending member; empty for the
	// document as a whole.
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Result is the outcome of one validation.
type Result struct {
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations,omitempty"`
}

func valid() Result {
	return Result{Valid: true}
}

func invalid(vs ...Violation) Result {
	return Result{Valid: len(vs) == 0, Violations: vs}
}

// Fields returns the distinct violated fields, sorted.
func (r Result) Fields() []string {
	seen := make(map[string]bool, len(r.Violations))
	var fields []string
	for _, v := range r.Violations {
		if !seen[v.Field] {
			seen[v.Field] = true
			fields = append(fields, v.Field)
		}
	}
	sort.Strings(fields)
	return fields
}

// String renders violations as "field: message; field: message".
func (r Result) String() string {
	if r.Valid {
		return "valid"
	}
	parts := make([]string, len(r.Violations))
	for i, v := range r.Violations {
		if v.Field == "" {
			parts[i] = v.Message
		} else {
			parts[i] = v.Field + ": " + v.Message
		}
	}
	return strings.Join(parts, "; ")
}

// Validator checks documents against the embedded schema.
// A cue.Context is not safe for concurrent use, so calls are serialized.
// Create one per suite run.
type Validator struct {
	mu   sync.Mutex
	ctx  *cue.Context
	defs map[Kind]cue.Value
}

// New compiles the embedded schema.
func New() (*Validator, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	defs := make(map[Kind]cue.Value, len(definitions))
	for kind, name := range definitions {
		def := schema.LookupPath(cue.ParsePath(name))
		if !def.Exists() {
			return nil, fmt.Errorf("schema has no definition %s", name)
		}
		defs[kind] = def
	}
	return &Validator{ctx: ctx, defs: defs}, nil
}

// MustNew is New for callers that cannot recover from a broken embedded schema.
func MustNew() *Validator {
	v, err := New()
	if err != nil {
		panic(err)
	}
	return v
}

// Validate checks raw against kind.
func (v *Validator) Validate(kind Kind, raw []byte) Result {
	if kind == KindMessage {
		return ValidateMessage(raw)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	def, ok := v.defs[kind]
	if !ok {
		return invalid(Violation{Message: fmt.Sprintf("unknown kind %q", kind)})
	}

	expr, err := cuejson.Extract(string(kind), raw)
	if err != nil {
		return invalid(Violation{Message: fmt.Sprintf("not valid JSON: %v", err)})
	}
	data := v.ctx.BuildExpr(expr)
	if err := data.Err(); err != nil {
		return invalid(Violation{Message: fmt.Sprintf("not valid JSON: %v", err)})
	}
	if data.Kind() != cue.StructKind {
		return invalid(Violation{Message: fmt.Sprintf("must be a JSON object, got %s", data.Kind())})
	}

	err = def.Unify(data).Validate(cue.Concrete(true), cue.All())
	if err == nil {
		return valid()
	}
	return invalid(violations(err)...)
}

// ValidateToolDeclaration checks one entry of a tools/list result.
func (v *Validator) ValidateToolDeclaration(raw []byte) Result {
	return v.Validate(KindTool, raw)
}

// ValidateResourceDeclaration checks one entry of a resources/list result.
func (v *Validator) ValidateResourceDeclaration(raw []byte) Result {
	return v.Validate(KindResource, raw)
}

// ValidatePromptDeclaration checks one entry of a prompts/list result.
func (v *Validator) ValidatePromptDeclaration(raw []byte) Result {
	return v.Validate(KindPrompt, raw)
}

// ValidateInitializeResult checks the result of initialize.
func (v *Validator) ValidateInitializeResult(raw []byte) Result {
	return v.Validate(KindInitializeResult, raw)
}

// ValidateCallToolResult checks the result of tools/call.
func (v *Validator) ValidateCallToolResult(raw []byte) Result {
	return v.Validate(KindCallToolResult, raw)
}

// ValidateReadResourceResult checks the result of resources/read.
func (v *Validator) ValidateReadResourceResult(raw []byte) Result {
	return v.Validate(KindReadResourceResult, raw)
}

// ValidateGetPromptResult checks the result of prompts/get.
func (v *Validator) ValidateGetPromptResult(raw []byte) Result {
	return v.Validate(KindGetPromptResult, raw)
}

// violations flattens a CUE error list. Paths lose their leading
// definition selector so fields read as document paths.
func violations(err error) []Violation {
	seen := make(map[Violation]bool)
	var out []Violation
	for _, e := range errors.Errors(err) {
		format, args := e.Msg()
		vi := Violation{
			Field:   fieldPath(e.Path()),
			Message: friendly(fmt.Sprintf(format, args...)),
		}
		if !seen[vi] {
			seen[vi] = true
			out = append(out, vi)
		}
	}
	if len(out) == 0 {
		out = append(out, Violation{Message: err.Error()})
	}
	return out
}

func fieldPath(path []string) string {
	for len(path) > 0 && strings.HasPrefix(path[0], "#") {
		path = path[1:]
	}
	return strings.Join(path, ".")
}

func friendly(msg string) string {
	if strings.HasPrefix(msg, "incomplete value") {
		return "required field is missing"
	}
	return msg
}
