package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Version is the only protocol version accepted in the jsonrpc member.
const Version = "2.0"

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// Server-defined errors occupy [-32099, -32000].
	CodeServerErrorMin = -32099
	CodeServerErrorMax = -32000

	// CodeResourceNotFound is the MCP server-defined code for unknown resources.
	CodeResourceNotFound = -32002
)

// IsServerErrorCode reports whether code lies in the server-defined range.
func IsServerErrorCode(code int) bool {
	return code >= CodeServerErrorMin && code <= CodeServerErrorMax
}

// Envelope is a single JSON-RPC 2.0 message: request, notification or response.
type Envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`

	// Raw holds the bytes the envelope was decoded from (responses only).
	Raw json.RawMessage `json:"-"`
}

// ErrorObject is the error member of a response.
type ErrorObject struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *ErrorObject) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// IsNotification reports whether the envelope is a notification
// (has a method and no id member at all).
func (e *Envelope) IsNotification() bool {
	return e.Method != "" && e.ID.IsAbsent()
}

// IsRequest reports whether the envelope is a request (method and id).
func (e *Envelope) IsRequest() bool {
	return e.Method != "" && !e.ID.IsAbsent()
}

// IsResponse reports whether the envelope is shaped like a response.
func (e *Envelope) IsResponse() bool {
	return e.Method == "" && (e.HasResult() || e.Error != nil || !e.ID.IsAbsent())
}

// HasResult reports whether a result member was present (including null).
func (e *Envelope) HasResult() bool {
	return len(e.Result) > 0
}

// DecodeResult unmarshals the result member into v.
// Returns the error object if the response carries one.
func (e *Envelope) DecodeResult(v any) error {
	if e.Error != nil {
		return e.Error
	}
	if !e.HasResult() {
		return fmt.Errorf("response has no result member")
	}
	if err := json.Unmarshal(e.Result, v); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// NewRequest builds a request envelope. A zero id builds a notification.
func NewRequest(id ID, method string, params any) (*Envelope, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return &Envelope{JSONRPC: Version, ID: id, Method: method, Params: raw}, nil
}

// NewNotification builds a notification envelope.
func NewNotification(method string, params any) (*Envelope, error) {
	return NewRequest(nil, method, params)
}

// marshalParams encodes params; nil params are omitted from the envelope.
func marshalParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return data, nil
}

// Encode serializes a single envelope as one wire line (trailing newline included).
func Encode(e *Envelope) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return append(data, '\n'), nil
}

// EncodeBatch serializes envelopes as one JSON array on a single wire line.
func EncodeBatch(batch []*Envelope) ([]byte, error) {
	data, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodeLine parses one wire line into envelopes.
// A JSON array yields every element and batch=true.
// Each returned envelope keeps its own raw bytes in Raw.
func DecodeLine(line []byte) (msgs []*Envelope, batch bool, err error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return nil, false, nil
	}

	if trimmed[0] == '[' {
		var elems []json.RawMessage
		if err := json.Unmarshal(trimmed, &elems); err != nil {
			return nil, true, fmt.Errorf("decode batch: %w", err)
		}
		msgs = make([]*Envelope, 0, len(elems))
		for i, elem := range elems {
			env, err := decodeOne(elem)
			if err != nil {
				return nil, true, fmt.Errorf("batch[%d]: %w", i, err)
			}
			msgs = append(msgs, env)
		}
		return msgs, true, nil
	}

	env, err := decodeOne(trimmed)
	if err != nil {
		return nil, false, err
	}
	return []*Envelope{env}, false, nil
}

func decodeOne(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	env.Raw = append(json.RawMessage(nil), data...)
	return &env, nil
}
