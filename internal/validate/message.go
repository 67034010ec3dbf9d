package validate

import (
	"bytes"
	"encoding/json"

	"github.com/roach88/mcpcheck/internal/jsonrpc"
)

// ValidateMessage checks one JSON-RPC 2.0 envelope.
//
// Rejected: a jsonrpc member other than "2.0"; result and error together;
// a response with neither; a request carrying result or error; an id that
// is not a string, number or null; an error member that is not an object
// with an integer code and a string message.
func ValidateMessage(raw []byte) Result {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(raw, &members); err != nil {
		return invalid(Violation{Message: "not a JSON object: " + err.Error()})
	}

	var vs []Violation

	var version string
	if v, ok := members["jsonrpc"]; !ok {
		vs = append(vs, Violation{Field: "jsonrpc", Message: "required field is missing"})
	} else if json.Unmarshal(v, &version) != nil || version != jsonrpc.Version {
		vs = append(vs, Violation{Field: "jsonrpc", Message: `must be "2.0"`})
	}

	rawID, hasID := members["id"]
	_, hasResult := members["result"]
	rawErr, hasError := members["error"]
	rawMethod, hasMethod := members["method"]

	if hasID {
		switch jsonrpc.ID(rawID).Kind() {
		case jsonrpc.IDString, jsonrpc.IDNumber, jsonrpc.IDNull:
		default:
			vs = append(vs, Violation{Field: "id", Message: "must be a string, number or null"})
		}
	}

	if hasMethod {
		var method string
		if json.Unmarshal(rawMethod, &method) != nil || method == "" {
			vs = append(vs, Violation{Field: "method", Message: "must be a non-empty string"})
		}
		if hasResult || hasError {
			vs = append(vs, Violation{Field: "method", Message: "request must not carry result or error"})
		}
		return invalid(vs...)
	}

	// Response-shaped from here on
	switch {
	case hasResult && hasError:
		vs = append(vs, Violation{Field: "result", Message: "response contains both result and error"})
	case !hasResult && !hasError:
		vs = append(vs, Violation{Field: "result", Message: "response contains neither result nor error"})
	}
	if !hasID {
		vs = append(vs, Violation{Field: "id", Message: "response must carry an id (null when unknown)"})
	}
	if hasError {
		vs = append(vs, errorObjectViolations(rawErr)...)
	}
	return invalid(vs...)
}

func errorObjectViolations(raw json.RawMessage) []Violation {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return []Violation{{Field: "error", Message: "must be an object"}}
	}

	var vs []Violation
	if c, ok := obj["code"]; !ok {
		vs = append(vs, Violation{Field: "error.code", Message: "required field is missing"})
	} else if !isInteger(c) {
		vs = append(vs, Violation{Field: "error.code", Message: "must be an integer"})
	}

	var message string
	if m, ok := obj["message"]; !ok {
		vs = append(vs, Violation{Field: "error.message", Message: "required field is missing"})
	} else if json.Unmarshal(m, &message) != nil || bytes.Equal(bytes.TrimSpace(m), []byte("null")) {
		vs = append(vs, Violation{Field: "error.message", Message: "must be a string"})
	}
	return vs
}

func isInteger(raw json.RawMessage) bool {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if dec.Decode(&v) != nil {
		return false
	}
	n, ok := v.(json.Number)
	if !ok {
		return false
	}
	_, err := n.Int64()
	return err == nil
}
