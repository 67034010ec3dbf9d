package jsonrpc

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// IDKind classifies the JSON type of a request id.
type IDKind int

const (
	// IDAbsent means the id member was not present (notification).
	IDAbsent IDKind = iota
	// IDString is a JSON string id.
	IDString
	// IDNumber is a JSON number id.
	IDNumber
	// IDNull is the JSON null id.
	IDNull
	// IDInvalid is any other JSON type (object, array, boolean) or malformed bytes.
	IDInvalid
)

// String returns the JSON type name of the kind.
func (k IDKind) String() string {
	switch k {
	case IDAbsent:
		return "absent"
	case IDString:
		return "string"
	case IDNumber:
		return "number"
	case IDNull:
		return "null"
	default:
		return "invalid"
	}
}

// ID is a request identifier kept as the raw JSON it appeared as on the wire.
//
// The zero value (nil) is an absent id. Unmarshaling an explicit null yields
// the bytes "null", so a null id and a missing id stay distinguishable.
type ID []byte

// StringID returns a string id.
func StringID(s string) ID {
	data, _ := json.Marshal(s)
	return ID(data)
}

// NumberID returns an integer id.
func NumberID(n int64) ID {
	return ID(strconv.AppendInt(nil, n, 10))
}

// NullID returns the null id.
func NullID() ID {
	return ID("null")
}

// MarshalJSON emits the raw id. An absent id is only emitted when the
// enclosing struct does not omit it, in which case it is null.
func (id ID) MarshalJSON() ([]byte, error) {
	if len(id) == 0 {
		return []byte("null"), nil
	}
	return []byte(id), nil
}

// UnmarshalJSON stores the raw id bytes, including an explicit null.
func (id *ID) UnmarshalJSON(data []byte) error {
	*id = append((*id)[:0], data...)
	return nil
}

// IsAbsent reports whether no id member was present.
func (id ID) IsAbsent() bool {
	return len(id) == 0
}

// Kind returns the JSON type of the id.
func (id ID) Kind() IDKind {
	trimmed := bytes.TrimSpace(id)
	if len(trimmed) == 0 {
		return IDAbsent
	}
	switch c := trimmed[0]; {
	case c == '"':
		var s string
		if json.Unmarshal(trimmed, &s) != nil {
			return IDInvalid
		}
		return IDString
	case c == '-' || (c >= '0' && c <= '9'):
		var n json.Number
		if json.Unmarshal(trimmed, &n) != nil {
			return IDInvalid
		}
		return IDNumber
	case bytes.Equal(trimmed, []byte("null")):
		return IDNull
	default:
		return IDInvalid
	}
}

// Key returns the structural identity of the id.
//
// Two ids share a key only when they have the same JSON type and the same
// value: strings compare by decoded content (so "a" and "a" match),
// numbers by their literal text, and all null ids are equal.
func (id ID) Key() string {
	trimmed := bytes.TrimSpace(id)
	switch id.Kind() {
	case IDAbsent:
		return ""
	case IDString:
		var s string
		_ = json.Unmarshal(trimmed, &s)
		return "s:" + string(canonicalString(s))
	case IDNumber:
		return "n:" + string(trimmed)
	case IDNull:
		return "null"
	default:
		return "x:" + string(trimmed)
	}
}

// Equal reports structural identity.
func (id ID) Equal(other ID) bool {
	return id.Key() == other.Key()
}

// String renders the id for logs and messages.
func (id ID) String() string {
	if id.IsAbsent() {
		return "<absent>"
	}
	return string(bytes.TrimSpace(id))
}
