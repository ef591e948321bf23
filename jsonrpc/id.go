package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
)

// ID is a request identifier: a JSON string, an integer, or null. It keeps the
// exact bytes received so responses echo the id verbatim. The zero value is
// null.
type ID struct {
	raw json.RawMessage
}

// StringID returns a string id.
func StringID(s string) ID {
	b, _ := json.Marshal(s)
	return ID{raw: b}
}

// IntID returns an integer id.
func IntID(n int64) ID {
	return ID{raw: json.RawMessage(strconv.FormatInt(n, 10))}
}

// IsNull reports whether the id is absent or null.
func (id ID) IsNull() bool {
	return len(id.raw) == 0
}

// String returns the id as it appears on the wire.
func (id ID) String() string {
	if id.IsNull() {
		return "null"
	}
	return string(id.raw)
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.IsNull() {
		return []byte("null"), nil
	}
	return id.raw, nil
}

var errInvalidID = errors.New("id must be a string, an integer or null")

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return errInvalidID
	}
	switch c := b[0]; {
	case c == 'n':
		if string(b) != "null" {
			return errInvalidID
		}
		id.raw = nil
		return nil
	case c == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	case c == '-' || (c >= '0' && c <= '9'):
		if bytes.ContainsAny(b, ".eE") {
			return errInvalidID
		}
		if _, err := strconv.ParseInt(string(b), 10, 64); err != nil {
			return errInvalidID
		}
	default:
		return errInvalidID
	}
	id.raw = append(json.RawMessage(nil), b...)
	return nil
}
