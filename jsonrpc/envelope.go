package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/mnehpets/a2aserve/a2a"
)

// Version is the only accepted value of the "jsonrpc" member.
const Version = "2.0"

// Request is a decoded and validated request envelope. Params holds the
// method's params type, e.g. *a2a.TaskQueryParams for tasks/get.
type Request struct {
	ID     ID
	Method string
	Params a2a.Validator
}

// Streaming reports whether the request's response is an event stream.
func (r *Request) Streaming() bool {
	rt, ok := routes[r.Method]
	return ok && rt.streaming
}

// SyntaxError reports a request body that is not well-formed JSON.
type SyntaxError struct {
	Err error
}

func (e *SyntaxError) Error() string {
	return "jsonrpc: malformed request: " + e.Err.Error()
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

// ValidationError reports a well-formed body that is not a valid request.
// ID holds the request id when it could be recovered, and null otherwise.
type ValidationError struct {
	ID     ID
	Method string
	Errors []a2a.FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		msgs[i] = fe.String()
	}
	return "jsonrpc: invalid request: " + strings.Join(msgs, "; ")
}

// DecodeRequest decodes body into a request for one of the supported methods.
// It fails with *SyntaxError when body is not JSON and with *ValidationError
// when it is JSON but not a valid request.
func DecodeRequest(body []byte) (*Request, error) {
	if !json.Valid(body) {
		var v any
		err := json.Unmarshal(body, &v)
		if err == nil {
			err = errors.New("invalid JSON")
		}
		return nil, &SyntaxError{Err: err}
	}

	var members map[string]json.RawMessage
	if err := json.Unmarshal(body, &members); err != nil || members == nil {
		return nil, &ValidationError{Errors: []a2a.FieldError{{Loc: []any{}, Msg: "Input should be an object", Type: "model_type"}}}
	}

	var errs []a2a.FieldError
	var id ID
	if raw, ok := members["id"]; ok {
		if err := id.UnmarshalJSON(raw); err != nil {
			errs = append(errs, a2a.FieldError{Loc: []any{"id"}, Msg: err.Error(), Type: "value_error"})
		}
	}
	if raw, ok := members["jsonrpc"]; ok {
		var v string
		if err := json.Unmarshal(raw, &v); err != nil || v != Version {
			errs = append(errs, a2a.FieldError{Loc: []any{"jsonrpc"}, Msg: "Input should be '2.0'", Type: "literal_error"})
		}
	}

	var method string
	var rt route
	if raw, ok := members["method"]; !ok {
		errs = append(errs, a2a.FieldError{Loc: []any{"method"}, Msg: "Field required", Type: "missing"})
	} else if err := json.Unmarshal(raw, &method); err != nil {
		errs = append(errs, a2a.FieldError{Loc: []any{"method"}, Msg: "Input should be a valid string", Type: "string_type"})
	} else if rt, ok = routes[method]; !ok {
		errs = append(errs, a2a.FieldError{Loc: []any{"method"}, Msg: fmt.Sprintf("Unsupported method %q", method), Type: "literal_error"})
	}

	var params a2a.Validator
	if rt.newParams != nil {
		raw := members["params"]
		if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			errs = append(errs, a2a.FieldError{Loc: []any{"params"}, Msg: "Field required", Type: "missing"})
		} else {
			params = rt.newParams()
			if err := json.Unmarshal(raw, params); err != nil {
				errs = append(errs, paramsDecodeError(err))
			} else {
				for _, fe := range params.Validate() {
					fe.Loc = append([]any{"params"}, fe.Loc...)
					errs = append(errs, fe)
				}
			}
		}
	}

	if len(errs) > 0 {
		return nil, &ValidationError{ID: id, Method: method, Errors: errs}
	}
	return &Request{ID: id, Method: method, Params: params}, nil
}

// paramsDecodeError converts a params decoding failure into a FieldError.
func paramsDecodeError(err error) a2a.FieldError {
	loc := []any{"params"}
	var te *json.UnmarshalTypeError
	if errors.As(err, &te) {
		if te.Field != "" {
			for _, f := range strings.Split(te.Field, ".") {
				loc = append(loc, f)
			}
		}
		return a2a.FieldError{Loc: loc, Msg: "Input should be a valid " + jsonType(te.Type), Type: "type_error"}
	}
	return a2a.FieldError{Loc: loc, Msg: err.Error(), Type: "value_error"}
}

func jsonType(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice, reflect.Array:
		return "array"
	default:
		return "object"
	}
}
