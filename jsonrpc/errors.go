package jsonrpc

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/mnehpets/a2aserve/a2a"
)

const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Error is a JSON-RPC error object. Handlers return *Error values to report
// protocol-level failures; they are delivered to the caller verbatim.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`

	cause error
}

func (e *Error) Error() string {
	if e == nil {
		return "jsonrpc: error: <nil>"
	}
	return fmt.Sprintf("jsonrpc: %d: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// NewError returns an error with the given code. An empty message takes the
// code's default message.
func NewError(code int, message string) *Error {
	if message == "" {
		message = taxonomy(code).message
	}
	return &Error{Code: code, Message: message}
}

// WithData returns a copy of e carrying data.
func (e *Error) WithData(data any) *Error {
	c := *e
	c.Data = data
	return &c
}

// WithCause returns a copy of e that unwraps to cause. The cause is logged
// but never sent to the caller.
func (e *Error) WithCause(cause error) *Error {
	c := *e
	c.cause = cause
	return &c
}

func NewParseError(message string) *Error {
	return NewError(CodeParseError, message)
}

func NewInvalidRequestError(message string) *Error {
	return NewError(CodeInvalidRequest, message)
}

func NewMethodNotFoundError() *Error {
	return NewError(CodeMethodNotFound, "")
}

func NewInvalidParamsError(message string) *Error {
	return NewError(CodeInvalidParams, message)
}

func NewInternalError(message string) *Error {
	return NewError(CodeInternalError, message)
}

func NewTaskNotFoundError() *Error {
	return NewError(a2a.CodeTaskNotFound, "")
}

func NewTaskNotCancelableError() *Error {
	return NewError(a2a.CodeTaskNotCancelable, "")
}

func NewPushNotificationNotSupportedError() *Error {
	return NewError(a2a.CodePushNotificationNotSupported, "")
}

func NewUnsupportedOperationError(message string) *Error {
	return NewError(a2a.CodeUnsupportedOperation, message)
}

func NewContentTypeNotSupportedError() *Error {
	return NewError(a2a.CodeContentTypeNotSupported, "")
}

func NewInvalidAgentResponseError() *Error {
	return NewError(a2a.CodeInvalidAgentResponse, "")
}

// ErrMethodNotImplemented is returned (or yielded) by handlers for operations
// this deployment does not support.
var ErrMethodNotImplemented = errors.New("jsonrpc: method not implemented")

// ErrUnroutable is returned by Dispatch for a request whose method has no route.
var ErrUnroutable = errors.New("jsonrpc: unroutable request")

// errorClass is an entry of the error taxonomy.
type errorClass struct {
	name    string
	message string
	level   slog.Level
}

// classes is never modified after init.
var classes = map[int]errorClass{
	CodeParseError:                       {"ParseError", "Invalid JSON payload", slog.LevelError},
	CodeInvalidRequest:                   {"InvalidRequestError", "Request payload validation error", slog.LevelError},
	CodeMethodNotFound:                   {"MethodNotFoundError", "Method not found", slog.LevelWarn},
	CodeInvalidParams:                    {"InvalidParamsError", "Invalid parameters", slog.LevelWarn},
	CodeInternalError:                    {"InternalError", "Internal error", slog.LevelError},
	a2a.CodeTaskNotFound:                 {"TaskNotFoundError", "Task not found", slog.LevelWarn},
	a2a.CodeTaskNotCancelable:            {"TaskNotCancelableError", "Task cannot be canceled", slog.LevelWarn},
	a2a.CodePushNotificationNotSupported: {"PushNotificationNotSupportedError", "Push Notification is not supported", slog.LevelWarn},
	a2a.CodeUnsupportedOperation:         {"UnsupportedOperationError", "This operation is not supported", slog.LevelError},
	a2a.CodeContentTypeNotSupported:      {"ContentTypeNotSupportedError", "Incompatible content types", slog.LevelWarn},
	a2a.CodeInvalidAgentResponse:         {"InvalidAgentResponseError", "Invalid agent response type", slog.LevelWarn},
}

func taxonomy(code int) errorClass {
	if c, ok := classes[code]; ok {
		return c
	}
	return errorClass{name: "Error", message: "Unknown error", level: slog.LevelWarn}
}

// ErrorName returns the canonical name of code, or "Error" for codes outside
// the taxonomy.
func ErrorName(code int) string {
	return taxonomy(code).name
}
