package jsonrpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// PanicError is a recovered panic.
type PanicError struct {
	Value any
	Stack []byte
}

func newPanicError(v any) *PanicError {
	return &PanicError{Value: v, Stack: debug.Stack()}
}

func (e *PanicError) Error() string {
	return fmt.Sprint(e.Value)
}

// Translate maps any failure raised while serving a request to the error
// object sent to the caller and the level it is logged at.
//
//   - *Error: itself. A nil *Error is an InternalError.
//   - *SyntaxError: ParseError.
//   - *ValidationError: InvalidRequestError carrying the field errors as data.
//   - *http.MaxBytesError: InvalidRequestError "Payload too large".
//   - ErrMethodNotImplemented, ErrUnroutable: UnsupportedOperationError.
//   - anything else, including *PanicError: InternalError whose message is the
//     error text.
func Translate(err error) (*Error, slog.Level) {
	if err == nil {
		return nil, slog.LevelInfo
	}
	var (
		syntaxErr   *SyntaxError
		validErr    *ValidationError
		maxBytesErr *http.MaxBytesError
		rpcErr      *Error
		out         *Error
	)
	switch {
	case errors.As(err, &rpcErr) && rpcErr == nil:
		// A typed nil carries no code to report.
		return NewInternalError(""), taxonomy(CodeInternalError).level
	case rpcErr != nil:
		out = rpcErr
	case errors.As(err, &syntaxErr):
		out = NewParseError(syntaxErr.Err.Error())
	case errors.As(err, &validErr):
		out = NewInvalidRequestError("").WithData(validErr.Errors)
	case errors.As(err, &maxBytesErr):
		out = NewInvalidRequestError("Payload too large")
	case errors.Is(err, ErrMethodNotImplemented):
		out = NewUnsupportedOperationError("")
	case errors.Is(err, ErrUnroutable):
		out = NewUnsupportedOperationError(fmt.Sprintf("Request type is unknown: %v", err))
	default:
		out = NewInternalError(err.Error())
	}
	if out.cause == nil && out != rpcErr {
		out = out.WithCause(err)
	}
	return out, taxonomy(out.Code).level
}

// RecoveredID returns the request id carried by a decoding failure, or null.
func RecoveredID(err error) ID {
	var validErr *ValidationError
	if errors.As(err, &validErr) {
		return validErr.ID
	}
	return ID{}
}

// logError logs a translated failure at its taxonomy level. Internal errors
// include the cause and, for panics, the stack.
func logError(ctx context.Context, logger *slog.Logger, id ID, method string, rpcErr *Error, level slog.Level) {
	if !logger.Enabled(ctx, level) {
		return
	}
	attrs := []slog.Attr{
		slog.String("rpc_id", id.String()),
		slog.Int("code", rpcErr.Code),
		slog.String("message", rpcErr.Message),
	}
	if method != "" {
		attrs = append(attrs, slog.String("method", method))
	}
	if rpcErr.Data != nil {
		attrs = append(attrs, slog.Any("data", rpcErr.Data))
	}
	if rpcErr.Code == CodeInternalError {
		if cause := rpcErr.Unwrap(); cause != nil {
			attrs = append(attrs, slog.String("error", cause.Error()))
		}
		var pe *PanicError
		if errors.As(rpcErr, &pe) {
			attrs = append(attrs, slog.String("stack", string(pe.Stack)))
		}
	}
	logger.LogAttrs(ctx, level, "request error", attrs...)
}
