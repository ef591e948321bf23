// Package endpoint builds typed HTTP handlers for a2aserve.
//
// A request runs through three phases:
//
//  1. Processors: middleware that may inspect or rewrite the request, attach
//     values to its context, register response hooks with Defer, or reject it
//     with an EndpointError.
//  2. Endpoint: Unmarshal fills a params struct from path values, query
//     parameters and headers, then the EndpointFunc runs with it and returns
//     a Renderer. It does not write to the response itself.
//  3. Render: the Renderer writes status, headers and body.
//
// Renderers:
//   - JSONRenderer: a value encoded as JSON.
//   - SSERenderer: a stream of server-sent events.
//   - StringRenderer: a plain string.
//   - NoContentRenderer: a bare status code.
package endpoint

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
)

// EndpointError is an error that carries the HTTP status to respond with.
type EndpointError struct {
	Status int
	// Message is sent as the response body; empty means the status text.
	Message string
	Cause   error
}

func (e *EndpointError) Error() string {
	if e == nil {
		return "endpoint: error: <nil>"
	}
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
		if msg == "" {
			msg = "unknown error"
		}
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *EndpointError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Error returns an EndpointError, or err itself if it already wraps one.
func Error(status int, message string, err error) error {
	return newEndpointError(status, message, err)
}

func newEndpointError(status int, message string, err error) error {
	var ee *EndpointError
	if errors.As(err, &ee) {
		return err
	}
	return &EndpointError{Status: status, Message: message, Cause: err}
}

// Renderer writes a complete response: it must call WriteHeader (explicitly
// or through Write). A returned error means the response could not be
// written; if nothing was written yet the handler answers 500.
//
// A Renderer that also implements io.Closer is closed once the handler is
// done with it, whether or not Render was called.
type Renderer interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

// RendererFunc adapts a function to a Renderer.
type RendererFunc func(w http.ResponseWriter, r *http.Request) error

func (f RendererFunc) Render(w http.ResponseWriter, r *http.Request) error {
	return f(w, r)
}

// Processor is middleware run before the endpoint. It must either call next
// or return without writing to w; a non-nil error stops the chain and is
// written as the response. Processors may set headers but must not call
// WriteHeader or write a body.
type Processor interface {
	Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error
}

// ProcessorFunc adapts a function to a Processor.
type ProcessorFunc func(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error

func (f ProcessorFunc) Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error {
	return f(w, r, next)
}

// EndpointFunc handles a request with decoded params and returns the
// Renderer for the response. P is normally a struct whose tags are read by
// Unmarshal.
type EndpointFunc[P any] func(w http.ResponseWriter, r *http.Request, params P) (Renderer, error)

// EndpointHandler is an http.Handler running Processors and then Endpoint.
type EndpointHandler[P any] struct {
	Endpoint   EndpointFunc[P]
	Processors []Processor
	// Logger receives server-side failures (status >= 500). Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// Handler returns an EndpointHandler for fn, inferring P.
func Handler[P any](fn EndpointFunc[P], processors ...Processor) *EndpointHandler[P] {
	return &EndpointHandler[P]{
		Endpoint:   fn,
		Processors: processors,
	}
}

// HandleFunc is Handler as an http.HandlerFunc.
func HandleFunc[P any](fn EndpointFunc[P], processors ...Processor) http.HandlerFunc {
	return Handler(fn, processors...).ServeHTTP
}

type hooksKey struct{}

// Defer registers fn to run just before the response headers are written,
// whether the request succeeds or fails. Hooks run in reverse order of
// registration. Outside an EndpointHandler, Defer does nothing.
func Defer(ctx context.Context, fn func(http.ResponseWriter)) {
	if hooks, ok := ctx.Value(hooksKey{}).(*[]func(http.ResponseWriter)); ok && hooks != nil {
		*hooks = append(*hooks, fn)
	}
}

// Commit runs and clears the hooks registered with Defer. EndpointHandler
// calls it before rendering; later calls are no-ops.
func Commit(ctx context.Context, w http.ResponseWriter) {
	hooks, ok := ctx.Value(hooksKey{}).(*[]func(http.ResponseWriter))
	if !ok || hooks == nil {
		return
	}
	for i := len(*hooks) - 1; i >= 0; i-- {
		(*hooks)[i](w)
	}
	*hooks = nil
}

func (h *EndpointHandler[P]) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// ServeHTTP implements http.Handler.
func (h *EndpointHandler[P]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Endpoint == nil {
		http.Error(w, "endpoint: nil EndpointFunc", http.StatusInternalServerError)
		return
	}
	if r.Context().Value(hooksKey{}) == nil {
		var hooks []func(http.ResponseWriter)
		r = r.WithContext(context.WithValue(r.Context(), hooksKey{}, &hooks))
	}

	var run func(i int, w http.ResponseWriter, r *http.Request) error
	run = func(i int, w http.ResponseWriter, r *http.Request) error {
		if i < len(h.Processors) {
			p := h.Processors[i]
			if p == nil {
				return errors.New("endpoint: nil processor")
			}
			return p.Process(w, r, func(w http.ResponseWriter, r *http.Request) error {
				return run(i+1, w, r)
			})
		}

		var params P
		if err := Unmarshal(r, &params); err != nil {
			return err
		}
		renderer, err := h.Endpoint(w, r, params)
		if c, ok := renderer.(io.Closer); ok {
			defer c.Close()
		}
		if err != nil {
			return err
		}
		if renderer == nil {
			return errors.New("endpoint: nil renderer")
		}
		Commit(r.Context(), w)
		return renderer.Render(w, r)
	}

	if err := run(0, w, r); err != nil {
		status := http.StatusInternalServerError
		message := err.Error()
		var ee *EndpointError
		if errors.As(err, &ee) && ee != nil {
			if ee.Status >= 100 && ee.Status <= 999 {
				status = ee.Status
			}
			message = ee.Message
			if message == "" {
				message = http.StatusText(status)
			}
		}
		if status >= http.StatusInternalServerError {
			h.logger().ErrorContext(r.Context(), "endpoint error", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
		}
		Commit(r.Context(), w)
		http.Error(w, message, status)
	}
}
