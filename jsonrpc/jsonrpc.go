package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mnehpets/a2aserve/endpoint"
)

// DefaultMaxBodyBytes bounds the request body read by an Endpoint.
const DefaultMaxBodyBytes int64 = 10 << 20 // 10MB

// DefaultStreamKeepAlive is the idle interval after which an event stream
// carries a keep-alive comment.
const DefaultStreamKeepAlive = 15 * time.Second

// Observer receives per-request measurements. Code is 0 for success.
// Implementations must be safe for concurrent use.
type Observer interface {
	ObserveRequest(method string, code int, duration time.Duration)
	StreamStarted(method string)
	StreamEnded(method string)
}

type nopObserver struct{}

func (nopObserver) ObserveRequest(string, int, time.Duration) {}
func (nopObserver) StreamStarted(string)                      {}
func (nopObserver) StreamEnded(string)                        {}

// JSONRPCEndpoint serves protocol requests for a RequestHandler.
// Use endpoint.Handler(e.Endpoint, processors...) to create an http.Handler.
type JSONRPCEndpoint struct {
	handler      RequestHandler
	builder      CallContextBuilder
	logger       *slog.Logger
	observer     Observer
	maxBodyBytes int64
	errorFrames  bool
	keepAlive    time.Duration
}

// Option configures a JSONRPCEndpoint.
type Option func(*JSONRPCEndpoint)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *JSONRPCEndpoint) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithObserver sets the request observer.
func WithObserver(o Observer) Option {
	return func(e *JSONRPCEndpoint) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithContextBuilder sets the CallContextBuilder. Defaults to
// DefaultCallContextBuilder.
func WithContextBuilder(b CallContextBuilder) Option {
	return func(e *JSONRPCEndpoint) {
		if b != nil {
			e.builder = b
		}
	}
}

// WithMaxBodyBytes bounds the request body size; n <= 0 disables the limit.
func WithMaxBodyBytes(n int64) Option {
	return func(e *JSONRPCEndpoint) {
		e.maxBodyBytes = n
	}
}

// WithStreamErrorFrames makes a stream that fails send a final error frame
// before closing. By default the stream closes without one.
func WithStreamErrorFrames(enabled bool) Option {
	return func(e *JSONRPCEndpoint) {
		e.errorFrames = enabled
	}
}

// WithStreamKeepAlive sets the keep-alive interval of event streams; d <= 0
// disables keep-alive comments.
func WithStreamKeepAlive(d time.Duration) Option {
	return func(e *JSONRPCEndpoint) {
		e.keepAlive = d
	}
}

// NewEndpoint creates an endpoint dispatching to h.
func NewEndpoint(h RequestHandler, opts ...Option) *JSONRPCEndpoint {
	e := &JSONRPCEndpoint{
		handler:      h,
		builder:      DefaultCallContextBuilder{},
		logger:       slog.Default(),
		observer:     nopObserver{},
		maxBodyBytes: DefaultMaxBodyBytes,
		keepAlive:    DefaultStreamKeepAlive,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// rpcParams captures the request headers the endpoint checks. The body is
// read by the endpoint itself, as an oversized body must be reported as a
// JSON-RPC error rather than an HTTP one.
type rpcParams struct {
	ContentType string `header:"Content-Type"`
}

// Endpoint is the endpoint function that processes JSON-RPC requests.
// Pass to endpoint.Handler() to create an http.Handler.
func (e *JSONRPCEndpoint) Endpoint(w http.ResponseWriter, r *http.Request, params rpcParams) (endpoint.Renderer, error) {
	if r.Method != http.MethodPost {
		return nil, endpoint.Error(http.StatusMethodNotAllowed, "JSON-RPC requires POST method", nil)
	}
	if !isJSONContentType(params.ContentType) {
		return nil, endpoint.Error(http.StatusUnsupportedMediaType, "Content-Type must be application/json", nil)
	}

	started := time.Now()
	logger := e.logger.With("request_id", uuid.NewString())
	body, err := e.readBody(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if !errors.As(err, &tooLarge) {
			// Other transport faults propagate as HTTP errors.
			return nil, endpoint.Error(http.StatusBadRequest, "", err)
		}
		return e.fail(r.Context(), logger, ID{}, "", started, err), nil
	}
	return e.serve(r, logger, body, started), nil
}

func (e *JSONRPCEndpoint) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	body := r.Body
	if e.maxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, e.maxBodyBytes)
	}
	return io.ReadAll(body)
}

// serve runs decode, dispatch and rendering. Any failure, including a panic,
// becomes an error response. logger carries the request id.
func (e *JSONRPCEndpoint) serve(r *http.Request, logger *slog.Logger, body []byte, started time.Time) (rend endpoint.Renderer) {
	ctx := r.Context()
	var (
		id     ID
		method string
	)
	defer func() {
		if v := recover(); v != nil {
			rend = e.fail(ctx, logger, id, method, started, newPanicError(v))
		}
	}()

	req, err := DecodeRequest(body)
	if err != nil {
		var validErr *ValidationError
		if errors.As(err, &validErr) {
			method = validErr.Method
		}
		return e.fail(ctx, logger, RecoveredID(err), method, started, err)
	}
	id, method = req.ID, req.Method

	cc := buildCallContext(e.builder, r)
	ctx = WithCallContext(ctx, cc)
	if logger.Enabled(ctx, slog.LevelDebug) {
		logger.DebugContext(ctx, "rpc request", "method", method, "rpc_id", id.String(), "user", cc.User.UserName())
	}

	if !req.Streaming() {
		out := Dispatch(ctx, e.handler, req)
		if out.Err != nil {
			return e.fail(ctx, logger, id, method, started, out.Err)
		}
		return e.succeed(ctx, logger, id, method, started, out.Result)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	out := Dispatch(streamCtx, e.handler, req)
	if out.Err != nil || out.Stream == nil {
		cancel()
		if out.Err == nil {
			out.Err = errors.New("jsonrpc: no stream")
		}
		return e.fail(ctx, logger, id, method, started, out.Err)
	}
	return &streamRenderer{
		id:          id,
		method:      method,
		events:      out.Stream,
		cancel:      cancel,
		logger:      logger,
		observer:    e.observer,
		started:     started,
		errorFrames: e.errorFrames,
		keepAlive:   e.keepAlive,
	}
}

// succeed encodes a unary result. An encoding failure yields an error response.
func (e *JSONRPCEndpoint) succeed(ctx context.Context, logger *slog.Logger, id ID, method string, started time.Time, result any) endpoint.Renderer {
	b, err := json.Marshal(Response{ID: id, Result: result})
	if err != nil {
		return e.fail(ctx, logger, id, method, started, err)
	}
	e.observer.ObserveRequest(method, 0, time.Since(started))
	return unaryRenderer(b)
}

// fail translates err, logs it and returns the error response.
func (e *JSONRPCEndpoint) fail(ctx context.Context, logger *slog.Logger, id ID, method string, started time.Time, err error) endpoint.Renderer {
	rpcErr, level := Translate(err)
	logError(ctx, logger, id, method, rpcErr, level)
	if _, ok := routes[method]; !ok {
		// Keep caller-controlled names out of observer labels.
		method = ""
	}
	e.observer.ObserveRequest(method, rpcErr.Code, time.Since(started))
	b, err := json.Marshal(Response{ID: id, Error: rpcErr})
	if err != nil {
		b, _ = json.Marshal(Response{ID: id, Error: &Error{Code: rpcErr.Code, Message: rpcErr.Message}})
	}
	return unaryRenderer(b)
}

func isJSONContentType(ct string) bool {
	if ct == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}
