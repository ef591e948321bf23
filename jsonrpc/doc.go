// Package jsonrpc serves the agent-to-agent JSON-RPC protocol on top of
// a2aserve's endpoint processor chain.
//
// A request passes through four stages:
//
//  1. DecodeRequest validates the body against the nine supported methods and
//     yields a Request holding the method's typed params.
//  2. A CallContextBuilder derives the caller identity and metadata, stored in
//     the handler context (see CallContextFromContext).
//  3. Dispatch routes the Request to the matching RequestHandler operation.
//  4. The outcome is rendered: unary results as one JSON response, streams as
//     server-sent events with one response object per event.
//
// Every failure on the way, including panics, is mapped by Translate to a
// JSON-RPC error object carrying the request id when it could be recovered.
//
// # Basic Usage
//
// Implement RequestHandler (embed UnimplementedHandler for a subset) and
// serve it:
//
//	type Agent struct {
//	    jsonrpc.UnimplementedHandler
//	}
//
//	func (a *Agent) OnGetTask(ctx context.Context, p *a2a.TaskQueryParams) (*a2a.Task, error) {
//	    return nil, jsonrpc.NewTaskNotFoundError()
//	}
//
//	e := jsonrpc.NewEndpoint(&Agent{})
//	http.Handle("POST /", endpoint.Handler(e.Endpoint))
//
// # Error Handling
//
// Return *Error values for protocol-level errors; they reach the caller
// unchanged. Returning ErrMethodNotImplemented yields UnsupportedOperationError
// (-32004). Any other error yields InternalError (-32603) with the error text
// as message.
//
// Every error response is delivered with HTTP 200. Failures are logged with
// log/slog: parse, invalid request, unsupported operation and internal errors
// at ERROR, other protocol errors at WARN.
//
// # Streaming
//
// message/stream and tasks/resubscribe return an iter.Seq2 that starts when
// the response is written. The handler context is cancelled when the client
// disconnects or the response ends, and the sequence must then stop. If the
// sequence fails with anything other than an *Error, the stream ends; with
// WithStreamErrorFrames it first sends one final error frame.
//
// # Processor Integration
//
// Processors can be passed to endpoint.Handler for cross-cutting concerns:
//
//	http.Handle("POST /", endpoint.Handler(e.Endpoint, bearerProcessor, rateLimitProcessor))
//
// Processor errors return HTTP error responses (not JSON-RPC errors).
package jsonrpc
