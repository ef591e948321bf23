package jsonrpc

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/mnehpets/a2aserve/a2a"
)

// RequestHandler executes the protocol operations. The call context of the
// request is available from ctx via CallContextFromContext.
//
// Unary operations return a result or an error. An *Error is delivered to the
// caller as is; any other error is reported as an internal error, except
// ErrMethodNotImplemented which is reported as an unsupported operation.
//
// Streaming operations return a sequence that is not started until the
// response is written. Each yielded event becomes one frame; a yielded *Error
// becomes an error frame. The sequence must stop when ctx is done.
type RequestHandler interface {
	OnMessageSend(ctx context.Context, params *a2a.MessageSendParams) (a2a.SendMessageResult, error)
	OnMessageSendStream(ctx context.Context, params *a2a.MessageSendParams) iter.Seq2[a2a.Event, error]
	OnGetTask(ctx context.Context, params *a2a.TaskQueryParams) (*a2a.Task, error)
	OnCancelTask(ctx context.Context, params *a2a.TaskIDParams) (*a2a.Task, error)
	OnResubscribeToTask(ctx context.Context, params *a2a.TaskQueryParams) iter.Seq2[a2a.Event, error]
	OnSetTaskPushNotificationConfig(ctx context.Context, params *a2a.TaskPushNotificationConfig) (*a2a.TaskPushNotificationConfig, error)
	OnGetTaskPushNotificationConfig(ctx context.Context, params *a2a.GetTaskPushNotificationConfigParams) (*a2a.TaskPushNotificationConfig, error)
	OnListTaskPushNotificationConfig(ctx context.Context, params *a2a.ListTaskPushNotificationConfigParams) ([]*a2a.TaskPushNotificationConfig, error)
	OnDeleteTaskPushNotificationConfig(ctx context.Context, params *a2a.DeleteTaskPushNotificationConfigParams) error
}

// Outcome is the result of dispatching a request: exactly one of Result
// (which may be nil), Err or Stream is meaningful. Stream is set only for
// streaming methods.
type Outcome struct {
	Result any
	Err    error
	Stream iter.Seq2[a2a.Event, error]
}

// route binds a method to its params type and handler operation.
type route struct {
	streaming bool
	newParams func() a2a.Validator
	call      func(ctx context.Context, h RequestHandler, params a2a.Validator) Outcome
}

func unary[T any, P interface {
	*T
	a2a.Validator
}, R any](op func(RequestHandler, context.Context, P) (R, error)) route {
	return route{
		newParams: func() a2a.Validator { return P(new(T)) },
		call: func(ctx context.Context, h RequestHandler, params a2a.Validator) Outcome {
			p, ok := params.(P)
			if !ok {
				return Outcome{Err: fmt.Errorf("jsonrpc: unexpected params type %T", params)}
			}
			res, err := op(h, ctx, p)
			if err != nil {
				return Outcome{Err: err}
			}
			return Outcome{Result: res}
		},
	}
}

func stream[T any, P interface {
	*T
	a2a.Validator
}](op func(RequestHandler, context.Context, P) iter.Seq2[a2a.Event, error]) route {
	return route{
		streaming: true,
		newParams: func() a2a.Validator { return P(new(T)) },
		call: func(ctx context.Context, h RequestHandler, params a2a.Validator) Outcome {
			p, ok := params.(P)
			if !ok {
				return Outcome{Err: fmt.Errorf("jsonrpc: unexpected params type %T", params)}
			}
			seq := op(h, ctx, p)
			if seq == nil {
				return Outcome{Err: errors.New("jsonrpc: handler returned a nil stream")}
			}
			return Outcome{Stream: seq}
		},
	}
}

func deletePushNotificationConfig(h RequestHandler, ctx context.Context, p *a2a.DeleteTaskPushNotificationConfigParams) (any, error) {
	return nil, h.OnDeleteTaskPushNotificationConfig(ctx, p)
}

// routes is read-only after package initialization.
var routes = map[string]route{
	a2a.MethodSendMessage:                      unary(RequestHandler.OnMessageSend),
	a2a.MethodSendStreamingMessage:             stream(RequestHandler.OnMessageSendStream),
	a2a.MethodGetTask:                          unary(RequestHandler.OnGetTask),
	a2a.MethodCancelTask:                       unary(RequestHandler.OnCancelTask),
	a2a.MethodTaskResubscription:               stream(RequestHandler.OnResubscribeToTask),
	a2a.MethodSetTaskPushNotificationConfig:    unary(RequestHandler.OnSetTaskPushNotificationConfig),
	a2a.MethodGetTaskPushNotificationConfig:    unary(RequestHandler.OnGetTaskPushNotificationConfig),
	a2a.MethodListTaskPushNotificationConfig:   unary(RequestHandler.OnListTaskPushNotificationConfig),
	a2a.MethodDeleteTaskPushNotificationConfig: unary(deletePushNotificationConfig),
}

// Methods returns the supported method names.
func Methods() []string {
	out := make([]string, 0, len(routes))
	for m := range routes {
		out = append(out, m)
	}
	return out
}

// Dispatch invokes the handler operation for req.Method. Unary operations run
// to completion before Dispatch returns; streaming operations return their
// unstarted sequence. A panic in the handler is returned as an error.
func Dispatch(ctx context.Context, h RequestHandler, req *Request) (out Outcome) {
	defer func() {
		if v := recover(); v != nil {
			out = Outcome{Err: newPanicError(v)}
		}
	}()
	if req == nil {
		return Outcome{Err: fmt.Errorf("%w: nil request", ErrUnroutable)}
	}
	rt, ok := routes[req.Method]
	if !ok {
		return Outcome{Err: fmt.Errorf("%w: %q", ErrUnroutable, req.Method)}
	}
	if h == nil {
		return Outcome{Err: errors.New("jsonrpc: nil RequestHandler")}
	}
	return rt.call(ctx, h, req.Params)
}

// UnimplementedHandler reports every operation as not implemented. Embed it
// to implement a subset of RequestHandler.
type UnimplementedHandler struct{}

func (UnimplementedHandler) OnMessageSend(context.Context, *a2a.MessageSendParams) (a2a.SendMessageResult, error) {
	return nil, ErrMethodNotImplemented
}

func (UnimplementedHandler) OnMessageSendStream(context.Context, *a2a.MessageSendParams) iter.Seq2[a2a.Event, error] {
	return unimplementedStream
}

func (UnimplementedHandler) OnGetTask(context.Context, *a2a.TaskQueryParams) (*a2a.Task, error) {
	return nil, ErrMethodNotImplemented
}

func (UnimplementedHandler) OnCancelTask(context.Context, *a2a.TaskIDParams) (*a2a.Task, error) {
	return nil, ErrMethodNotImplemented
}

func (UnimplementedHandler) OnResubscribeToTask(context.Context, *a2a.TaskQueryParams) iter.Seq2[a2a.Event, error] {
	return unimplementedStream
}

func (UnimplementedHandler) OnSetTaskPushNotificationConfig(context.Context, *a2a.TaskPushNotificationConfig) (*a2a.TaskPushNotificationConfig, error) {
	return nil, ErrMethodNotImplemented
}

func (UnimplementedHandler) OnGetTaskPushNotificationConfig(context.Context, *a2a.GetTaskPushNotificationConfigParams) (*a2a.TaskPushNotificationConfig, error) {
	return nil, ErrMethodNotImplemented
}

func (UnimplementedHandler) OnListTaskPushNotificationConfig(context.Context, *a2a.ListTaskPushNotificationConfigParams) ([]*a2a.TaskPushNotificationConfig, error) {
	return nil, ErrMethodNotImplemented
}

func (UnimplementedHandler) OnDeleteTaskPushNotificationConfig(context.Context, *a2a.DeleteTaskPushNotificationConfigParams) error {
	return ErrMethodNotImplemented
}

func unimplementedStream(yield func(a2a.Event, error) bool) {
	yield(nil, ErrMethodNotImplemented)
}

var _ RequestHandler = UnimplementedHandler{}
