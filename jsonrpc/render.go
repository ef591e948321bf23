package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/mnehpets/a2aserve/a2a"
	"github.com/mnehpets/a2aserve/endpoint"
)

// Response is a JSON-RPC response object. It always carries "id", and
// carries "error" when Error is set and "result" (possibly null) otherwise.
type Response struct {
	ID     ID
	Result any
	Error  *Error
}

func (r Response) MarshalJSON() ([]byte, error) {
	if r.Error != nil {
		return json.Marshal(struct {
			JSONRPC string `json:"jsonrpc"`
			ID      ID     `json:"id"`
			Error   *Error `json:"error"`
		}{Version, r.ID, r.Error})
	}
	return json.Marshal(struct {
		JSONRPC string `json:"jsonrpc"`
		ID      ID     `json:"id"`
		Result  any    `json:"result"`
	}{Version, r.ID, r.Result})
}

// unaryRenderer writes a single encoded response with HTTP 200, whether it
// carries a result or an error.
func unaryRenderer(encoded []byte) endpoint.Renderer {
	return &endpoint.JSONRenderer{Status: http.StatusOK, Value: json.RawMessage(encoded)}
}

// streamRenderer writes the events of a streaming outcome as server-sent
// events, one response object per event.
type streamRenderer struct {
	id       ID
	method   string
	events   iter.Seq2[a2a.Event, error]
	cancel   context.CancelFunc
	logger   *slog.Logger
	observer Observer
	started  time.Time
	// errorFrames adds a final error frame when the stream fails.
	errorFrames bool
	keepAlive   time.Duration
}

// Render implements endpoint.Renderer. The stream is observed as ended once
// its producer has finished, which may be after Render returns when the
// client goes away.
func (s *streamRenderer) Render(w http.ResponseWriter, r *http.Request) error {
	if _, ok := w.(http.Flusher); !ok {
		s.observer.ObserveRequest(s.method, CodeInternalError, time.Since(s.started))
		return errors.New("jsonrpc: streaming requires an http.Flusher")
	}
	s.observer.StreamStarted(s.method)
	sse := &endpoint.SSERenderer{Events: s.frames(r.Context()), KeepAlive: s.keepAlive}
	return sse.Render(w, r)
}

// Close releases the producer when the response is done or abandoned.
func (s *streamRenderer) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

func (s *streamRenderer) frames(ctx context.Context) iter.Seq[endpoint.SSEvent] {
	return func(yield func(endpoint.SSEvent) bool) {
		code := 0
		defer func() {
			s.observer.StreamEnded(s.method)
			s.observer.ObserveRequest(s.method, code, time.Since(s.started))
		}()
		err := s.drain(ctx, yield)
		if err == nil {
			return
		}
		rpcErr, level := Translate(err)
		code = rpcErr.Code
		logError(ctx, s.logger, s.id, s.method, rpcErr, level)
		if s.errorFrames {
			if ev, ok := s.frame(ctx, Response{ID: s.id, Error: rpcErr}); ok {
				yield(ev)
			}
		}
	}
}

// drain forwards events until the producer finishes, the consumer stops, or
// the producer fails. A failure, including a panic, is returned; explicit
// *Error values and ErrMethodNotImplemented are forwarded as error frames.
func (s *streamRenderer) drain(ctx context.Context, yield func(endpoint.SSEvent) bool) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = newPanicError(v)
		}
	}()
	for ev, evErr := range s.events {
		var resp Response
		switch {
		case evErr != nil:
			var rpcErr *Error
			if !errors.As(evErr, &rpcErr) && !errors.Is(evErr, ErrMethodNotImplemented) {
				return evErr
			}
			var level slog.Level
			rpcErr, level = Translate(evErr)
			logError(ctx, s.logger, s.id, s.method, rpcErr, level)
			resp = Response{ID: s.id, Error: rpcErr}
		case ev == nil:
			continue
		default:
			resp = Response{ID: s.id, Result: ev}
		}
		frame, ok := s.frame(ctx, resp)
		if !ok {
			return errors.New("jsonrpc: failed to encode stream item")
		}
		if !yield(frame) {
			return nil
		}
	}
	return nil
}

func (s *streamRenderer) frame(ctx context.Context, resp Response) (endpoint.SSEvent, bool) {
	b, err := json.Marshal(resp)
	if err != nil {
		s.logger.ErrorContext(ctx, "encode stream item", "rpc_id", s.id.String(), "error", err)
		return endpoint.SSEvent{}, false
	}
	return endpoint.SSEvent{Data: string(b)}, true
}
