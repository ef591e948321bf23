package endpoint

import (
	"errors"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"
)

// SSEvent is one server-sent event.
type SSEvent struct {
	ID   *string // nil omits the id field; "" resets the client's last event id
	Type *string // nil omits the event field
	Data string
}

// WriteTo implements io.WriterTo. Multi-line data is split across data fields.
func (e SSEvent) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder
	if e.ID != nil {
		sb.WriteString("id: " + *e.ID + "\n")
	}
	if e.Type != nil {
		sb.WriteString("event: " + *e.Type + "\n")
	}
	sb.WriteString("data: ")
	sb.WriteString(strings.ReplaceAll(e.Data, "\n", "\ndata: "))
	sb.WriteString("\n\n")
	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

// keepAliveComment is ignored by event-stream parsers.
const keepAliveComment = ": ping\n\n"

// SSERenderer streams Events as text/event-stream, flushing after each event.
//
// Events is consumed on its own goroutine. Rendering ends when Events is
// exhausted, a write fails, or the request context is done; in the last two
// cases the iteration is stopped at its next yield.
type SSERenderer struct {
	Events iter.Seq[SSEvent]
	// KeepAlive, when positive, writes a comment after that long without an
	// event so intermediaries do not drop an idle stream.
	KeepAlive time.Duration
}

// Render implements Renderer.
func (r *SSERenderer) Render(w http.ResponseWriter, req *http.Request) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return errors.New("sse: ResponseWriter does not implement http.Flusher")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := req.Context()
	done := make(chan struct{})
	defer close(done)

	eventCh := make(chan SSEvent, 1)
	go func() {
		defer close(eventCh)
		if r.Events == nil {
			return
		}
		for event := range r.Events {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case eventCh <- event:
			}
		}
	}()

	var tick <-chan time.Time
	if r.KeepAlive > 0 {
		ticker := time.NewTicker(r.KeepAlive)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			if _, err := io.WriteString(w, keepAliveComment); err != nil {
				return err
			}
			flusher.Flush()
		case event, ok := <-eventCh:
			if !ok {
				return nil
			}
			if _, err := event.WriteTo(w); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}
