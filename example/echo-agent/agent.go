package main

import (
	"context"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mnehpets/a2aserve/a2a"
	"github.com/mnehpets/a2aserve/jsonrpc"
)

// EchoAgent answers every message with its text parts, echoed back as an
// artifact. Tasks are kept in memory.
type EchoAgent struct {
	jsonrpc.UnimplementedHandler

	mu    sync.Mutex
	tasks map[string]*a2a.Task
	now   func() time.Time
}

func NewEchoAgent() *EchoAgent {
	return &EchoAgent{tasks: make(map[string]*a2a.Task), now: time.Now}
}

func (a *EchoAgent) timestamp() string {
	return a.now().UTC().Format(time.RFC3339)
}

func echoText(m *a2a.Message) string {
	var texts []string
	for _, p := range m.Parts {
		if p.Kind == a2a.KindText {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// newTask records a working task for msg, reusing the message's task and
// context ids when present.
func (a *EchoAgent) newTask(msg *a2a.Message) *a2a.Task {
	t := &a2a.Task{
		ID:        msg.TaskID,
		ContextID: msg.ContextID,
		Status:    a2a.TaskStatus{State: a2a.TaskStateWorking, Timestamp: a.timestamp()},
		History:   []a2a.Message{*msg},
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.ContextID == "" {
		t.ContextID = uuid.NewString()
	}
	a.mu.Lock()
	a.tasks[t.ID] = t
	a.mu.Unlock()
	return t
}

func (a *EchoAgent) artifact(msg *a2a.Message) a2a.Artifact {
	return a2a.Artifact{
		ArtifactID: uuid.NewString(),
		Name:       "echo",
		Parts:      []a2a.Part{a2a.TextPart(echoText(msg))},
	}
}

// complete attaches art to the task and marks it completed, returning a copy.
func (a *EchoAgent) complete(id string, art a2a.Artifact) *a2a.Task {
	a.mu.Lock()
	defer a.mu.Unlock()
	t := a.tasks[id]
	t.Artifacts = append(t.Artifacts, art)
	t.Status = a2a.TaskStatus{State: a2a.TaskStateCompleted, Timestamp: a.timestamp()}
	c := *t
	return &c
}

func (a *EchoAgent) OnMessageSend(ctx context.Context, p *a2a.MessageSendParams) (a2a.SendMessageResult, error) {
	t := a.newTask(&p.Message)
	return a.complete(t.ID, a.artifact(&p.Message)), nil
}

func (a *EchoAgent) OnMessageSendStream(ctx context.Context, p *a2a.MessageSendParams) iter.Seq2[a2a.Event, error] {
	return func(yield func(a2a.Event, error) bool) {
		t := a.newTask(&p.Message)
		working := &a2a.TaskStatusUpdateEvent{TaskID: t.ID, ContextID: t.ContextID, Status: t.Status}
		if !yield(working, nil) {
			return
		}
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}
		art := a.artifact(&p.Message)
		if !yield(&a2a.TaskArtifactUpdateEvent{TaskID: t.ID, ContextID: t.ContextID, Artifact: art, LastChunk: true}, nil) {
			return
		}
		done := a.complete(t.ID, art)
		yield(&a2a.TaskStatusUpdateEvent{TaskID: t.ID, ContextID: t.ContextID, Status: done.Status, Final: true}, nil)
	}
}

func (a *EchoAgent) OnGetTask(ctx context.Context, p *a2a.TaskQueryParams) (*a2a.Task, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tasks[p.ID]
	if !ok {
		return nil, jsonrpc.NewTaskNotFoundError()
	}
	c := *t
	if p.HistoryLength != nil && len(c.History) > *p.HistoryLength {
		c.History = c.History[len(c.History)-*p.HistoryLength:]
	}
	return &c, nil
}

func (a *EchoAgent) OnCancelTask(ctx context.Context, p *a2a.TaskIDParams) (*a2a.Task, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tasks[p.ID]
	if !ok {
		return nil, jsonrpc.NewTaskNotFoundError()
	}
	if t.Status.State.Terminal() {
		return nil, jsonrpc.NewTaskNotCancelableError()
	}
	t.Status = a2a.TaskStatus{State: a2a.TaskStateCanceled, Timestamp: a.timestamp()}
	c := *t
	return &c, nil
}
