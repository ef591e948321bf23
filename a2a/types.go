// Package a2a defines the wire types of the agent-to-agent protocol served by
// this module: tasks, messages, parts, artifacts, streaming events, push
// notification configuration, request parameters and the agent card.
//
// Types marshal to the protocol's camelCase JSON. Kind-discriminated types
// (messages, tasks, events and parts) always emit their "kind" member.
package a2a

import (
	"encoding/json"
	"fmt"
)

// Kind discriminators.
const (
	KindMessage        = "message"
	KindTask           = "task"
	KindStatusUpdate   = "status-update"
	KindArtifactUpdate = "artifact-update"
	KindText           = "text"
	KindFile           = "file"
	KindData           = "data"
)

// Role identifies the sender of a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// TaskState is the lifecycle state of a task.
type TaskState string

const (
	TaskStateSubmitted     TaskState = "submitted"
	TaskStateWorking       TaskState = "working"
	TaskStateInputRequired TaskState = "input-required"
	TaskStateCompleted     TaskState = "completed"
	TaskStateCanceled      TaskState = "canceled"
	TaskStateFailed        TaskState = "failed"
	TaskStateRejected      TaskState = "rejected"
	TaskStateAuthRequired  TaskState = "auth-required"
	TaskStateUnknown       TaskState = "unknown"
)

// Terminal reports whether no further transitions are possible from s.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateCanceled, TaskStateFailed, TaskStateRejected:
		return true
	}
	return false
}

// FileContent is the payload of a file part. Exactly one of Bytes or URI is set.
type FileContent struct {
	Name     string `json:"name,omitempty"`
	MIMEType string `json:"mimeType,omitempty"`
	// Bytes is base64 encoded file content.
	Bytes string `json:"bytes,omitempty"`
	URI   string `json:"uri,omitempty"`
}

// Part is one piece of message or artifact content. Kind selects which of
// Text, File or Data is meaningful.
type Part struct {
	Kind     string         `json:"kind"`
	Text     string         `json:"text,omitempty"`
	File     *FileContent   `json:"file,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	// textMissing is set when a decoded part has no text member.
	textMissing bool
}

// TextPart returns a text part.
func TextPart(text string) Part {
	return Part{Kind: KindText, Text: text}
}

// DataPart returns a structured data part.
func DataPart(data map[string]any) Part {
	return Part{Kind: KindData, Data: data}
}

// FilePart returns a file part.
func FilePart(file FileContent) Part {
	return Part{Kind: KindFile, File: &file}
}

// MarshalJSON emits only the members belonging to the part's kind.
func (p Part) MarshalJSON() ([]byte, error) {
	out := map[string]any{"kind": p.Kind}
	switch p.Kind {
	case KindText:
		out["text"] = p.Text
	case KindFile:
		out["file"] = p.File
	case KindData:
		out["data"] = p.Data
	default:
		return nil, fmt.Errorf("a2a: unknown part kind %q", p.Kind)
	}
	if p.Metadata != nil {
		out["metadata"] = p.Metadata
	}
	return json.Marshal(out)
}

// UnmarshalJSON infers a missing kind from the members present.
func (p *Part) UnmarshalJSON(b []byte) error {
	type alias Part
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	var text struct {
		Text *string `json:"text"`
	}
	hasText := json.Unmarshal(b, &text) == nil && text.Text != nil
	if a.Kind == "" {
		switch {
		case a.File != nil:
			a.Kind = KindFile
		case a.Data != nil:
			a.Kind = KindData
		case hasText:
			a.Kind = KindText
		}
	}
	a.textMissing = a.Kind == KindText && !hasText
	*p = Part(a)
	return nil
}

// Message is one turn of communication between a user and an agent.
type Message struct {
	Kind             string         `json:"kind"`
	MessageID        string         `json:"messageId"`
	Role             Role           `json:"role"`
	Parts            []Part         `json:"parts"`
	ContextID        string         `json:"contextId,omitempty"`
	TaskID           string         `json:"taskId,omitempty"`
	ReferenceTaskIDs []string       `json:"referenceTaskIds,omitempty"`
	Extensions       []string       `json:"extensions,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	type alias Message
	a := alias(m)
	a.Kind = KindMessage
	if a.Parts == nil {
		a.Parts = []Part{}
	}
	return json.Marshal(a)
}

// TaskStatus is the current state of a task plus an optional agent message.
type TaskStatus struct {
	State     TaskState `json:"state"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp string    `json:"timestamp,omitempty"`
}

// Artifact is an output produced by a task.
type Artifact struct {
	ArtifactID  string         `json:"artifactId"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Parts       []Part         `json:"parts"`
	Extensions  []string       `json:"extensions,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Task is a stateful unit of work.
type Task struct {
	Kind      string         `json:"kind"`
	ID        string         `json:"id"`
	ContextID string         `json:"contextId"`
	Status    TaskStatus     `json:"status"`
	Artifacts []Artifact     `json:"artifacts,omitempty"`
	History   []Message      `json:"history,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (t Task) MarshalJSON() ([]byte, error) {
	type alias Task
	a := alias(t)
	a.Kind = KindTask
	return json.Marshal(a)
}

// TaskStatusUpdateEvent reports a task state change on a stream.
type TaskStatusUpdateEvent struct {
	Kind      string         `json:"kind"`
	TaskID    string         `json:"taskId"`
	ContextID string         `json:"contextId"`
	Status    TaskStatus     `json:"status"`
	Final     bool           `json:"final"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (e TaskStatusUpdateEvent) MarshalJSON() ([]byte, error) {
	type alias TaskStatusUpdateEvent
	a := alias(e)
	a.Kind = KindStatusUpdate
	return json.Marshal(a)
}

// TaskArtifactUpdateEvent carries a new or appended artifact on a stream.
type TaskArtifactUpdateEvent struct {
	Kind      string         `json:"kind"`
	TaskID    string         `json:"taskId"`
	ContextID string         `json:"contextId"`
	Artifact  Artifact       `json:"artifact"`
	Append    bool           `json:"append,omitempty"`
	LastChunk bool           `json:"lastChunk,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (e TaskArtifactUpdateEvent) MarshalJSON() ([]byte, error) {
	type alias TaskArtifactUpdateEvent
	a := alias(e)
	a.Kind = KindArtifactUpdate
	return json.Marshal(a)
}

// Event is an item produced on a stream: a *Task, *Message,
// *TaskStatusUpdateEvent or *TaskArtifactUpdateEvent.
type Event interface {
	eventKind() string
}

// SendMessageResult is the unary result of message/send: a *Task or *Message.
type SendMessageResult interface {
	Event
	sendMessageResult()
}

func (*Task) eventKind() string                    { return KindTask }
func (*Message) eventKind() string                 { return KindMessage }
func (*TaskStatusUpdateEvent) eventKind() string   { return KindStatusUpdate }
func (*TaskArtifactUpdateEvent) eventKind() string { return KindArtifactUpdate }

func (*Task) sendMessageResult()    {}
func (*Message) sendMessageResult() {}

// EventKind returns the kind discriminator of e.
func EventKind(e Event) string {
	if e == nil {
		return ""
	}
	return e.eventKind()
}

// PushNotificationAuthenticationInfo describes how the agent authenticates
// to a push notification endpoint.
type PushNotificationAuthenticationInfo struct {
	Schemes     []string `json:"schemes"`
	Credentials string   `json:"credentials,omitempty"`
}

// PushNotificationConfig describes where task updates are pushed.
type PushNotificationConfig struct {
	ID             string                              `json:"id,omitempty"`
	URL            string                              `json:"url"`
	Token          string                              `json:"token,omitempty"`
	Authentication *PushNotificationAuthenticationInfo `json:"authentication,omitempty"`
}

// TaskPushNotificationConfig binds a push notification config to a task.
type TaskPushNotificationConfig struct {
	TaskID                 string                 `json:"taskId"`
	PushNotificationConfig PushNotificationConfig `json:"pushNotificationConfig"`
}
