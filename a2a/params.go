package a2a

import (
	"fmt"
	"strings"
)

// FieldError describes one validation failure. Loc is the path to the
// offending member, relative to the value being validated.
type FieldError struct {
	Loc  []any  `json:"loc"`
	Msg  string `json:"msg"`
	Type string `json:"type"`
}

func (e FieldError) String() string {
	parts := make([]string, len(e.Loc))
	for i, l := range e.Loc {
		parts[i] = fmt.Sprint(l)
	}
	return strings.Join(parts, ".") + ": " + e.Msg
}

// Validator is implemented by every request params type.
type Validator interface {
	Validate() []FieldError
}

func missing(loc ...any) FieldError {
	return FieldError{Loc: loc, Msg: "Field required", Type: "missing"}
}

func prefixed(prefix []any, errs []FieldError) []FieldError {
	for i := range errs {
		errs[i].Loc = append(append([]any{}, prefix...), errs[i].Loc...)
	}
	return errs
}

// MessageSendConfiguration controls how message/send and message/stream behave.
type MessageSendConfiguration struct {
	AcceptedOutputModes    []string                `json:"acceptedOutputModes,omitempty"`
	HistoryLength          *int                    `json:"historyLength,omitempty"`
	PushNotificationConfig *PushNotificationConfig `json:"pushNotificationConfig,omitempty"`
	Blocking               bool                    `json:"blocking,omitempty"`
}

// MessageSendParams are the params of message/send and message/stream.
type MessageSendParams struct {
	Message       Message                   `json:"message"`
	Configuration *MessageSendConfiguration `json:"configuration,omitempty"`
	Metadata      map[string]any            `json:"metadata,omitempty"`
}

func (p *MessageSendParams) Validate() []FieldError {
	errs := prefixed([]any{"message"}, p.Message.Validate())
	if c := p.Configuration; c != nil {
		if c.HistoryLength != nil && *c.HistoryLength < 0 {
			errs = append(errs, FieldError{Loc: []any{"configuration", "historyLength"}, Msg: "Input should be greater than or equal to 0", Type: "greater_than_equal"})
		}
		if c.PushNotificationConfig != nil {
			errs = append(errs, prefixed([]any{"configuration", "pushNotificationConfig"}, c.PushNotificationConfig.Validate())...)
		}
	}
	return errs
}

// Validate checks a message received from a client.
func (m *Message) Validate() []FieldError {
	var errs []FieldError
	if m.Kind != "" && m.Kind != KindMessage {
		errs = append(errs, FieldError{Loc: []any{"kind"}, Msg: "Input should be 'message'", Type: "literal_error"})
	}
	if m.MessageID == "" {
		errs = append(errs, missing("messageId"))
	}
	switch m.Role {
	case RoleUser, RoleAgent:
	case "":
		errs = append(errs, missing("role"))
	default:
		errs = append(errs, FieldError{Loc: []any{"role"}, Msg: "Input should be 'agent' or 'user'", Type: "enum"})
	}
	if m.Parts == nil {
		errs = append(errs, missing("parts"))
	}
	for i := range m.Parts {
		errs = append(errs, prefixed([]any{"parts", i}, m.Parts[i].Validate())...)
	}
	return errs
}

// Validate checks that the members required by the part's kind are present.
func (p *Part) Validate() []FieldError {
	switch p.Kind {
	case KindText:
		if p.textMissing {
			return []FieldError{missing("text")}
		}
		return nil
	case KindFile:
		if p.File == nil {
			return []FieldError{missing("file")}
		}
		if (p.File.Bytes == "") == (p.File.URI == "") {
			return []FieldError{{Loc: []any{"file"}, Msg: "Exactly one of 'bytes' or 'uri' is required", Type: "value_error"}}
		}
		return nil
	case KindData:
		if p.Data == nil {
			return []FieldError{missing("data")}
		}
		return nil
	case "":
		return []FieldError{{Loc: []any{}, Msg: "Unable to determine part kind", Type: "union_tag_not_found"}}
	default:
		return []FieldError{{Loc: []any{"kind"}, Msg: "Input tag '" + p.Kind + "' does not match any of the expected tags: 'text', 'file', 'data'", Type: "union_tag_invalid"}}
	}
}

// Validate checks a push notification config.
func (c *PushNotificationConfig) Validate() []FieldError {
	if c.URL == "" {
		return []FieldError{missing("url")}
	}
	return nil
}

// TaskQueryParams are the params of tasks/get and tasks/resubscribe.
type TaskQueryParams struct {
	ID            string         `json:"id"`
	HistoryLength *int           `json:"historyLength,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

func (p *TaskQueryParams) Validate() []FieldError {
	var errs []FieldError
	if p.ID == "" {
		errs = append(errs, missing("id"))
	}
	if p.HistoryLength != nil && *p.HistoryLength < 0 {
		errs = append(errs, FieldError{Loc: []any{"historyLength"}, Msg: "Input should be greater than or equal to 0", Type: "greater_than_equal"})
	}
	return errs
}

// TaskIDParams are the params of tasks/cancel.
type TaskIDParams struct {
	ID       string         `json:"id"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (p *TaskIDParams) Validate() []FieldError {
	if p.ID == "" {
		return []FieldError{missing("id")}
	}
	return nil
}

// Validate checks the params of tasks/pushNotificationConfig/set.
func (p *TaskPushNotificationConfig) Validate() []FieldError {
	var errs []FieldError
	if p.TaskID == "" {
		errs = append(errs, missing("taskId"))
	}
	return append(errs, prefixed([]any{"pushNotificationConfig"}, p.PushNotificationConfig.Validate())...)
}

// GetTaskPushNotificationConfigParams are the params of
// tasks/pushNotificationConfig/get. An empty PushNotificationConfigID selects
// the task's default config.
type GetTaskPushNotificationConfigParams struct {
	ID                       string         `json:"id"`
	PushNotificationConfigID string         `json:"pushNotificationConfigId,omitempty"`
	Metadata                 map[string]any `json:"metadata,omitempty"`
}

func (p *GetTaskPushNotificationConfigParams) Validate() []FieldError {
	if p.ID == "" {
		return []FieldError{missing("id")}
	}
	return nil
}

// ListTaskPushNotificationConfigParams are the params of
// tasks/pushNotificationConfig/list.
type ListTaskPushNotificationConfigParams struct {
	ID       string         `json:"id"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (p *ListTaskPushNotificationConfigParams) Validate() []FieldError {
	if p.ID == "" {
		return []FieldError{missing("id")}
	}
	return nil
}

// DeleteTaskPushNotificationConfigParams are the params of
// tasks/pushNotificationConfig/delete.
type DeleteTaskPushNotificationConfigParams struct {
	ID                       string         `json:"id"`
	PushNotificationConfigID string         `json:"pushNotificationConfigId"`
	Metadata                 map[string]any `json:"metadata,omitempty"`
}

func (p *DeleteTaskPushNotificationConfigParams) Validate() []FieldError {
	var errs []FieldError
	if p.ID == "" {
		errs = append(errs, missing("id"))
	}
	if p.PushNotificationConfigID == "" {
		errs = append(errs, missing("pushNotificationConfigId"))
	}
	return errs
}

var (
	_ Validator = (*MessageSendParams)(nil)
	_ Validator = (*TaskQueryParams)(nil)
	_ Validator = (*TaskIDParams)(nil)
	_ Validator = (*TaskPushNotificationConfig)(nil)
	_ Validator = (*GetTaskPushNotificationConfigParams)(nil)
	_ Validator = (*ListTaskPushNotificationConfigParams)(nil)
	_ Validator = (*DeleteTaskPushNotificationConfigParams)(nil)
)
