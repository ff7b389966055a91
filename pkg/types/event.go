package types

import "time"

// EventType defines the type of event emitted by an agent runner.
type EventType string

const (
	EventTypeMessageContent EventType = "message_content" // EventTypeMessageContent carries a partial reply delta.
	EventTypeFinalResponse  EventType = "final_response"  // EventTypeFinalResponse carries the complete reply for the turn.
	EventTypeError          EventType = "error"           // EventTypeError indicates the turn failed.
)

// Event represents one item of the stream an agent runner produces for a turn.
type Event struct {
	// Timestamp is when the event was produced.
	Timestamp time.Time `json:"timestamp"`

	// Error holds the failure for error events. It is not persisted; ErrorMessage is.
	Error error `json:"-"`

	// Type indicates the kind of event.
	Type EventType `json:"type"`

	// Author is the role that produced the event ("assistant" for model output).
	Author string `json:"author,omitempty"`

	// Content holds the text payload.
	Content string `json:"content,omitempty"`

	// ErrorMessage is the persisted form of Error.
	ErrorMessage string `json:"error,omitempty"`
}

// NewMessageContentEvent creates a partial content event.
func NewMessageContentEvent(content string) *Event {
	return &Event{
		Type:      EventTypeMessageContent,
		Author:    string(RoleAssistant),
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewFinalResponseEvent creates the event that closes a turn with the agent's reply.
// The content may be empty when the model produced no text.
func NewFinalResponseEvent(content string) *Event {
	return &Event{
		Type:      EventTypeFinalResponse,
		Author:    string(RoleAssistant),
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewErrorEvent creates an error event.
func NewErrorEvent(err error) *Event {
	e := &Event{
		Type:      EventTypeError,
		Error:     err,
		Timestamp: time.Now(),
	}
	if err != nil {
		e.ErrorMessage = err.Error()
	}
	return e
}

// IsFinalResponse reports whether the event closes the turn with a reply.
func (e *Event) IsFinalResponse() bool {
	return e != nil && e.Type == EventTypeFinalResponse
}

// IsErrorEvent returns true if this is an error event.
func (e *Event) IsErrorEvent() bool {
	return e != nil && e.Type == EventTypeError
}
