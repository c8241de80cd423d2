// Package events defines the messages streamed to WebSocket clients watching
// a workflow session.
package events

import (
	"time"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// MessageTypeConnection is sent once when a client subscribes
	MessageTypeConnection MessageType = "connection"

	// MessageTypeActivity carries one activity log entry
	MessageTypeActivity MessageType = "activity"

	// MessageTypePushStatus carries a push state change
	MessageTypePushStatus MessageType = "push:status"

	// MessageTypeSessionClosed tells clients the session was removed
	MessageTypeSessionClosed MessageType = "session:closed"

	MessageTypeError MessageType = "error"
)

// Message is the envelope of every WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}

// ConnectionData is the payload of MessageTypeConnection
type ConnectionData struct {
	Status   string `json:"status"`
	ClientID string `json:"client_id"`
	Message  string `json:"message"`
}

// ActivityData is the payload of MessageTypeActivity
type ActivityData struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
	Line    string    `json:"line"`
}

// ErrorData is the payload of MessageTypeError
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
