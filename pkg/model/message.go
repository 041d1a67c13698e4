package model

import (
	"time"

	"github.com/google/uuid"
)

// SystemSender is the sender id used for the trigger that starts a pass.
const SystemSender = "system"

// MetaTrigger marks the synthetic message sent to source nodes.
const MetaTrigger = "trigger"

// Message is the ephemeral unit of propagation between nodes.
type Message struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   any            `json:"payload"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewMessage creates a message with a fresh id and timestamp.
func NewMessage(payload any, metadata map[string]any) Message {
	return Message{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Payload:   payload,
		Metadata:  metadata,
	}
}

// NewTriggerMessage creates the kick-off message sent to source nodes.
func NewTriggerMessage() Message {
	return NewMessage(true, map[string]any{MetaTrigger: true})
}

// IsTrigger reports whether m is a pass kick-off message.
func (m Message) IsTrigger() bool {
	v, ok := m.Metadata[MetaTrigger].(bool)
	return ok && v
}
