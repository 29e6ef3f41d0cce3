package plugin

import (
	"time"

	"github.com/google/uuid"
)

// MessageType distinguishes how a message is addressed and answered
type MessageType string

const (
	// MessageRequest expects exactly one correlated response
	MessageRequest MessageType = "request"
	// MessageResponse answers a request; CorrelationID names the request
	MessageResponse MessageType = "response"
	// MessageNotification is addressed fire-and-forget
	MessageNotification MessageType = "notification"
	// MessageBroadcast goes to every started plugin except exclusions
	MessageBroadcast MessageType = "broadcast"
)

// Priority hints at message urgency. Delivery within a (sender, target)
// pair stays FIFO regardless of priority.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Message is an addressed unit of plugin communication. Treated as
// immutable once constructed.
type Message struct {
	// ID uniquely identifies this message (uuid)
	ID string

	// Type distinguishes request/response/notification/broadcast
	Type MessageType

	// Action names the operation the target should perform
	Action string

	// SenderID is the originating plugin id (or host identifier)
	SenderID string

	// TargetID is the destination plugin id; empty for broadcasts
	TargetID string

	// Payload carries the message data
	Payload Payload

	// Priority hints at urgency
	Priority Priority

	// Timestamp records construction time
	Timestamp time.Time

	// Timeout bounds how long a request waits for its response.
	// Meaningful for requests only.
	Timeout time.Duration

	// CorrelationID ties a response to the request it answers
	CorrelationID string
}

// NewRequest constructs a request message expecting one response
func NewRequest(senderID, targetID, action string, payload Payload, timeout time.Duration) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Type:      MessageRequest,
		Action:    action,
		SenderID:  senderID,
		TargetID:  targetID,
		Payload:   payload,
		Priority:  PriorityNormal,
		Timestamp: time.Now(),
		Timeout:   timeout,
	}
}

// NewResponse constructs the response to a request, carrying the request's
// id as its correlation id and reversing the addressing.
func NewResponse(request *Message, payload Payload) *Message {
	return &Message{
		ID:            uuid.NewString(),
		Type:          MessageResponse,
		Action:        request.Action,
		SenderID:      request.TargetID,
		TargetID:      request.SenderID,
		Payload:       payload,
		Priority:      request.Priority,
		Timestamp:     time.Now(),
		CorrelationID: request.ID,
	}
}

// NewNotification constructs an addressed fire-and-forget message
func NewNotification(senderID, targetID, action string, payload Payload) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Type:      MessageNotification,
		Action:    action,
		SenderID:  senderID,
		TargetID:  targetID,
		Payload:   payload,
		Priority:  PriorityNormal,
		Timestamp: time.Now(),
	}
}

// NewBroadcast constructs a message for every started plugin. TargetID is
// empty; the Messenger fans it out at delivery time.
func NewBroadcast(senderID, action string, payload Payload) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Type:      MessageBroadcast,
		Action:    action,
		SenderID:  senderID,
		Payload:   payload,
		Priority:  PriorityNormal,
		Timestamp: time.Now(),
	}
}
