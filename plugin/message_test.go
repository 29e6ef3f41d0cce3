package plugin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewRequest(t *testing.T) {
	msg := NewRequest("echo", "sysmon", "sample", Payload{"unit": "mb"}, 2*time.Second)

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, MessageRequest, msg.Type)
	assert.Equal(t, "sample", msg.Action)
	assert.Equal(t, "echo", msg.SenderID)
	assert.Equal(t, "sysmon", msg.TargetID)
	assert.Equal(t, PriorityNormal, msg.Priority)
	assert.Equal(t, 2*time.Second, msg.Timeout)
	assert.False(t, msg.Timestamp.IsZero())
	assert.Empty(t, msg.CorrelationID)
}

func TestNewResponse(t *testing.T) {
	request := NewRequest("echo", "sysmon", "sample", nil, time.Second)
	request.Priority = PriorityHigh

	resp := NewResponse(request, Payload{"used": 512})

	assert.NotEmpty(t, resp.ID)
	assert.NotEqual(t, request.ID, resp.ID)
	assert.Equal(t, MessageResponse, resp.Type)
	assert.Equal(t, request.ID, resp.CorrelationID)

	// Addressing reversed: the responder becomes the sender
	assert.Equal(t, "sysmon", resp.SenderID)
	assert.Equal(t, "echo", resp.TargetID)

	assert.Equal(t, "sample", resp.Action)
	assert.Equal(t, PriorityHigh, resp.Priority)
}

func TestNewNotification(t *testing.T) {
	msg := NewNotification("heartbeat", "sysmon", "tick", Payload{"seq": 1})

	assert.Equal(t, MessageNotification, msg.Type)
	assert.Equal(t, "heartbeat", msg.SenderID)
	assert.Equal(t, "sysmon", msg.TargetID)
	assert.Zero(t, msg.Timeout)
}

func TestNewBroadcast(t *testing.T) {
	msg := NewBroadcast("host", "shutdown", nil)

	assert.Equal(t, MessageBroadcast, msg.Type)
	assert.Equal(t, "host", msg.SenderID)
	assert.Empty(t, msg.TargetID, "broadcasts carry no target")
}
