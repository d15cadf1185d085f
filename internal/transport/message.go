package transport

import (
	"encoding/json"
	"fmt"

	"github.com/dennisjooo/moodlist-sub000/internal/models"
)

// Stream message types. A message without a type is a bare status snapshot.
const (
	MessageStatus   = "status"
	MessageError    = "error"
	MessagePing     = "ping"
	MessagePong     = "pong"
	MessageComplete = "complete"
)

// Message is the envelope used on push channels.
type Message struct {
	Type    string                 `json:"type"`
	Data    *models.WorkflowStatus `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Message string                 `json:"message,omitempty"`
}

// DecodeMessage parses an enveloped message or a bare status snapshot.
func DecodeMessage(data []byte) (Message, error) {
	var probe struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Message{}, fmt.Errorf("invalid stream message: %w", err)
	}

	if probe.Type == "" || (probe.Type == MessageStatus && len(probe.Data) == 0) {
		var st models.WorkflowStatus
		if err := json.Unmarshal(data, &st); err != nil {
			return Message{}, fmt.Errorf("invalid status payload: %w", err)
		}
		if st.Status == "" {
			return Message{}, fmt.Errorf("status payload without status field")
		}
		return Message{Type: MessageStatus, Data: &st}, nil
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("invalid %s message: %w", probe.Type, err)
	}
	if msg.Type == MessageStatus && (msg.Data == nil || msg.Data.Status == "") {
		return Message{}, fmt.Errorf("status message without status field")
	}
	return msg, nil
}

// ErrorText returns the human-readable error carried by an error message.
func (m Message) ErrorText() string {
	if m.Error != "" {
		return m.Error
	}
	if m.Message != "" {
		return m.Message
	}
	return "stream reported an error"
}
