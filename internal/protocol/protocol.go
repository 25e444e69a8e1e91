// Package protocol defines the WebSocket message envelope shared between
// the relay server and its clients.
package protocol

import (
	"encoding/json"

	"github.com/gtsfield/relay/internal/frame"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// TypeCommand carries a frame.Frame. The same event type is used in both
// directions: client→gateway command requests and gateway→client uplink
// deliveries.
const TypeCommand = "command"

// NewMessage creates a message with the given type and payload.
func NewMessage(msgType string, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:    msgType,
		Payload: data,
	}, nil
}

// NewCommand wraps a frame in a command message.
func NewCommand(f frame.Frame) (*Message, error) {
	return NewMessage(TypeCommand, f)
}

// ParsePayload unmarshals the payload into the given target.
func (m *Message) ParsePayload(target any) error {
	return json.Unmarshal(m.Payload, target)
}
