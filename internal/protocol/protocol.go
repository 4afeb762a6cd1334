// Package protocol defines the messages exchanged over the remote-control websocket.
package protocol

import "encoding/json"

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// TypePress asks for a press of a user control
	TypePress MessageType = "press"

	// TypeHold asks for a held user control
	TypeHold MessageType = "hold"

	// TypeKey triggers the binding of an input key, as if the remote sent it
	TypeKey MessageType = "key"

	// TypeSent is broadcast for every command put on the bus
	TypeSent MessageType = "sent"

	// TypeError reports a request that could not be handled
	TypeError MessageType = "error"

	// TypePing can be used for application-level heartbeats if needed
	TypePing MessageType = "ping"
)

// Message is the generic container for all WebSocket messages
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// New builds a message, encoding payload
func New(t MessageType, payload any) (Message, error) {
	if payload == nil {
		return Message{Type: t}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: t, Payload: raw}, nil
}

// Decode unmarshals the payload into v
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Payload, v)
}

// ControlPayload is the payload for TypePress and TypeHold
type ControlPayload struct {
	// Control is a user control name ("volume_up") or code ("0x41")
	Control string `json:"control"`
}

// KeyPayload is the payload for TypeKey
type KeyPayload struct {
	// Key is an input key name, e.g. "KEY_VOLUMEUP"
	Key string `json:"key"`
}

// SentPayload is the payload for TypeSent
type SentPayload struct {
	// Command is the colon separated hex token, e.g. "30:44:41"
	Command string `json:"command"`
	OK      bool   `json:"ok"`
}

// ErrorPayload is the payload for TypeError
type ErrorPayload struct {
	Message string `json:"message"`
}
