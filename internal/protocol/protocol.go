package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gamebridge/relay"
)

// maxMessageSize bounds a single wire frame. Oversized frames are rejected
// before decoding to keep a single peer from exhausting memory.
const maxMessageSize = 1 * 1024 * 1024 // 1MB

// Message is the wire envelope exchanged between peers. ReceivedAt and
// ForwardedAt are assigned by the relay and used only for latency
// accounting; they are never populated by peers.
type Message struct {
	Version   string          `json:"version"`
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"`
	Source    relay.Role      `json:"source"`
	Payload   json.RawMessage `json:"payload"`

	ReceivedAt  time.Time `json:"-"`
	ForwardedAt time.Time `json:"-"`
}

// Decode parses a wire frame into a Message. It enforces the size bound and
// JSON well-formedness only; schema checks are the validator's job.
func Decode(data []byte) (*Message, error) {
	if len(data) > maxMessageSize {
		return nil, fmt.Errorf("message size %d exceeds maximum %d bytes", len(data), maxMessageSize)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &msg, nil
}

// Encode serializes a Message for the wire.
func Encode(msg *Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// ErrorPayload is the payload shape of type "error" messages.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewError builds an error envelope correlated to the message that caused
// it. An empty correlationID yields a fresh id, for errors raised before a
// parseable inbound message exists.
func NewError(correlationID string, source relay.Role, code, message string, details any) *Message {
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	payload, _ := json.Marshal(ErrorPayload{Code: code, Message: message, Details: details})
	return &Message{
		Version:   relay.Version,
		Type:      relay.TypeError,
		ID:        correlationID,
		Timestamp: time.Now().UnixMilli(),
		Source:    source,
		Payload:   payload,
	}
}

// NewAuthMessage builds the credential-bearing first message a client
// sends after connecting. The relay's auth gate reads only the token field.
func NewAuthMessage(token string, source relay.Role) *Message {
	payload, _ := json.Marshal(map[string]any{
		"command": "authenticate",
		"args":    map[string]any{},
		"token":   token,
	})
	return &Message{
		Version:   relay.Version,
		Type:      relay.TypeCommand,
		ID:        uuid.New().String(),
		Timestamp: time.Now().UnixMilli(),
		Source:    source,
		Payload:   payload,
	}
}

// NewMessage builds an outbound envelope with a fresh correlation id.
func NewMessage(msgType string, source relay.Role, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return &Message{
		Version:   relay.Version,
		Type:      msgType,
		ID:        uuid.New().String(),
		Timestamp: time.Now().UnixMilli(),
		Source:    source,
		Payload:   data,
	}, nil
}
