package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/gamebridge/relay"
)

// ValidationResult carries every violation found in one message so the
// caller can report them all at once.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

var knownTypes = map[string]bool{
	relay.TypeEvent:    true,
	relay.TypeCommand:  true,
	relay.TypeQuery:    true,
	relay.TypeResponse: true,
	relay.TypeError:    true,
}

// Validate checks the envelope fields and the type-specific payload shape.
// It is a pure function: no side effects, no short-circuit on the first
// violation.
func Validate(msg *Message) ValidationResult {
	var errs []string

	if msg.Version == "" {
		errs = append(errs, "version: missing or not a string")
	}
	switch {
	case msg.Type == "":
		errs = append(errs, "type: missing or not a string")
	case !knownTypes[msg.Type]:
		errs = append(errs, fmt.Sprintf("type: unknown message type %q", msg.Type))
	}
	if msg.ID == "" {
		errs = append(errs, "id: missing or not a string")
	}
	if msg.Timestamp <= 0 {
		errs = append(errs, "timestamp: missing or not a positive number")
	}
	if msg.Source == "" {
		errs = append(errs, "source: missing or not a string")
	} else if !msg.Source.Valid() {
		errs = append(errs, fmt.Sprintf("source: unknown role %q", msg.Source))
	}

	payload, ok := decodePayload(msg.Payload)
	if !ok {
		errs = append(errs, "payload: missing or not an object")
	} else if knownTypes[msg.Type] {
		errs = append(errs, validatePayload(msg.Type, payload)...)
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

func decodePayload(raw json.RawMessage) (map[string]any, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil || payload == nil {
		return nil, false
	}
	return payload, true
}

func validatePayload(msgType string, payload map[string]any) []string {
	var errs []string

	requireString := func(field string) {
		if _, ok := payload[field].(string); !ok {
			errs = append(errs, fmt.Sprintf("payload.%s: missing or not a string", field))
		}
	}
	requireObject := func(field string) {
		if _, ok := payload[field].(map[string]any); !ok {
			errs = append(errs, fmt.Sprintf("payload.%s: missing or not an object", field))
		}
	}
	requireNumber := func(field string) {
		if _, ok := payload[field].(float64); !ok {
			errs = append(errs, fmt.Sprintf("payload.%s: missing or not a number", field))
		}
	}

	switch msgType {
	case relay.TypeCommand:
		requireString("command")
		requireObject("args")
	case relay.TypeQuery:
		requireString("query")
		requireObject("args")
	case relay.TypeEvent:
		requireString("eventType")
		requireNumber("timestamp")
		requireObject("data")
	case relay.TypeResponse:
		if _, ok := payload["success"].(bool); !ok {
			errs = append(errs, "payload.success: missing or not a boolean")
		}
	case relay.TypeError:
		requireString("code")
		requireString("message")
	}

	return errs
}
