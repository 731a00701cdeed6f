package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamebridge/relay"
)

func mustPayload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestValidateReportsAllViolationsAtOnce(t *testing.T) {
	t.Parallel()

	msg := &Message{} // every field missing
	result := Validate(msg)

	require.False(t, result.Valid)
	assert.Contains(t, result.Errors, "version: missing or not a string")
	assert.Contains(t, result.Errors, "type: missing or not a string")
	assert.Contains(t, result.Errors, "id: missing or not a string")
	assert.Contains(t, result.Errors, "timestamp: missing or not a positive number")
	assert.Contains(t, result.Errors, "source: missing or not a string")
	assert.Contains(t, result.Errors, "payload: missing or not an object")
	assert.Len(t, result.Errors, 6)
}

func TestValidateUnknownTypeAndRole(t *testing.T) {
	t.Parallel()

	msg := &Message{
		Version:   "1.0.0",
		Type:      "broadcast",
		ID:        "x",
		Timestamp: 1,
		Source:    "spectator",
		Payload:   json.RawMessage(`{}`),
	}
	result := Validate(msg)

	require.False(t, result.Valid)
	assert.Contains(t, result.Errors, `type: unknown message type "broadcast"`)
	assert.Contains(t, result.Errors, `source: unknown role "spectator"`)
}

func TestValidatePayloadShapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		msgType string
		payload any
		wantErr []string
	}{
		{
			name:    "command ok",
			msgType: relay.TypeCommand,
			payload: map[string]any{"command": "spawn_entity", "args": map[string]any{}},
		},
		{
			name:    "command missing args",
			msgType: relay.TypeCommand,
			payload: map[string]any{"command": "spawn_entity"},
			wantErr: []string{"payload.args: missing or not an object"},
		},
		{
			name:    "command non-string name",
			msgType: relay.TypeCommand,
			payload: map[string]any{"command": 42, "args": map[string]any{}},
			wantErr: []string{"payload.command: missing or not a string"},
		},
		{
			name:    "query ok",
			msgType: relay.TypeQuery,
			payload: map[string]any{"query": "player_position", "args": map[string]any{"player": "steve"}},
		},
		{
			name:    "query missing everything",
			msgType: relay.TypeQuery,
			payload: map[string]any{},
			wantErr: []string{
				"payload.query: missing or not a string",
				"payload.args: missing or not an object",
			},
		},
		{
			name:    "event ok",
			msgType: relay.TypeEvent,
			payload: map[string]any{"eventType": "block_break", "timestamp": 1700000000000, "data": map[string]any{}},
		},
		{
			name:    "event timestamp as string",
			msgType: relay.TypeEvent,
			payload: map[string]any{"eventType": "block_break", "timestamp": "now", "data": map[string]any{}},
			wantErr: []string{"payload.timestamp: missing or not a number"},
		},
		{
			name:    "response ok",
			msgType: relay.TypeResponse,
			payload: map[string]any{"success": true},
		},
		{
			name:    "response success as string",
			msgType: relay.TypeResponse,
			payload: map[string]any{"success": "yes"},
			wantErr: []string{"payload.success: missing or not a boolean"},
		},
		{
			name:    "error ok",
			msgType: relay.TypeError,
			payload: map[string]any{"code": relay.CodeTimeout, "message": "query timed out"},
		},
		{
			name:    "error missing code",
			msgType: relay.TypeError,
			payload: map[string]any{"message": "boom"},
			wantErr: []string{"payload.code: missing or not a string"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			msg := &Message{
				Version:   "1.0.0",
				Type:      tt.msgType,
				ID:        "m-1",
				Timestamp: 1700000000000,
				Source:    relay.RoleProducer,
				Payload:   mustPayload(t, tt.payload),
			}
			result := Validate(msg)

			if len(tt.wantErr) == 0 {
				assert.True(t, result.Valid, "unexpected violations: %v", result.Errors)
				return
			}
			require.False(t, result.Valid)
			assert.ElementsMatch(t, tt.wantErr, result.Errors)
		})
	}
}

func TestValidateNullPayload(t *testing.T) {
	t.Parallel()

	msg := &Message{
		Version:   "1.0.0",
		Type:      relay.TypeCommand,
		ID:        "m-1",
		Timestamp: 1,
		Source:    relay.RoleProducer,
		Payload:   json.RawMessage(`null`),
	}
	result := Validate(msg)

	require.False(t, result.Valid)
	assert.Equal(t, []string{"payload: missing or not an object"}, result.Errors)
}
