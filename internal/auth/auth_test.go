package auth

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamebridge/relay"
	"github.com/gamebridge/relay/internal/protocol"
)

func testGate() *Gate {
	return New(map[relay.Role][]string{
		relay.RoleProducer: {"producer-token"},
		relay.RoleConsumer: {"consumer-token"},
	}, []string{"stop", "op "}, zerolog.Nop())
}

func authMsg(t *testing.T, payload any) *protocol.Message {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return &protocol.Message{
		Version:   "1.0.0",
		Type:      relay.TypeCommand,
		ID:        "auth-1",
		Timestamp: 1700000000000,
		Source:    relay.RoleProducer,
		Payload:   data,
	}
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		payload  any
		wantRole relay.Role
		wantErr  error
	}{
		{
			name:     "producer token",
			payload:  map[string]any{"token": "producer-token"},
			wantRole: relay.RoleProducer,
		},
		{
			name:     "consumer token",
			payload:  map[string]any{"token": "consumer-token"},
			wantRole: relay.RoleConsumer,
		},
		{
			name:    "unknown token",
			payload: map[string]any{"token": "wrong-token"},
			wantErr: relay.ErrAuthFailed,
		},
		{
			name:    "missing token field",
			payload: map[string]any{"command": "authenticate"},
			wantErr: relay.ErrAuthFailed,
		},
		{
			name:    "non-string token",
			payload: map[string]any{"token": 12345},
			wantErr: relay.ErrAuthFailed,
		},
		{
			name:    "empty token",
			payload: map[string]any{"token": ""},
			wantErr: relay.ErrAuthFailed,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			role, err := testGate().Authenticate(authMsg(t, tt.payload))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, role)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantRole, role)
		})
	}
}

func TestAuthenticateProducerSetWinsOnSharedToken(t *testing.T) {
	t.Parallel()

	g := New(map[relay.Role][]string{
		relay.RoleProducer: {"shared"},
		relay.RoleConsumer: {"shared"},
	}, nil, zerolog.Nop())

	role, err := g.Authenticate(authMsg(t, map[string]any{"token": "shared"}))
	require.NoError(t, err)
	assert.Equal(t, relay.RoleProducer, role)
}

func TestAuthorizeCapabilityMatrix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		role    relay.Role
		msgType string
		want    bool
	}{
		{relay.RoleProducer, relay.TypeCommand, true},
		{relay.RoleProducer, relay.TypeQuery, true},
		{relay.RoleProducer, relay.TypeEvent, false},
		{relay.RoleProducer, relay.TypeResponse, false},
		{relay.RoleProducer, relay.TypeError, false},
		{relay.RoleConsumer, relay.TypeEvent, true},
		{relay.RoleConsumer, relay.TypeResponse, true},
		{relay.RoleConsumer, relay.TypeError, true},
		{relay.RoleConsumer, relay.TypeCommand, false},
		{relay.RoleConsumer, relay.TypeQuery, false},
	}

	g := testGate()
	for _, tt := range tests {
		tt := tt
		t.Run(string(tt.role)+"/"+tt.msgType, func(t *testing.T) {
			t.Parallel()

			msg := &protocol.Message{
				Type:    tt.msgType,
				Payload: json.RawMessage(`{"command":"give_item","args":{}}`),
			}
			d := g.Authorize(tt.role, msg)
			assert.Equal(t, tt.want, d.Authorized)
			if !tt.want {
				assert.NotEmpty(t, d.Reason)
			}
		})
	}
}

func TestAuthorizeCommandDenylist(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		command string
		want    bool
	}{
		{"plain allowed command", "give_item", true},
		{"exact denied prefix", "stop", false},
		{"denied prefix with suffix", "stop_server", false},
		{"case-insensitive match", "STOP", false},
		{"denied prefix with space", "op steve", false},
		{"prefix inside word is still matched", "stopwatch", false},
		{"unrelated command containing prefix", "restop", true},
	}

	g := testGate()
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			payload, err := json.Marshal(map[string]any{"command": tt.command, "args": map[string]any{}})
			require.NoError(t, err)
			d := g.Authorize(relay.RoleProducer, &protocol.Message{Type: relay.TypeCommand, Payload: payload})
			assert.Equal(t, tt.want, d.Authorized, "command %q", tt.command)
		})
	}
}

func TestAuthorizeDenylistSkipsMalformedPayload(t *testing.T) {
	t.Parallel()

	// shape errors belong to the validator; the gate only denies commands
	// it can actually name
	d := testGate().Authorize(relay.RoleProducer, &protocol.Message{
		Type:    relay.TypeCommand,
		Payload: json.RawMessage(`{"args":{}}`),
	})
	assert.True(t, d.Authorized)
}
