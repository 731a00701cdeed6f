package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamebridge/relay"
	"github.com/gamebridge/relay/internal/protocol"
)

func newTestRelay(t *testing.T) (*Server, string) {
	t.Helper()

	s := NewServer(ServerConfig{
		Tokens: map[relay.Role][]string{
			relay.RoleProducer: {"producer-token"},
			relay.RoleConsumer: {"consumer-token"},
		},
		CommandDenylist: []string{"stop", "op "},
		RateLimit:       NoRateLimit(),
		Logger:          zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	go s.router.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(s.handleWebSocket))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return s, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readEnvelope(t *testing.T, ws *gorilla.Conn) *protocol.Message {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	msg, err := protocol.Decode(data)
	require.NoError(t, err)
	return msg
}

func writeEnvelope(t *testing.T, ws *gorilla.Conn, msg *protocol.Message) {
	t.Helper()
	data, err := protocol.Encode(msg)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(gorilla.TextMessage, data))
}

func dialAndAuth(t *testing.T, url, token string, source relay.Role) *gorilla.Conn {
	t.Helper()
	ws, _, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	writeEnvelope(t, ws, protocol.NewAuthMessage(token, source))

	ack := readEnvelope(t, ws)
	require.Equal(t, relay.TypeResponse, ack.Type, "expected auth ack, got %s", ack.Type)
	return ws
}

func TestAuthHandshakeAck(t *testing.T) {
	t.Parallel()

	s, url := newTestRelay(t)
	ws, _, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	auth := protocol.NewAuthMessage("producer-token", relay.RoleProducer)
	writeEnvelope(t, ws, auth)

	ack := readEnvelope(t, ws)
	assert.Equal(t, relay.TypeResponse, ack.Type)
	assert.Equal(t, auth.ID, ack.ID, "ack correlates to the credential message")

	var payload struct {
		Success bool              `json:"success"`
		Data    map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(ack.Payload, &payload))
	assert.True(t, payload.Success)
	assert.Equal(t, "producer", payload.Data["role"])

	require.Eventually(t, func() bool {
		return s.Snapshot().Producers == 1
	}, time.Second, 5*time.Millisecond)
}

func TestAuthRejectsBadToken(t *testing.T) {
	t.Parallel()

	s, url := newTestRelay(t)
	ws, _, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	writeEnvelope(t, ws, protocol.NewAuthMessage("wrong-token", relay.RoleProducer))

	reply := readEnvelope(t, ws)
	assert.Equal(t, relay.TypeError, reply.Type)

	var payload protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(reply.Payload, &payload))
	assert.Equal(t, relay.CodeAuthFailed, payload.Code)

	// the connection is closed after the error
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = ws.ReadMessage()
	assert.Error(t, err)

	snap := s.Snapshot()
	assert.Equal(t, 0, snap.Producers)
	assert.Equal(t, 0, snap.Consumers)
}

func TestRelayCommandProducerToConsumer(t *testing.T) {
	t.Parallel()

	_, url := newTestRelay(t)
	consumer := dialAndAuth(t, url, "consumer-token", relay.RoleConsumer)
	producer := dialAndAuth(t, url, "producer-token", relay.RoleProducer)

	cmd, err := protocol.NewMessage(relay.TypeCommand, relay.RoleProducer, map[string]any{
		"command": "teleport_player",
		"args":    map[string]any{"player": "steve", "x": 100, "y": 64, "z": 200},
	})
	require.NoError(t, err)
	writeEnvelope(t, producer, cmd)

	got := readEnvelope(t, consumer)
	assert.Equal(t, relay.TypeCommand, got.Type)
	assert.Equal(t, cmd.ID, got.ID)
	assert.Equal(t, relay.RoleProducer, got.Source)

	var payload struct {
		Command string         `json:"command"`
		Args    map[string]any `json:"args"`
	}
	require.NoError(t, json.Unmarshal(got.Payload, &payload))
	assert.Equal(t, "teleport_player", payload.Command)
	assert.Equal(t, "steve", payload.Args["player"])
}

func TestRelayEventConsumerToProducer(t *testing.T) {
	t.Parallel()

	_, url := newTestRelay(t)
	producer := dialAndAuth(t, url, "producer-token", relay.RoleProducer)
	consumer := dialAndAuth(t, url, "consumer-token", relay.RoleConsumer)

	event, err := protocol.NewMessage(relay.TypeEvent, relay.RoleConsumer, map[string]any{
		"eventType": "player_join",
		"timestamp": time.Now().UnixMilli(),
		"data":      map[string]any{"player": "alex"},
	})
	require.NoError(t, err)
	writeEnvelope(t, consumer, event)

	got := readEnvelope(t, producer)
	assert.Equal(t, relay.TypeEvent, got.Type)
	assert.Equal(t, event.ID, got.ID)
	assert.Equal(t, relay.RoleConsumer, got.Source)
}

func TestConsumerMayNotSendCommands(t *testing.T) {
	t.Parallel()

	_, url := newTestRelay(t)
	consumer := dialAndAuth(t, url, "consumer-token", relay.RoleConsumer)

	cmd, err := protocol.NewMessage(relay.TypeCommand, relay.RoleConsumer, map[string]any{
		"command": "give_item",
		"args":    map[string]any{},
	})
	require.NoError(t, err)
	writeEnvelope(t, consumer, cmd)

	reply := readEnvelope(t, consumer)
	assert.Equal(t, relay.TypeError, reply.Type)
	assert.Equal(t, cmd.ID, reply.ID)

	var payload protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(reply.Payload, &payload))
	assert.Equal(t, relay.CodePermissionDenied, payload.Code)
}

func TestDenylistedCommandRejected(t *testing.T) {
	t.Parallel()

	_, url := newTestRelay(t)
	dialAndAuth(t, url, "consumer-token", relay.RoleConsumer)
	producer := dialAndAuth(t, url, "producer-token", relay.RoleProducer)

	cmd, err := protocol.NewMessage(relay.TypeCommand, relay.RoleProducer, map[string]any{
		"command": "stop",
		"args":    map[string]any{},
	})
	require.NoError(t, err)
	writeEnvelope(t, producer, cmd)

	reply := readEnvelope(t, producer)
	assert.Equal(t, relay.TypeError, reply.Type)

	var payload protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(reply.Payload, &payload))
	assert.Equal(t, relay.CodePermissionDenied, payload.Code)
}

func TestSchemaErrorListsAllViolations(t *testing.T) {
	t.Parallel()

	_, url := newTestRelay(t)
	producer := dialAndAuth(t, url, "producer-token", relay.RoleProducer)

	require.NoError(t, producer.WriteMessage(gorilla.TextMessage, []byte(`{}`)))

	reply := readEnvelope(t, producer)
	assert.Equal(t, relay.TypeError, reply.Type)

	var payload protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(reply.Payload, &payload))
	assert.Equal(t, relay.CodeSchemaError, payload.Code)

	details, ok := payload.Details.([]any)
	require.True(t, ok, "details carries the violation list")
	assert.GreaterOrEqual(t, len(details), 5, "every violation is reported at once")
	assert.Contains(t, details, "version: missing or not a string")
	assert.Contains(t, details, "id: missing or not a string")
}

func TestSourceFieldCannotBeForged(t *testing.T) {
	t.Parallel()

	_, url := newTestRelay(t)
	producer2 := dialAndAuth(t, url, "producer-token", relay.RoleProducer)
	consumer := dialAndAuth(t, url, "consumer-token", relay.RoleConsumer)
	producer := dialAndAuth(t, url, "producer-token", relay.RoleProducer)

	// the envelope claims consumer; the relay overwrites with the
	// authenticated role, so it is still routed to consumers
	cmd, err := protocol.NewMessage(relay.TypeCommand, relay.RoleConsumer, map[string]any{
		"command": "give_item",
		"args":    map[string]any{},
	})
	require.NoError(t, err)
	writeEnvelope(t, producer, cmd)

	got := readEnvelope(t, consumer)
	assert.Equal(t, cmd.ID, got.ID)
	assert.Equal(t, relay.RoleProducer, got.Source)

	// the other producer never sees it
	require.NoError(t, producer2.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err = producer2.ReadMessage()
	assert.Error(t, err)
}

func TestQueuedMessageDeliveredOnConsumerConnect(t *testing.T) {
	t.Parallel()

	s, url := newTestRelay(t)
	producer := dialAndAuth(t, url, "producer-token", relay.RoleProducer)

	cmd, err := protocol.NewMessage(relay.TypeCommand, relay.RoleProducer, map[string]any{
		"command": "spawn_entity",
		"args":    map[string]any{"entity": "zombie"},
	})
	require.NoError(t, err)
	writeEnvelope(t, producer, cmd)

	require.Eventually(t, func() bool {
		return s.Snapshot().QueueDepth == 1
	}, time.Second, 5*time.Millisecond)

	consumer := dialAndAuth(t, url, "consumer-token", relay.RoleConsumer)
	got := readEnvelope(t, consumer)
	assert.Equal(t, cmd.ID, got.ID)

	require.Eventually(t, func() bool {
		return s.Snapshot().QueueDepth == 0
	}, time.Second, 5*time.Millisecond)
}

func TestStartStopLifecycle(t *testing.T) {
	t.Parallel()

	s := NewServer(ServerConfig{
		Addr: "127.0.0.1:0",
		Tokens: map[relay.Role][]string{
			relay.RoleProducer: {"producer-token"},
			relay.RoleConsumer: {"consumer-token"},
		},
		Logger: zerolog.Nop(),
	})

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	assert.ErrorIs(t, s.Start(ctx), relay.ErrServerAlreadyRunning)

	require.NoError(t, s.Stop(ctx))
	// stopping twice is harmless
	require.NoError(t, s.Stop(ctx))
}

func TestRateLimitClosesAbusiveConnection(t *testing.T) {
	t.Parallel()

	s := NewServer(ServerConfig{
		Tokens: map[relay.Role][]string{
			relay.RoleProducer: {"producer-token"},
			relay.RoleConsumer: {"consumer-token"},
		},
		RateLimit: &RateLimitConfig{MessagesPerSecond: 1, Burst: 2, Enabled: true},
		Logger:    zerolog.Nop(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	go s.router.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(s.handleWebSocket))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	producer := dialAndAuth(t, url, "producer-token", relay.RoleProducer)

	// burst past the limit; the relay closes the connection
	for i := 0; i < 10; i++ {
		cmd, err := protocol.NewMessage(relay.TypeCommand, relay.RoleProducer, map[string]any{
			"command": "give_item",
			"args":    map[string]any{},
		})
		require.NoError(t, err)
		data, err := protocol.Encode(cmd)
		require.NoError(t, err)
		if err := producer.WriteMessage(gorilla.TextMessage, data); err != nil {
			break
		}
	}

	require.NoError(t, producer.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := producer.ReadMessage(); err != nil {
			return
		}
	}
}
