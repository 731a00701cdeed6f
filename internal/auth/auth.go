// Package auth implements the relay's authentication and authorization
// gate. A connection is denied everything until its first message carries a
// token matching one of the configured per-role token sets.
package auth

import (
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	"github.com/gamebridge/relay"
	"github.com/gamebridge/relay/internal/protocol"
)

// roleOrder fixes the order token sets are consulted in; the first match
// wins even when a token appears in both sets.
var roleOrder = []relay.Role{relay.RoleProducer, relay.RoleConsumer}

// capabilities is the static role matrix: producers issue commands and
// queries, consumers report events and answer with responses or errors.
var capabilities = map[relay.Role]map[string]bool{
	relay.RoleProducer: {
		relay.TypeCommand: true,
		relay.TypeQuery:   true,
	},
	relay.RoleConsumer: {
		relay.TypeEvent:    true,
		relay.TypeResponse: true,
		relay.TypeError:    true,
	},
}

// Decision is the structured outcome of an authorization check. It is
// always returned, never panicked or errored out of.
type Decision struct {
	Authorized bool
	Reason     string
}

// Gate validates first-message credentials and enforces the capability
// matrix plus the command denylist.
type Gate struct {
	tokens   map[relay.Role]map[string]bool
	denylist []string
	logger   zerolog.Logger
}

// New builds a Gate from per-role token sets and a list of denied command
// prefixes. Prefixes are matched case-insensitively against the command
// name in command payloads.
func New(tokens map[relay.Role][]string, denylist []string, logger zerolog.Logger) *Gate {
	sets := make(map[relay.Role]map[string]bool, len(tokens))
	for role, list := range tokens {
		set := make(map[string]bool, len(list))
		for _, tok := range list {
			set[tok] = true
		}
		sets[role] = set
	}
	lowered := make([]string, len(denylist))
	for i, p := range denylist {
		lowered[i] = strings.ToLower(p)
	}
	return &Gate{
		tokens:   sets,
		denylist: lowered,
		logger:   logger.With().Str("component", "auth").Logger(),
	}
}

// Authenticate reads the token field from the first message's payload and
// resolves the connection's role. It returns relay.ErrAuthFailed when the
// field is absent, not a string, or matches no configured token set.
func (g *Gate) Authenticate(msg *protocol.Message) (relay.Role, error) {
	var payload struct {
		Token any `json:"token"`
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return "", relay.ErrAuthFailed
	}
	token, ok := payload.Token.(string)
	if !ok || token == "" {
		g.logger.Warn().Str("msg_id", msg.ID).Msg("auth rejected: missing or non-string token")
		return "", relay.ErrAuthFailed
	}

	for _, role := range roleOrder {
		if g.tokens[role][token] {
			return role, nil
		}
	}

	g.logger.Warn().Str("msg_id", msg.ID).Msg("auth rejected: unknown token")
	return "", relay.ErrAuthFailed
}

// Authorize applies the capability matrix and the command denylist. It
// never returns an error; denial is expressed in the Decision.
func (g *Gate) Authorize(role relay.Role, msg *protocol.Message) Decision {
	if !capabilities[role][msg.Type] {
		return Decision{
			Authorized: false,
			Reason:     "role " + string(role) + " may not send " + msg.Type + " messages",
		}
	}

	if msg.Type == relay.TypeCommand {
		if reason := g.checkDenylist(msg); reason != "" {
			return Decision{Authorized: false, Reason: reason}
		}
	}

	return Decision{Authorized: true}
}

// checkDenylist extracts the command name and matches it against the
// configured denied prefixes. A malformed payload is not denied here; the
// validator reports its shape errors separately.
func (g *Gate) checkDenylist(msg *protocol.Message) string {
	var payload struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.Command == "" {
		return ""
	}

	name := strings.ToLower(strings.TrimSpace(payload.Command))
	for _, prefix := range g.denylist {
		if strings.HasPrefix(name, prefix) {
			return "command " + payload.Command + " is denied by policy"
		}
	}
	return ""
}
