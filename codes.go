package relay

import "errors"

// Version is the wire envelope schema version spoken by this relay.
const Version = "1.0.0"

// Message types carried in the envelope's type field.
const (
	TypeEvent    = "event"
	TypeCommand  = "command"
	TypeQuery    = "query"
	TypeResponse = "response"
	TypeError    = "error"
)

// Stable error codes surfaced on the wire in error payloads.
const (
	CodeAuthFailed       = "AUTH_FAILED"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeSchemaError      = "SCHEMA_ERROR"
	CodeServerError      = "SERVER_ERROR"
	CodeConnectionError  = "CONNECTION_ERROR"
	CodeTimeout          = "TIMEOUT"
)

// Sentinel errors returned by the relay's components.
var (
	ErrServerAlreadyRunning = errors.New("server already running")
	ErrConnectionClosed     = errors.New("connection closed")
	ErrSendBufferFull       = errors.New("send buffer full")
	ErrAuthFailed           = errors.New("authentication failed")
	ErrGivenUp              = errors.New("reconnection attempts exhausted")
	ErrAlreadyConnected     = errors.New("client already connected")
)
