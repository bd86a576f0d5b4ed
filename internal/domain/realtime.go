package domain

import (
	"encoding/json"
)

// ConnState is the lifecycle state of the realtime channel.
type ConnState string

const (
	ConnDisconnected ConnState = "disconnected"
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
	// ConnFailed is terminal until the next explicit connect.
	ConnFailed ConnState = "failed"
)

// Realtime event names.
const (
	EventJoin         = "join"
	EventNotification = "notification"
)

// ConnectionStatus is the UI-facing view of the realtime channel.
type ConnectionStatus struct {
	State             ConnState `json:"state"`
	Connected         bool      `json:"isConnected"`
	Error             string    `json:"connectionError,omitempty"`
	ReconnectAttempts int       `json:"reconnectAttempts"`
}

// RealtimeHandlers receive transport lifecycle and event callbacks.
// Callbacks run on the transport's goroutine and must not block for long.
type RealtimeHandlers struct {
	OnConnect          func()
	OnDisconnect       func(reason string)
	OnConnectError     func(err error)
	OnReconnectAttempt func(attempt int)
	OnReconnectFailed  func()
	OnEvent            func(event string, payload json.RawMessage)
}

// RealtimeTransport is one persistent connection with built-in reconnection.
type RealtimeTransport interface {
	Open()
	Emit(event string, payload any) error
	Close() error
}

// RealtimeDialer creates transports bound to a bearer token.
type RealtimeDialer interface {
	NewTransport(token string, h RealtimeHandlers) (RealtimeTransport, error)
}
