package domain

import "time"

// Compiled defaults for the chat client. Most can be overridden via configuration.
const (
	// Message limits
	MaxMessageSize = 64 * 1024 // Largest inbound frame accepted by the transport

	// Timeouts
	AckTimeout       = 10 * time.Second // Max wait for a sendMessage acknowledgment
	HandshakeTimeout = 10 * time.Second // Websocket handshake budget
	WriteTimeout     = 5 * time.Second  // Per-frame write deadline
	AuthTimeout      = 15 * time.Second // Auth API request budget

	// Reconnect policy of the realtime transport
	ReconnectInitialInterval = 500 * time.Millisecond
	ReconnectMaxInterval     = 5 * time.Second

	// Event loop sizing
	InboxSize = 128 // Pending events queued for the session loop

	// Shutdown (reverse of startup: UI, session loop, OTEL)
	ShutdownOTELTimeout = 5 * time.Second
)

// Disconnect reasons reported by the realtime transport.
const (
	ReasonClientClose    = "client disconnect"
	ReasonServerClose    = "server disconnect"
	ReasonTransportClose = "transport close"
	ReasonTransportError = "transport error"
)

// IsExplicitClose reports whether a disconnect reason was caller-initiated.
func IsExplicitClose(reason string) bool {
	return reason == ReasonClientClose
}
