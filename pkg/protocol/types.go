package protocol

import (
	"fmt"
	"strings"
)

// Protocol identifies the wire protocol of an inbound listener.
type Protocol string

// Supported listener protocols.
const (
	ProtocolGRPC            Protocol = "grpc"
	ProtocolMQTT            Protocol = "mqtt"
	ProtocolWebSocket       Protocol = "ws"
	ProtocolSecureWebSocket Protocol = "wss"
	ProtocolHTTPWebSocket   Protocol = "httpws"
)

// String returns the string representation of the protocol.
func (p Protocol) String() string {
	return string(p)
}

// Valid reports whether p is one of the supported protocols.
func (p Protocol) Valid() bool {
	switch p {
	case ProtocolGRPC, ProtocolMQTT, ProtocolWebSocket, ProtocolSecureWebSocket, ProtocolHTTPWebSocket:
		return true
	}
	return false
}

// IsWebSocketFamily reports whether p shares port ownership through the
// WebSocket endpoint manager.
func (p Protocol) IsWebSocketFamily() bool {
	return p == ProtocolWebSocket || p == ProtocolSecureWebSocket || p == ProtocolHTTPWebSocket
}

// ParseProtocol parses a protocol name, ignoring case. A few long-form
// aliases ("websocket", "secure-websocket", "http-websocket") are accepted.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "grpc":
		return ProtocolGRPC, nil
	case "mqtt":
		return ProtocolMQTT, nil
	case "ws", "websocket":
		return ProtocolWebSocket, nil
	case "wss", "secure-websocket", "securewebsocket":
		return ProtocolSecureWebSocket, nil
	case "httpws", "http-websocket", "httpwebsocket":
		return ProtocolHTTPWebSocket, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProtocol, s)
}

// State is the lifecycle state of a listener.
type State int32

// Listener states.
const (
	StateUnstarted State = iota
	StateRunning
	StatePaused
	StateDraining
	StateStopped
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// MarshalText implements encoding.TextMarshaler so states render as names in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for st := StateUnstarted; st <= StateStopped; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown listener state %q", text)
}
