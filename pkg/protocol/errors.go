package protocol

import "fmt"

// Error is a simple error type for protocol errors.
// It allows defining sentinel errors as constants.
type Error string

// Error implements the error interface.
func (e Error) Error() string { return string(e) }

// Sentinel errors for listener lifecycle and registry operations.
var (
	// ErrNilListener is returned when attempting to register a nil listener.
	ErrNilListener = Error("listener cannot be nil")

	// ErrEmptyName is returned when a listener has an empty name.
	ErrEmptyName = Error("listener name cannot be empty")

	// ErrListenerExists is returned when registering a listener whose name
	// is already registered.
	ErrListenerExists = Error("listener with this name already exists")

	// ErrListenerNotFound is returned when looking up an unknown listener.
	ErrListenerNotFound = Error("listener not found")

	// ErrUnknownProtocol is returned for an unsupported protocol name.
	ErrUnknownProtocol = Error("unknown protocol")

	// ErrAlreadyStarted is returned when Start is called more than once.
	// It is a configuration error, never a silent no-op.
	ErrAlreadyStarted = Error("listener is already started")

	// ErrNotStarted is returned by runtime controls on a listener that was
	// never started.
	ErrNotStarted = Error("listener is not started")

	// ErrDraining is returned when a control operation would reopen a
	// listener that is draining or stopped.
	ErrDraining = Error("listener is draining or stopped")
)

// ConfigurationError reports a missing or malformed mandatory listener
// parameter. It fails init for that listener only.
type ConfigurationError struct {
	Listener string
	Key      string
	Err      error
}

func (e *ConfigurationError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("listener %s: configuration error: %v", e.Listener, e.Err)
	}
	return fmt.Sprintf("listener %s: configuration error for %q: %v", e.Listener, e.Key, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// TransportBindError reports that the transport could not be bound (port in
// use, invalid TLS material, unreachable broker). The listener stays
// Unstarted.
type TransportBindError struct {
	Listener string
	Address  string
	Err      error
}

func (e *TransportBindError) Error() string {
	return fmt.Sprintf("listener %s: failed to bind %s: %v", e.Listener, e.Address, e.Err)
}

func (e *TransportBindError) Unwrap() error { return e.Err }
