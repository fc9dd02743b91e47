package protocol

import "context"

// Listener is the capability set every inbound protocol adapter implements.
//
// Init is the adapter constructor: it parses the listener parameters and
// fails fast on malformed mandatory values. All other lifecycle transitions
// go through the methods below.
type Listener interface {
	// Name returns the unique listener name.
	Name() string

	// Protocol returns the wire protocol of the adapter.
	Protocol() Protocol

	// State returns the current lifecycle state.
	State() State

	// InFlight returns the number of admitted units of work not yet completed.
	InFlight() int64

	// Start binds the transport, or only enters Paused when the listener is
	// configured to start in paused mode. Calling Start twice returns
	// ErrAlreadyStarted.
	Start(ctx context.Context) error

	// Pause closes the admission gate; the transport stays bound.
	Pause() error

	// Resume reopens the admission gate. An unbound listener is bound first.
	Resume(ctx context.Context) error

	// Activate binds the transport if needed and opens the gate.
	Activate(ctx context.Context) error

	// Deactivate closes the gate and releases the transport without draining.
	Deactivate(ctx context.Context) error

	// Destroy drains in-flight work within the configured bounds and then
	// force-unbinds the transport.
	Destroy(ctx context.Context) error

	// IsDeactivated reports whether the transport is unbound or was never bound.
	IsDeactivated() bool
}

// Status is a point-in-time snapshot of a listener, used by the control API.
type Status struct {
	Name        string   `json:"name"`
	Protocol    Protocol `json:"protocol"`
	State       State    `json:"state"`
	InFlight    int64    `json:"inFlight"`
	Deactivated bool     `json:"deactivated"`
}

// StatusOf builds a Status snapshot for l.
func StatusOf(l Listener) Status {
	return Status{
		Name:        l.Name(),
		Protocol:    l.Protocol(),
		State:       l.State(),
		InFlight:    l.InFlight(),
		Deactivated: l.IsDeactivated(),
	}
}
