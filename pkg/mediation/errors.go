package mediation

import (
	"errors"
	"fmt"
)

// Sentinel errors wrapped by HandoffError.
var (
	ErrSequenceNotFound = errors.New("sequence not found")
	ErrRejected         = errors.New("message rejected by engine")
	ErrPanic            = errors.New("panic during mediation")
	ErrNoEngine         = errors.New("no mediation engine configured")
)

// Reason classifies a handoff failure. It is also used as a metric label.
type Reason string

// Handoff failure reasons.
const (
	ReasonSequenceNotFound Reason = "sequence_not_found"
	ReasonBuild            Reason = "build"
	ReasonRejected         Reason = "rejected"
	ReasonEngine           Reason = "engine"
	ReasonPanic            Reason = "panic"
)

// HandoffError reports that a message could not be handed to the engine.
// The listener stays healthy; only this message failed.
type HandoffError struct {
	Listener      string
	Sequence      string
	CorrelationID string
	Reason        Reason
	Err           error
}

func (e *HandoffError) Error() string {
	return fmt.Sprintf("listener %s: handoff to sequence %q failed (%s): %v", e.Listener, e.Sequence, e.Reason, e.Err)
}

func (e *HandoffError) Unwrap() error { return e.Err }
