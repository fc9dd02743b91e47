package admission

import (
	"log/slog"
	"sync"
)

// Controller pairs a Gate with an InFlight counter for one listener.
type Controller struct {
	gate     *Gate
	inflight *InFlight
}

// NewController returns a controller whose gate starts in the given state.
func NewController(open bool, log *slog.Logger) *Controller {
	return &Controller{
		gate:     NewGate(open),
		inflight: NewInFlight(log),
	}
}

// TryAdmit reports whether new work would currently be admitted. It has no
// side effect.
func (c *Controller) TryAdmit() bool {
	return c.gate.IsOpen()
}

// Admit checks the gate and, if open, counts one unit of work in progress.
// The returned release func must be called exactly once when the work
// completes on any path; extra calls are ignored.
func (c *Controller) Admit() (release func(), ok bool) {
	if !c.gate.enter(func() { c.inflight.Enter() }) {
		return nil, false
	}
	var once sync.Once
	return func() { once.Do(func() { c.inflight.Exit() }) }, true
}

// Enter counts one unit of work regardless of the gate.
func (c *Controller) Enter() { c.inflight.Enter() }

// Exit completes one unit of work.
func (c *Controller) Exit() { c.inflight.Exit() }

// Pause closes the gate. Returns true if it was open.
func (c *Controller) Pause() bool { return c.gate.Close() }

// Resume opens the gate. Returns true if it was closed.
func (c *Controller) Resume() bool { return c.gate.Open() }

// IsPaused reports whether the gate is closed.
func (c *Controller) IsPaused() bool { return !c.gate.IsOpen() }

// Count returns the in-flight count.
func (c *Controller) Count() int64 { return c.inflight.Count() }

// InFlight exposes the underlying counter, e.g. for the drain coordinator.
func (c *Controller) InFlight() *InFlight { return c.inflight }
