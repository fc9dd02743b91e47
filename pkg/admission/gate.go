package admission

import (
	"sync"
	"sync/atomic"
)

// Gate is a per-listener admission gate. The zero value is closed.
//
// The open flag is read atomically on the hot path. The RWMutex only
// serializes Close/Open against in-progress admissions so that Close
// returns after every admission that observed the open gate has been
// counted.
type Gate struct {
	open atomic.Bool
	mu   sync.RWMutex
}

// NewGate returns a gate in the given initial state.
func NewGate(open bool) *Gate {
	g := &Gate{}
	g.open.Store(open)
	return g
}

// IsOpen reports whether new work may be admitted.
func (g *Gate) IsOpen() bool {
	return g.open.Load()
}

// Open lets new work through. Returns true if the gate was closed.
func (g *Gate) Open() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open.CompareAndSwap(false, true)
}

// Close rejects all new work. Returns true if the gate was open.
func (g *Gate) Close() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open.CompareAndSwap(true, false)
}

// enter runs fn while holding the admission side of the gate, if open.
func (g *Gate) enter(fn func()) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.open.Load() {
		return false
	}
	fn()
	return true
}
