// Package lifecycle implements the listener state machine shared by every
// protocol adapter.
//
// A Lifecycle owns the admission controller, the drain coordinator and the
// current state. Adapters embed it and supply a Transport that knows how to
// bind and release their network resource:
//
//	Unstarted -> Running      Start
//	Unstarted -> Paused       Start with StartPaused (transport stays unbound)
//	Running  <-> Paused       Pause / Resume, Deactivate / Activate
//	Running, Paused -> Draining -> Stopped   Destroy
//	Unstarted -> Stopped      Destroy of a listener that never started
//
// Once Draining, the gate stays closed and every reopening call returns
// protocol.ErrDraining.
package lifecycle
