// Package engine deploys inbound listeners and coordinates their shutdown.
//
// ListenerManager creates listeners from configuration through per-protocol
// factories, keeps them in a registry and exposes the lifecycle operations
// used by the control API. Engine wires a ListenerManager to the mediation
// engine, metrics and the control API for a whole process.
package engine
