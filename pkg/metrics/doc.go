// Package metrics exposes Prometheus collectors for inbound listeners.
//
// All series carry the labels protocol and listener:
//
//   - inbound_listener_in_flight: gauge of admitted, uncompleted work
//   - inbound_listener_admitted_total: counter of admitted work units
//   - inbound_listener_rejected_total: counter of work refused while paused
//   - inbound_listener_handoff_failures_total: counter of failed mediation handoffs (label reason)
//   - inbound_listener_drain_duration_seconds: histogram of drain waits (label outcome)
//   - inbound_listener_abandoned_total: counter of work still in flight when a drain gave up
//   - inbound_listener_state: gauge holding the numeric lifecycle state
//
// A nil *Metrics is valid and records nothing.
//
// Usage:
//
//	reg := prometheus.NewRegistry()
//	m := metrics.New(reg)
//	if err := m.Register(); err != nil { ... }
//	http.Handle("/metrics", metrics.Handler(reg))
package metrics
