// Package drain implements the graceful-drain wait that runs when a listener
// is destroyed.
//
// The wait reconciles two timeout sources:
//
//   - a process-wide ShutdownTimer, started once when the whole runtime
//     begins shutting down; while it is started the wait lasts until the
//     timer reports expired
//   - a per-listener local wait, used when only this listener is being
//     undeployed while the runtime keeps running
//
// Either way the loop polls the in-flight counter at a fixed interval and
// also enforces an independent fallback bound (a poll budget and a fallback
// deadline), so it terminates even if the timer or the clock misbehaves.
//
// The poll loop sleeps through a Clock so tests can run with a fake clock
// and no real delay.
package drain
