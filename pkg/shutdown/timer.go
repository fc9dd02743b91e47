// Package shutdown provides the process-wide graceful shutdown timer.
//
// The engine owns a single Timer and starts it once when the runtime begins
// shutting down. Listeners only see it through the read-only
// drain.ShutdownTimer view.
package shutdown

import (
	"sync"
	"time"
)

// DefaultTimeout is the global shutdown budget when none is configured.
const DefaultTimeout = 30 * time.Second

// Timer is a start-once countdown shared by every listener.
type Timer struct {
	mu        sync.RWMutex
	timeout   time.Duration
	startedAt time.Time
	started   bool
	now       func() time.Time
}

// Option configures a Timer.
type Option func(*Timer)

// WithNow replaces the time source.
func WithNow(now func() time.Time) Option {
	return func(t *Timer) { t.now = now }
}

// NewTimer creates a stopped Timer with the given budget. A non-positive
// timeout uses DefaultTimeout.
func NewTimer(timeout time.Duration, opts ...Option) *Timer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	t := &Timer{timeout: timeout, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start starts the countdown. It reports false if the timer was already
// started; the original start time is kept.
func (t *Timer) Start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return false
	}
	t.started = true
	t.startedAt = t.now()
	return true
}

// Stop resets the timer to the not-started state.
func (t *Timer) Stop() {
	t.mu.Lock()
	t.started = false
	t.startedAt = time.Time{}
	t.mu.Unlock()
}

// IsStarted reports whether the global shutdown has begun.
func (t *Timer) IsStarted() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.started
}

// IsExpired reports whether the timer was started and its budget has elapsed.
func (t *Timer) IsExpired() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.started && !t.now().Before(t.startedAt.Add(t.timeout))
}

// Remaining returns the time left before expiry, the full budget when not
// started, or zero once expired.
func (t *Timer) Remaining() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.started {
		return t.timeout
	}
	left := t.startedAt.Add(t.timeout).Sub(t.now())
	if left < 0 {
		return 0
	}
	return left
}

// Timeout returns the configured budget.
func (t *Timer) Timeout() time.Duration { return t.timeout }

// ShutdownTimeoutMillis returns the configured budget in milliseconds.
func (t *Timer) ShutdownTimeoutMillis() int64 { return t.timeout.Milliseconds() }
