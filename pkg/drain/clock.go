package drain

import (
	"context"
	"time"
)

// Clock is the time source used by the drain loop.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// Sleep waits for d or until ctx is done.
func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ShutdownTimer is the read-only view of the process-wide shutdown deadline.
// One owner starts it; listeners only read it.
type ShutdownTimer interface {
	IsStarted() bool
	IsExpired() bool
	ShutdownTimeoutMillis() int64
}

// Counter is the in-flight count being drained.
type Counter interface {
	Count() int64
}
