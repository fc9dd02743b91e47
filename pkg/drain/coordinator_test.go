package drain

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	onSleep func()
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	hook := c.onSleep
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	return ctx.Err()
}

type fakeTimer struct {
	clock     *fakeClock
	started   bool
	startedAt time.Time
	timeout   time.Duration
	neverEnds bool
}

func (t *fakeTimer) IsStarted() bool { return t.started }

func (t *fakeTimer) IsExpired() bool {
	if !t.started || t.neverEnds {
		return false
	}
	return !t.clock.Now().Before(t.startedAt.Add(t.timeout))
}

func (t *fakeTimer) ShutdownTimeoutMillis() int64 { return t.timeout.Milliseconds() }

type counter struct{ n atomic.Int64 }

func (c *counter) Count() int64 { return c.n.Load() }

func TestWait_NothingInFlightReturnsImmediately(t *testing.T) {
	clock := newFakeClock()
	c := NewCoordinator(Options{Clock: clock, LocalWait: time.Second})

	res := c.Wait(context.Background(), &counter{})

	assert.Equal(t, OutcomeDrained, res.Outcome)
	assert.True(t, res.Drained())
	assert.Zero(t, res.Polls)
	assert.Zero(t, res.Elapsed)
}

func TestWait_ZeroLocalWaitWithoutTimerReturnsImmediately(t *testing.T) {
	clock := newFakeClock()
	c := NewCoordinator(Options{Clock: clock})
	cnt := &counter{}
	cnt.n.Store(4)

	res := c.Wait(context.Background(), cnt)

	assert.Equal(t, ModeLocal, res.Mode)
	assert.Equal(t, OutcomeTimedOut, res.Outcome)
	assert.Equal(t, int64(4), res.Remaining)
	assert.False(t, res.Drained())
	assert.Zero(t, res.Polls)
	assert.Zero(t, res.Elapsed)
}

func TestWait_GlobalTimerBoundsLeakedWork(t *testing.T) {
	clock := newFakeClock()
	timer := &fakeTimer{clock: clock, started: true, startedAt: clock.Now(), timeout: time.Second}
	// A long local wait must not matter once the global timer is running.
	c := NewCoordinator(Options{Clock: clock, Timer: timer, LocalWait: time.Hour, PollInterval: 100 * time.Millisecond})
	cnt := &counter{}
	cnt.n.Store(1)

	res := c.Wait(context.Background(), cnt)

	assert.Equal(t, ModeGlobal, res.Mode)
	assert.Equal(t, OutcomeTimedOut, res.Outcome)
	assert.Equal(t, int64(1), res.Remaining)
	assert.LessOrEqual(t, res.Elapsed, time.Second+100*time.Millisecond)
	assert.GreaterOrEqual(t, res.Elapsed, time.Second)
}

func TestWait_GlobalTimerStartedEarlierLeavesLessTime(t *testing.T) {
	clock := newFakeClock()
	timer := &fakeTimer{clock: clock, started: true, startedAt: clock.Now().Add(-800 * time.Millisecond), timeout: time.Second}
	c := NewCoordinator(Options{Clock: clock, Timer: timer, PollInterval: 100 * time.Millisecond})
	cnt := &counter{}
	cnt.n.Store(2)

	res := c.Wait(context.Background(), cnt)

	assert.Equal(t, OutcomeTimedOut, res.Outcome)
	assert.Equal(t, 200*time.Millisecond, res.Elapsed)
}

func TestWait_LocalDeadline(t *testing.T) {
	clock := newFakeClock()
	c := NewCoordinator(Options{Clock: clock, LocalWait: 300 * time.Millisecond, PollInterval: 100 * time.Millisecond})
	cnt := &counter{}
	cnt.n.Store(1)

	res := c.Wait(context.Background(), cnt)

	assert.Equal(t, ModeLocal, res.Mode)
	assert.Equal(t, OutcomeTimedOut, res.Outcome)
	assert.Equal(t, 300*time.Millisecond, res.Elapsed)
	assert.Equal(t, 3, res.Polls)
}

func TestWait_EndsExactlyWhenLastExitHappens(t *testing.T) {
	clock := newFakeClock()
	cnt := &counter{}
	cnt.n.Store(3)
	clock.onSleep = func() { cnt.n.Add(-1) }
	c := NewCoordinator(Options{Clock: clock, LocalWait: 10 * time.Second, PollInterval: 50 * time.Millisecond})

	res := c.Wait(context.Background(), cnt)

	assert.Equal(t, OutcomeDrained, res.Outcome)
	assert.True(t, res.Drained())
	assert.Equal(t, 3, res.Polls)
	assert.Equal(t, 150*time.Millisecond, res.Elapsed)
}

func TestWait_MisbehavingTimerHitsFallback(t *testing.T) {
	clock := newFakeClock()
	timer := &fakeTimer{clock: clock, started: true, startedAt: clock.Now(), timeout: 500 * time.Millisecond, neverEnds: true}
	c := NewCoordinator(Options{Clock: clock, Timer: timer, PollInterval: 100 * time.Millisecond})
	cnt := &counter{}
	cnt.n.Store(1)

	res := c.Wait(context.Background(), cnt)

	assert.Equal(t, OutcomeFallback, res.Outcome)
	assert.Equal(t, int64(1), res.Remaining)
	assert.LessOrEqual(t, res.Polls, 6)
	assert.LessOrEqual(t, res.Elapsed, 600*time.Millisecond)
}

func TestWait_CancelledContext(t *testing.T) {
	clock := newFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	polls := 0
	clock.onSleep = func() {
		polls++
		if polls == 2 {
			cancel()
		}
	}
	c := NewCoordinator(Options{Clock: clock, LocalWait: time.Minute, PollInterval: 100 * time.Millisecond})
	cnt := &counter{}
	cnt.n.Store(1)

	res := c.Wait(ctx, cnt)

	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.Equal(t, int64(1), res.Remaining)
	assert.Equal(t, 2, res.Polls)
}

func TestWait_SystemClockDrains(t *testing.T) {
	cnt := &counter{}
	cnt.n.Store(1)
	c := NewCoordinator(Options{LocalWait: 5 * time.Second, PollInterval: 5 * time.Millisecond})

	go func() {
		time.Sleep(20 * time.Millisecond)
		cnt.n.Store(0)
	}()

	res := c.Wait(context.Background(), cnt)
	require.Equal(t, OutcomeDrained, res.Outcome)
	assert.Less(t, res.Elapsed, 5*time.Second)
}

func TestNewCoordinator_Defaults(t *testing.T) {
	c := NewCoordinator(Options{LocalWait: -time.Second})
	assert.Equal(t, DefaultPollInterval, c.PollInterval())
	assert.Zero(t, c.localWait)
	assert.IsType(t, SystemClock{}, c.clock)
}

func TestSystemClock_SleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := SystemClock{}.Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}
