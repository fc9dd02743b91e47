package drain

import (
	"context"
	"log/slog"
	"time"

	"github.com/getmockd/inbound/pkg/logging"
)

// DefaultPollInterval is the time between two reads of the in-flight counter.
const DefaultPollInterval = 100 * time.Millisecond

// Mode identifies which timeout source bounded a drain.
type Mode string

// Drain modes.
const (
	ModeGlobal Mode = "global"
	ModeLocal  Mode = "local"
)

// Outcome is how a drain wait ended.
type Outcome string

// Drain outcomes.
const (
	// OutcomeDrained means the in-flight count reached zero.
	OutcomeDrained Outcome = "drained"
	// OutcomeTimedOut means the global timer expired or the local deadline passed.
	OutcomeTimedOut Outcome = "timed_out"
	// OutcomeFallback means the independent fallback bound ended the loop.
	OutcomeFallback Outcome = "fallback"
	// OutcomeCancelled means the caller's context was cancelled.
	OutcomeCancelled Outcome = "cancelled"
)

// Result reports how a drain wait ended.
type Result struct {
	Mode      Mode
	Outcome   Outcome
	Remaining int64
	Polls     int
	Elapsed   time.Duration
}

// Drained reports whether no work remained when the wait ended.
func (r Result) Drained() bool { return r.Remaining == 0 }

// Options configures a Coordinator.
type Options struct {
	// Timer is the process-wide shutdown timer. Nil means never started.
	Timer ShutdownTimer
	// LocalWait is the per-listener undeployment wait. Zero means no wait.
	LocalWait time.Duration
	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration
	// Clock defaults to SystemClock.
	Clock Clock
	// Log defaults to a no-op logger.
	Log *slog.Logger
}

// Coordinator runs the wait part of a listener's graceful drain.
type Coordinator struct {
	timer     ShutdownTimer
	localWait time.Duration
	poll      time.Duration
	clock     Clock
	log       *slog.Logger
}

// NewCoordinator creates a Coordinator, applying defaults for zero options.
func NewCoordinator(opts Options) *Coordinator {
	c := &Coordinator{
		timer:     opts.Timer,
		localWait: opts.LocalWait,
		poll:      opts.PollInterval,
		clock:     opts.Clock,
		log:       logging.OrNop(opts.Log),
	}
	if c.poll <= 0 {
		c.poll = DefaultPollInterval
	}
	if c.clock == nil {
		c.clock = SystemClock{}
	}
	if c.localWait < 0 {
		c.localWait = 0
	}
	return c
}

// PollInterval returns the effective poll interval.
func (c *Coordinator) PollInterval() time.Duration { return c.poll }

// Wait polls counter until it reaches zero or the applicable bound elapses.
// The caller is expected to have closed the admission gate already.
// Cancelling ctx ends the wait immediately with OutcomeCancelled.
func (c *Coordinator) Wait(ctx context.Context, counter Counter) Result {
	start := c.clock.Now()

	var (
		mode    Mode
		budget  time.Duration
		expired func(now time.Time) bool
	)
	if c.timer != nil && c.timer.IsStarted() {
		mode = ModeGlobal
		budget = time.Duration(c.timer.ShutdownTimeoutMillis()) * time.Millisecond
		expired = func(time.Time) bool { return c.timer.IsExpired() }
	} else {
		mode = ModeLocal
		budget = c.localWait
		deadline := start.Add(budget)
		expired = func(now time.Time) bool { return !now.Before(deadline) }
	}

	result := Result{Mode: mode}
	finish := func(o Outcome, remaining int64) Result {
		result.Outcome = o
		result.Remaining = remaining
		result.Elapsed = c.clock.Now().Sub(start)
		return result
	}

	if n := counter.Count(); n <= 0 {
		return finish(OutcomeDrained, 0)
	} else if mode == ModeLocal && budget <= 0 {
		return finish(OutcomeTimedOut, n)
	}

	// The fallback bound does not depend on the timer: at most one poll
	// per interval of the budget, plus one.
	maxPolls := int(budget/c.poll) + 1
	fallbackDeadline := start.Add(budget + c.poll)

	c.log.Debug("waiting for in-flight work to drain",
		"mode", mode, "inFlight", counter.Count(), "budget", budget, "pollInterval", c.poll)

	for {
		n := counter.Count()
		if n <= 0 {
			return finish(OutcomeDrained, 0)
		}
		if ctx.Err() != nil {
			return finish(OutcomeCancelled, n)
		}
		now := c.clock.Now()
		if expired(now) {
			return finish(OutcomeTimedOut, n)
		}
		if result.Polls >= maxPolls || now.After(fallbackDeadline) {
			c.log.Warn("drain fallback bound reached before timer expiry",
				"mode", mode, "polls", result.Polls, "inFlight", n)
			return finish(OutcomeFallback, n)
		}

		result.Polls++
		if err := c.clock.Sleep(ctx, c.poll); err != nil {
			return finish(OutcomeCancelled, counter.Count())
		}
	}
}
