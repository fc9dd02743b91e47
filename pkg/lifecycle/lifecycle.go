package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getmockd/inbound/pkg/admission"
	"github.com/getmockd/inbound/pkg/drain"
	"github.com/getmockd/inbound/pkg/logging"
	"github.com/getmockd/inbound/pkg/metrics"
	"github.com/getmockd/inbound/pkg/protocol"
)

// Transport binds and releases the network resource of an adapter.
//
// Bind is only called while unbound and Unbind only while bound. Unbind
// must close the resource promptly; any graceful waiting has already
// happened by the time it is called.
type Transport interface {
	Bind(ctx context.Context) error
	Unbind(ctx context.Context) error
}

// Options configures a Lifecycle.
type Options struct {
	Name     string
	Protocol protocol.Protocol

	// StartPaused makes Start enter Paused without binding the transport.
	StartPaused bool

	// LocalWait bounds the drain when the global shutdown timer is not running.
	LocalWait time.Duration

	// Timer is the process-wide shutdown timer. Optional.
	Timer drain.ShutdownTimer

	PollInterval time.Duration
	Clock        drain.Clock
	Metrics      *metrics.Metrics
	Log          *slog.Logger
}

// Lifecycle is the state machine embedded in protocol adapters.
type Lifecycle struct {
	name        string
	proto       protocol.Protocol
	startPaused bool

	transport Transport
	ctrl      *admission.Controller
	drainer   *drain.Coordinator
	metrics   *metrics.Metrics
	log       *slog.Logger

	mu        sync.Mutex
	state     atomic.Int32
	bound     atomic.Bool
	done      chan struct{}
	lastDrain drain.Result
}

// New creates a Lifecycle in the Unstarted state with the gate closed.
func New(t Transport, opts Options) *Lifecycle {
	log := logging.ForListener(opts.Log, string(opts.Protocol), opts.Name)
	l := &Lifecycle{
		name:        opts.Name,
		proto:       opts.Protocol,
		startPaused: opts.StartPaused,
		transport:   t,
		ctrl:        admission.NewController(false, log),
		metrics:     opts.Metrics,
		log:         log,
		done:        make(chan struct{}),
	}
	l.drainer = drain.NewCoordinator(drain.Options{
		Timer:        opts.Timer,
		LocalWait:    opts.LocalWait,
		PollInterval: opts.PollInterval,
		Clock:        opts.Clock,
		Log:          log,
	})
	l.metrics.SetState(string(l.proto), l.name, int(protocol.StateUnstarted))
	return l
}

// Name returns the listener name.
func (l *Lifecycle) Name() string { return l.name }

// Protocol returns the listener protocol.
func (l *Lifecycle) Protocol() protocol.Protocol { return l.proto }

// State returns the current state.
func (l *Lifecycle) State() protocol.State { return protocol.State(l.state.Load()) }

// InFlight returns the in-flight count.
func (l *Lifecycle) InFlight() int64 { return l.ctrl.Count() }

// IsDeactivated reports whether the transport is unbound.
func (l *Lifecycle) IsDeactivated() bool { return !l.bound.Load() }

// IsPaused reports whether the admission gate is closed.
func (l *Lifecycle) IsPaused() bool { return l.ctrl.IsPaused() }

// Logger returns the listener-scoped logger.
func (l *Lifecycle) Logger() *slog.Logger { return l.log }

// Metrics returns the metrics sink, possibly nil.
func (l *Lifecycle) Metrics() *metrics.Metrics { return l.metrics }

// LastDrain returns the result of the most recent drain wait.
func (l *Lifecycle) LastDrain() drain.Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastDrain
}

// Admit performs the atomic admission check and increment. The returned
// release must be deferred by the caller; it is idempotent.
func (l *Lifecycle) Admit() (release func(), ok bool) {
	rel, ok := l.ctrl.Admit()
	if !ok {
		l.metrics.Rejected(string(l.proto), l.name)
		return func() {}, false
	}
	l.metrics.Admitted(string(l.proto), l.name)
	var once sync.Once
	return func() {
		once.Do(func() {
			rel()
			l.metrics.Completed(string(l.proto), l.name)
		})
	}, true
}

// Reject records a unit of work refused outside Admit, such as a frame
// dropped on an open connection of a paused listener.
func (l *Lifecycle) Reject() {
	l.metrics.Rejected(string(l.proto), l.name)
}

func (l *Lifecycle) setState(s protocol.State) {
	l.state.Store(int32(s))
	l.metrics.SetState(string(l.proto), l.name, int(s))
}

func (l *Lifecycle) bind(ctx context.Context) error {
	if l.bound.Load() {
		return nil
	}
	if err := l.transport.Bind(ctx); err != nil {
		var bindErr *protocol.TransportBindError
		if errors.As(err, &bindErr) {
			return err
		}
		return &protocol.TransportBindError{Listener: l.name, Err: err}
	}
	l.bound.Store(true)
	return nil
}

func (l *Lifecycle) unbind(ctx context.Context) error {
	if !l.bound.Load() {
		return nil
	}
	l.bound.Store(false)
	return l.transport.Unbind(ctx)
}

// checkLive returns the error for control calls made in a state that does
// not allow them. Callers hold l.mu.
func (l *Lifecycle) checkLive() error {
	switch l.State() {
	case protocol.StateUnstarted:
		return protocol.ErrNotStarted
	case protocol.StateDraining, protocol.StateStopped:
		return protocol.ErrDraining
	}
	return nil
}

// Start binds the transport and opens the gate, or enters Paused without
// binding when configured to start paused.
func (l *Lifecycle) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.State() {
	case protocol.StateUnstarted:
	case protocol.StateDraining, protocol.StateStopped:
		return protocol.ErrDraining
	default:
		return protocol.ErrAlreadyStarted
	}

	if l.startPaused {
		l.ctrl.Pause()
		l.setState(protocol.StatePaused)
		l.log.Info("listener started in paused mode")
		return nil
	}
	if err := l.bind(ctx); err != nil {
		l.log.Error("failed to start listener", "error", err)
		return err
	}
	l.ctrl.Resume()
	l.setState(protocol.StateRunning)
	l.log.Info("listener started")
	return nil
}

// Pause closes the admission gate. The transport stays bound.
func (l *Lifecycle) Pause() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkLive(); err != nil {
		return err
	}
	l.ctrl.Pause()
	l.setState(protocol.StatePaused)
	l.log.Info("listener paused", "inFlight", l.ctrl.Count())
	return nil
}

// Resume reopens the admission gate, binding the transport first when it
// is unbound.
func (l *Lifecycle) Resume(ctx context.Context) error {
	return l.open(ctx, "listener resumed")
}

// Activate binds the transport if needed and opens the gate.
func (l *Lifecycle) Activate(ctx context.Context) error {
	return l.open(ctx, "listener activated")
}

func (l *Lifecycle) open(ctx context.Context, msg string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkLive(); err != nil {
		return err
	}
	if err := l.bind(ctx); err != nil {
		l.log.Error("failed to bind listener", "error", err)
		return err
	}
	l.ctrl.Resume()
	l.setState(protocol.StateRunning)
	l.log.Info(msg)
	return nil
}

// Deactivate closes the gate and releases the transport without draining.
func (l *Lifecycle) Deactivate(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkLive(); err != nil {
		return err
	}
	l.ctrl.Pause()
	l.setState(protocol.StatePaused)
	if err := l.unbind(ctx); err != nil {
		l.log.Warn("error releasing transport", "error", err)
		return err
	}
	l.log.Info("listener deactivated", "inFlight", l.ctrl.Count())
	return nil
}

// Destroy closes the gate, waits for in-flight work within the drain
// bounds, and then force-unbinds the transport. Concurrent calls wait for
// the first one to finish. Only an unbind failure is returned.
func (l *Lifecycle) Destroy(ctx context.Context) error {
	l.mu.Lock()
	switch l.State() {
	case protocol.StateStopped:
		l.mu.Unlock()
		return nil
	case protocol.StateDraining:
		done := l.done
		l.mu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	case protocol.StateUnstarted:
		l.setState(protocol.StateStopped)
		close(l.done)
		l.mu.Unlock()
		l.log.Info("listener destroyed before start")
		return nil
	}
	l.ctrl.Pause()
	l.setState(protocol.StateDraining)
	l.mu.Unlock()

	res := l.drainer.Wait(ctx, l.ctrl)
	l.metrics.Drained(string(l.proto), l.name, string(res.Outcome), res.Elapsed, res.Remaining)
	if res.Remaining > 0 {
		l.log.Warn("force-closing listener with work still in flight",
			"inFlight", res.Remaining, "outcome", res.Outcome, "mode", res.Mode, "elapsed", res.Elapsed)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastDrain = res
	err := l.unbind(context.WithoutCancel(ctx))
	if err != nil {
		l.log.Warn("error releasing transport", "error", err)
	}
	l.setState(protocol.StateStopped)
	close(l.done)
	l.log.Info("listener destroyed", "outcome", res.Outcome, "elapsed", res.Elapsed)
	return err
}

// Done is closed once the listener reached Stopped.
func (l *Lifecycle) Done() <-chan struct{} { return l.done }
