package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/getmockd/inbound/pkg/config"
	"github.com/getmockd/inbound/pkg/grpc"
	"github.com/getmockd/inbound/pkg/lifecycle"
	"github.com/getmockd/inbound/pkg/logging"
	"github.com/getmockd/inbound/pkg/mqtt"
	"github.com/getmockd/inbound/pkg/protocol"
	"github.com/getmockd/inbound/pkg/shutdown"
	"github.com/getmockd/inbound/pkg/websocket"
)

// ErrShuttingDown is returned by Deploy once Shutdown has begun.
var ErrShuttingDown = errors.New("listener manager is shutting down")

// Factory creates a listener for one protocol.
type Factory func(cfg config.ListenerConfig, rt lifecycle.Runtime) (protocol.Listener, error)

// ListenerManager owns the deployed listeners.
type ListenerManager struct {
	registry  *protocol.Registry
	factories map[protocol.Protocol]Factory
	rt        lifecycle.Runtime
	timer     *shutdown.Timer
	endpoints *websocket.EndpointManager
	log       *slog.Logger

	mu        sync.Mutex
	stopping  bool
	deploying sync.WaitGroup
}

// NewListenerManager creates a manager with factories for every supported
// protocol. rt.Timer is replaced by timer so every listener's drain is
// bounded by the global shutdown budget.
func NewListenerManager(rt lifecycle.Runtime, timer *shutdown.Timer) *ListenerManager {
	if timer == nil {
		timer = shutdown.NewTimer(shutdown.DefaultTimeout)
	}
	rt.Timer = timer
	rt.Log = logging.OrNop(rt.Log)
	m := &ListenerManager{
		registry:  protocol.NewRegistry(),
		factories: make(map[protocol.Protocol]Factory),
		rt:        rt,
		timer:     timer,
		endpoints: websocket.NewEndpointManager(rt.Log),
		log:       rt.Log.With("component", "listener-manager"),
	}

	m.RegisterFactory(protocol.ProtocolGRPC, func(cfg config.ListenerConfig, rt lifecycle.Runtime) (protocol.Listener, error) {
		return grpc.NewListener(cfg, rt)
	})
	m.RegisterFactory(protocol.ProtocolMQTT, func(cfg config.ListenerConfig, rt lifecycle.Runtime) (protocol.Listener, error) {
		return mqtt.NewListener(cfg, rt)
	})
	ws := func(cfg config.ListenerConfig, rt lifecycle.Runtime) (protocol.Listener, error) {
		return websocket.NewListener(cfg, rt, m.endpoints)
	}
	m.RegisterFactory(protocol.ProtocolWebSocket, ws)
	m.RegisterFactory(protocol.ProtocolSecureWebSocket, ws)
	m.RegisterFactory(protocol.ProtocolHTTPWebSocket, ws)
	return m
}

// RegisterFactory adds or replaces the factory for a protocol.
func (m *ListenerManager) RegisterFactory(p protocol.Protocol, f Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factories[p] = f
}

// Timer returns the global shutdown timer.
func (m *ListenerManager) Timer() *shutdown.Timer { return m.timer }

// Endpoints returns the shared WebSocket endpoint manager.
func (m *ListenerManager) Endpoints() *websocket.EndpointManager { return m.endpoints }

// Deploy creates, registers and starts a listener. A listener that fails to
// start is removed again so the name can be reused. Shutdown waits for
// deploys already past the stopping check before it destroys anything.
func (m *ListenerManager) Deploy(ctx context.Context, cfg config.ListenerConfig) (protocol.Listener, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, &protocol.ConfigurationError{Listener: cfg.Name, Err: err}
	}

	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil, ErrShuttingDown
	}
	m.deploying.Add(1)
	defer m.deploying.Done()
	factory, ok := m.factories[cfg.Protocol]
	m.mu.Unlock()
	if !ok {
		return nil, &protocol.ConfigurationError{Listener: cfg.Name, Key: "protocol", Err: fmt.Errorf("%w: %s", protocol.ErrUnknownProtocol, cfg.Protocol)}
	}

	l, err := factory(cfg, m.rt)
	if err != nil {
		return nil, err
	}
	if err := m.registry.Register(l); err != nil {
		return nil, err
	}
	if err := l.Start(ctx); err != nil {
		_ = m.registry.Unregister(l.Name())
		m.rt.Metrics.Forget(string(l.Protocol()), l.Name())
		return nil, err
	}
	m.log.Info("listener deployed", "listener", l.Name(), "protocol", l.Protocol(), "state", l.State())
	return l, nil
}

// DeployAll deploys every listener, continuing past failures. The returned
// error joins every failure.
func (m *ListenerManager) DeployAll(ctx context.Context, cfgs []config.ListenerConfig) error {
	var errs []error
	for _, cfg := range cfgs {
		if _, err := m.Deploy(ctx, cfg); err != nil {
			m.log.Error("listener failed to deploy", "listener", cfg.Name, "protocol", cfg.Protocol, "error", err)
			errs = append(errs, fmt.Errorf("listener %s: %w", cfg.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Undeploy destroys a listener and removes it.
func (m *ListenerManager) Undeploy(ctx context.Context, name string) error {
	l, err := m.registry.MustGet(name)
	if err != nil {
		return err
	}
	err = l.Destroy(ctx)
	if l.State() == protocol.StateStopped {
		_ = m.registry.Unregister(name)
		m.rt.Metrics.Forget(string(l.Protocol()), name)
	}
	if err != nil {
		return err
	}
	m.log.Info("listener undeployed", "listener", name)
	return nil
}

// Pause closes a listener's admission gate.
func (m *ListenerManager) Pause(name string) error {
	l, err := m.registry.MustGet(name)
	if err != nil {
		return err
	}
	return l.Pause()
}

// Resume reopens a listener's admission gate.
func (m *ListenerManager) Resume(ctx context.Context, name string) error {
	l, err := m.registry.MustGet(name)
	if err != nil {
		return err
	}
	return l.Resume(ctx)
}

// Activate binds a listener's transport and opens its gate.
func (m *ListenerManager) Activate(ctx context.Context, name string) error {
	l, err := m.registry.MustGet(name)
	if err != nil {
		return err
	}
	return l.Activate(ctx)
}

// Deactivate releases a listener's transport without draining.
func (m *ListenerManager) Deactivate(ctx context.Context, name string) error {
	l, err := m.registry.MustGet(name)
	if err != nil {
		return err
	}
	return l.Deactivate(ctx)
}

// Get returns a deployed listener.
func (m *ListenerManager) Get(name string) (protocol.Listener, bool) {
	return m.registry.Get(name)
}

// Status returns a snapshot of one listener.
func (m *ListenerManager) Status(name string) (protocol.Status, error) {
	l, err := m.registry.MustGet(name)
	if err != nil {
		return protocol.Status{}, err
	}
	return protocol.StatusOf(l), nil
}

// List returns snapshots of every listener, sorted by name.
func (m *ListenerManager) List() []protocol.Status {
	return m.registry.Statuses()
}

// Shutdown starts the global shutdown timer and destroys every listener in
// parallel. Once the timer has started each drain is bounded by the global
// budget alone; the listener's own drain wait no longer applies. Deploys in
// progress finish first and their listeners are destroyed with the rest.
// Later calls only destroy what is still deployed.
func (m *ListenerManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.stopping = true
	m.mu.Unlock()
	m.deploying.Wait()

	if m.timer.Start() {
		m.log.Info("graceful shutdown started", "timeout", m.timer.Timeout(), "listeners", m.registry.Count())
	}

	var (
		mu        sync.Mutex
		errs      []error
		attempted = make(map[protocol.Listener]bool)
	)
	for {
		batch := m.unattempted(attempted)
		if len(batch) == 0 {
			break
		}
		var g errgroup.Group
		for _, l := range batch {
			attempted[l] = true
			g.Go(func() error {
				if err := m.Undeploy(ctx, l.Name()); err != nil {
					mu.Lock()
					errs = append(errs, fmt.Errorf("listener %s: %w", l.Name(), err))
					mu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()
	}
	m.log.Info("graceful shutdown finished", "remaining", m.registry.Count(), "failures", len(errs))
	return errors.Join(errs...)
}

// unattempted returns the deployed listeners Shutdown has not yet destroyed.
func (m *ListenerManager) unattempted(attempted map[protocol.Listener]bool) []protocol.Listener {
	var out []protocol.Listener
	for _, l := range m.registry.List() {
		if !attempted[l] {
			out = append(out, l)
		}
	}
	return out
}
