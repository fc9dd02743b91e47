package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/getmockd/inbound/pkg/config"
	"github.com/getmockd/inbound/pkg/drain"
	"github.com/getmockd/inbound/pkg/engine/api"
	"github.com/getmockd/inbound/pkg/lifecycle"
	"github.com/getmockd/inbound/pkg/logging"
	"github.com/getmockd/inbound/pkg/mediation"
	"github.com/getmockd/inbound/pkg/metrics"
	"github.com/getmockd/inbound/pkg/shutdown"
)

// ErrListenersFailed wraps the errors of listeners that failed to deploy
// during Start. The engine keeps running without them.
var ErrListenersFailed = errors.New("some listeners failed to deploy")

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = logging.OrNop(log) }
}

// WithRegistry registers metrics with reg and serves it on /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(e *Engine) { e.registry = reg }
}

// WithLocalEngine supplies the local sequences, so callers can register
// their own before Start.
func WithLocalEngine(local *mediation.LocalEngine) Option {
	return func(e *Engine) { e.local = local }
}

// WithClock sets the clock used by drain waits.
func WithClock(c drain.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// Engine runs the listeners of one configuration.
type Engine struct {
	cfg      *config.Config
	log      *slog.Logger
	registry *prometheus.Registry
	clock    drain.Clock
	metrics  *metrics.Metrics

	local     *mediation.LocalEngine
	mediation mediation.Engine
	pubsub    *gochannel.GoChannel
	publisher *mediation.PublisherEngine
	forwarded []<-chan struct{}
	cancel    context.CancelFunc

	manager *ListenerManager
	admin   *api.Server

	stopOnce sync.Once
	stopErr  error
}

// New builds an engine from cfg. Nothing is bound until Start.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{cfg: cfg, log: logging.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	if e.local == nil {
		e.local = mediation.NewLocalEngine(e.log)
	}

	var registerer prometheus.Registerer
	var gatherer prometheus.Gatherer
	if e.registry != nil {
		registerer, gatherer = e.registry, e.registry
	}
	e.metrics = metrics.New(registerer)
	if err := e.metrics.Register(); err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	timer := shutdown.NewTimer(cfg.Shutdown.Timeout())
	e.manager = NewListenerManager(lifecycle.Runtime{
		Metrics:      e.metrics,
		Log:          e.log,
		PollInterval: cfg.Shutdown.PollInterval(),
		Clock:        e.clock,
	}, timer)

	if cfg.Admin.Enabled() {
		e.admin = api.NewServer(e.manager, gatherer, "", cfg.Admin.Port)
		e.admin.SetLogger(e.log.With("component", "control-api"))
	}
	return e, nil
}

// Manager returns the listener manager.
func (e *Engine) Manager() *ListenerManager { return e.manager }

// Local returns the local sequence engine.
func (e *Engine) Local() *mediation.LocalEngine { return e.local }

// AdminAddr returns the control API address, or nil when it is disabled or
// not started.
func (e *Engine) AdminAddr() net.Addr {
	if e.admin == nil {
		return nil
	}
	return e.admin.Addr()
}

// forwardedEngine publishes to a topic only when a local forwarder exists
// for it, so unknown sequences are reported as missing.
type forwardedEngine struct {
	*mediation.PublisherEngine
	local *mediation.LocalEngine
}

func (f forwardedEngine) LookupSequence(name string) (mediation.Sequence, bool) {
	if _, ok := f.local.LookupSequence(name); !ok {
		return nil, false
	}
	return f.PublisherEngine.LookupSequence(name)
}

func (e *Engine) startMediation(ctx context.Context) error {
	switch e.cfg.Mediation.Engine {
	case config.EngineChannel:
		e.pubsub = gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, watermill.NewSlogLogger(e.log.With("component", "watermill")))
		for _, name := range e.local.Sequences() {
			done, err := mediation.Forward(ctx, e.pubsub, e.pubsub, name, e.local)
			if err != nil {
				return fmt.Errorf("forwarding sequence %s: %w", name, err)
			}
			e.forwarded = append(e.forwarded, done)
		}
		e.publisher = mediation.NewPublisherEngine(e.pubsub, e.log)
		done, err := e.publisher.ServeReplies(ctx, e.pubsub, mediation.ReplyTopic)
		if err != nil {
			return fmt.Errorf("serving replies: %w", err)
		}
		e.forwarded = append(e.forwarded, done)
		e.mediation = forwardedEngine{PublisherEngine: e.publisher, local: e.local}
	default:
		e.mediation = e.local
	}
	e.manager.rt.Engine = e.mediation
	e.log.Info("mediation engine ready", "engine", e.cfg.Mediation.Engine, "sequences", e.local.Sequences())
	return nil
}

// Start starts the mediation engine, deploys every configured listener and
// starts the control API. Listener failures do not stop the others; they
// are returned wrapped in ErrListenersFailed once everything else is running.
func (e *Engine) Start(ctx context.Context) error {
	fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	if err := e.startMediation(fctx); err != nil {
		return err
	}
	if e.admin != nil {
		if err := e.admin.Start(); err != nil {
			return fmt.Errorf("starting control API: %w", err)
		}
	}
	if err := e.manager.DeployAll(ctx, e.cfg.Listeners); err != nil {
		return fmt.Errorf("%w: %w", ErrListenersFailed, err)
	}
	return nil
}

// Shutdown destroys every listener within the global budget, then stops the
// control API and the mediation engine. It is safe to call more than once.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.stopOnce.Do(func() {
		var errs []error
		if err := e.manager.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		if e.admin != nil {
			if err := e.admin.Stop(ctx); err != nil {
				errs = append(errs, fmt.Errorf("stopping control API: %w", err))
			}
		}
		if err := e.local.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing local engine: %w", err))
		}
		if e.publisher != nil {
			if err := e.publisher.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("closing pubsub: %w", err))
			}
			for _, done := range e.forwarded {
				<-done
			}
		}
		if e.cancel != nil {
			e.cancel()
		}
		e.stopErr = errors.Join(errs...)
	})
	return e.stopErr
}
