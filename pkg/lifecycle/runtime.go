package lifecycle

import (
	"log/slog"
	"time"

	"github.com/getmockd/inbound/pkg/config"
	"github.com/getmockd/inbound/pkg/drain"
	"github.com/getmockd/inbound/pkg/mediation"
	"github.com/getmockd/inbound/pkg/metrics"
)

// Runtime carries the process-wide collaborators every listener needs.
type Runtime struct {
	Engine       mediation.Engine
	Timer        drain.ShutdownTimer
	Metrics      *metrics.Metrics
	Log          *slog.Logger
	PollInterval time.Duration
	Clock        drain.Clock
}

// Options returns the lifecycle options for a listener.
func (r Runtime) Options(cfg config.ListenerConfig) Options {
	return Options{
		Name:         cfg.Name,
		Protocol:     cfg.Protocol,
		StartPaused:  cfg.StartInPausedMode,
		LocalWait:    cfg.UndeploymentWait(),
		Timer:        r.Timer,
		PollInterval: r.PollInterval,
		Clock:        r.Clock,
		Metrics:      r.Metrics,
		Log:          r.Log,
	}
}

// Handler returns the mediation handler for a listener.
func (r Runtime) Handler(cfg config.ListenerConfig) *mediation.Handler {
	return mediation.NewHandler(r.Engine, mediation.HandlerConfig{
		Listener:   cfg.Name,
		Protocol:   cfg.Protocol,
		Sequence:   cfg.Sequence,
		OnError:    cfg.OnError,
		Sequential: cfg.Sequential,
		Metrics:    r.Metrics,
		Log:        r.Log,
	})
}
