package metrics

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "inbound"
	subsystem = "listener"
)

var listenerLabels = []string{"protocol", "listener"}

// DrainBuckets are the histogram buckets for drain durations, in seconds.
var DrainBuckets = []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60}

// Metrics holds the listener collectors.
type Metrics struct {
	mu         sync.Mutex
	registerer prometheus.Registerer
	registered bool

	inFlight        *prometheus.GaugeVec
	admitted        *prometheus.CounterVec
	rejected        *prometheus.CounterVec
	handoffFailures *prometheus.CounterVec
	drainDuration   *prometheus.HistogramVec
	abandoned       *prometheus.CounterVec
	state           *prometheus.GaugeVec
}

func newCounterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, append(append([]string{}, listenerLabels...), labels...))
}

func newGaugeVec(name, help string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, listenerLabels)
}

// New creates the collectors. A nil registerer uses prometheus.DefaultRegisterer.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Metrics{
		registerer:      registerer,
		inFlight:        newGaugeVec("in_flight", "Admitted units of work not yet completed"),
		admitted:        newCounterVec("admitted_total", "Units of work admitted by the listener"),
		rejected:        newCounterVec("rejected_total", "Units of work rejected because the listener was paused or draining"),
		handoffFailures: newCounterVec("handoff_failures_total", "Messages that failed to hand off to the mediation engine", "reason"),
		drainDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "drain_duration_seconds",
			Help:      "Time spent waiting for in-flight work during destroy",
			Buckets:   DrainBuckets,
		}, append(append([]string{}, listenerLabels...), "outcome")),
		abandoned: newCounterVec("abandoned_total", "Units of work still in flight when the transport was force-unbound"),
		state:     newGaugeVec("state", "Lifecycle state (0 unstarted, 1 running, 2 paused, 3 draining, 4 stopped)"),
	}
}

// Register registers the collectors. Safe to call more than once. When a
// collector with the same name is already registered, that collector is
// adopted so every Metrics sharing a registerer exports the same series.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registered {
		return nil
	}
	for _, err := range []error{
		register(m.registerer, &m.inFlight),
		register(m.registerer, &m.admitted),
		register(m.registerer, &m.rejected),
		register(m.registerer, &m.handoffFailures),
		register(m.registerer, &m.drainDuration),
		register(m.registerer, &m.abandoned),
		register(m.registerer, &m.state),
	} {
		if err != nil {
			return err
		}
	}
	m.registered = true
	return nil
}

func register[C prometheus.Collector](r prometheus.Registerer, c *C) error {
	err := r.Register(*c)
	var are prometheus.AlreadyRegisteredError
	if !errors.As(err, &are) {
		return err
	}
	existing, ok := are.ExistingCollector.(C)
	if !ok {
		return err
	}
	*c = existing
	return nil
}

// Admitted records one admitted unit.
func (m *Metrics) Admitted(protocol, listener string) {
	if m == nil {
		return
	}
	m.admitted.WithLabelValues(protocol, listener).Inc()
	m.inFlight.WithLabelValues(protocol, listener).Inc()
}

// Completed records one admitted unit finishing.
func (m *Metrics) Completed(protocol, listener string) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(protocol, listener).Dec()
}

// Rejected records one refused unit.
func (m *Metrics) Rejected(protocol, listener string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(protocol, listener).Inc()
}

// HandoffFailed records a failed mediation handoff.
func (m *Metrics) HandoffFailed(protocol, listener, reason string) {
	if m == nil {
		return
	}
	m.handoffFailures.WithLabelValues(protocol, listener, reason).Inc()
}

// Drained records a completed drain wait and any residual work left behind.
func (m *Metrics) Drained(protocol, listener, outcome string, d time.Duration, remaining int64) {
	if m == nil {
		return
	}
	m.drainDuration.WithLabelValues(protocol, listener, outcome).Observe(d.Seconds())
	if remaining > 0 {
		m.abandoned.WithLabelValues(protocol, listener).Add(float64(remaining))
	}
}

// SetState records the numeric lifecycle state.
func (m *Metrics) SetState(protocol, listener string, state int) {
	if m == nil {
		return
	}
	m.state.WithLabelValues(protocol, listener).Set(float64(state))
}

// Forget removes every series of a listener after it is undeployed.
func (m *Metrics) Forget(protocol, listener string) {
	if m == nil {
		return
	}
	match := prometheus.Labels{"protocol": protocol, "listener": listener}
	m.inFlight.DeletePartialMatch(match)
	m.admitted.DeletePartialMatch(match)
	m.rejected.DeletePartialMatch(match)
	m.handoffFailures.DeletePartialMatch(match)
	m.drainDuration.DeletePartialMatch(match)
	m.abandoned.DeletePartialMatch(match)
	m.state.DeletePartialMatch(match)
}

// Handler serves the exposition format for gatherer. A nil gatherer uses
// prometheus.DefaultGatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
