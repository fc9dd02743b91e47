package config

import (
	"time"

	"github.com/getmockd/inbound/pkg/protocol"
	"github.com/getmockd/inbound/pkg/tls"
)

// Defaults.
const (
	DefaultShutdownTimeoutMillis = 30000
	DefaultPollIntervalMillis    = 100
	DefaultAdminPort             = 9165
	DefaultEngine                = EngineLocal
)

// Mediation engine kinds.
const (
	// EngineLocal runs the built-in in-process sequences.
	EngineLocal = "local"
	// EngineChannel publishes to an in-memory watermill channel and
	// forwards to the local sequences of the same name.
	EngineChannel = "channel"
)

// Config is the runtime configuration.
type Config struct {
	Logging   LoggingConfig    `json:"logging" yaml:"logging"`
	Shutdown  ShutdownConfig   `json:"shutdown" yaml:"shutdown"`
	Admin     AdminConfig      `json:"admin" yaml:"admin"`
	Mediation MediationConfig  `json:"mediation" yaml:"mediation"`
	Listeners []ListenerConfig `json:"listeners" yaml:"listeners"`
}

// LoggingConfig selects log level and format.
type LoggingConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// ShutdownConfig bounds the global graceful shutdown.
type ShutdownConfig struct {
	TimeoutMillis      int64 `json:"timeoutMillis,omitempty" yaml:"timeoutMillis,omitempty"`
	PollIntervalMillis int64 `json:"pollIntervalMillis,omitempty" yaml:"pollIntervalMillis,omitempty"`
}

// Timeout returns the global shutdown budget.
func (s ShutdownConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMillis) * time.Millisecond
}

// PollInterval returns the drain poll interval.
func (s ShutdownConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMillis) * time.Millisecond
}

// AdminConfig configures the control API. Zero means DefaultAdminPort; a
// negative port disables the API.
type AdminConfig struct {
	Port int `json:"port,omitempty" yaml:"port,omitempty"`
}

// Enabled reports whether the control API should be served.
func (a AdminConfig) Enabled() bool { return a.Port >= 0 }

// MediationConfig selects the mediation engine.
type MediationConfig struct {
	Engine string `json:"engine,omitempty" yaml:"engine,omitempty"`
}

// ListenerConfig describes one inbound endpoint.
type ListenerConfig struct {
	Name       string            `json:"name" yaml:"name"`
	Protocol   protocol.Protocol `json:"protocol" yaml:"protocol"`
	Sequence   string            `json:"sequence" yaml:"sequence"`
	OnError    string            `json:"onError,omitempty" yaml:"onError,omitempty"`
	Sequential bool              `json:"sequential,omitempty" yaml:"sequential,omitempty"`

	StartInPausedMode             bool  `json:"startInPausedMode,omitempty" yaml:"startInPausedMode,omitempty"`
	UndeploymentWaitTimeoutMillis int64 `json:"undeploymentWaitTimeoutMillis,omitempty" yaml:"undeploymentWaitTimeoutMillis,omitempty"`

	Parameters map[string]string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	TLS        *tls.Material     `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// UndeploymentWait returns the local drain wait.
func (l ListenerConfig) UndeploymentWait() time.Duration {
	if l.UndeploymentWaitTimeoutMillis <= 0 {
		return 0
	}
	return time.Duration(l.UndeploymentWaitTimeoutMillis) * time.Millisecond
}

// ApplyDefaults fills unset fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Shutdown.TimeoutMillis <= 0 {
		c.Shutdown.TimeoutMillis = DefaultShutdownTimeoutMillis
	}
	if c.Shutdown.PollIntervalMillis <= 0 {
		c.Shutdown.PollIntervalMillis = DefaultPollIntervalMillis
	}
	if c.Admin.Port == 0 {
		c.Admin.Port = DefaultAdminPort
	}
	if c.Mediation.Engine == "" {
		c.Mediation.Engine = DefaultEngine
	}
	for i := range c.Listeners {
		c.Listeners[i].Normalize()
	}
}

// Normalize canonicalizes the protocol name. Unknown names are left for
// Validate to report.
func (l *ListenerConfig) Normalize() {
	if p, err := protocol.ParseProtocol(string(l.Protocol)); err == nil {
		l.Protocol = p
	}
}

// Default returns a configuration with defaults applied and no listeners.
func Default() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}
