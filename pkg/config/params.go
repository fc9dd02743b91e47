package config

import (
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/getmockd/inbound/pkg/logging"
	"github.com/getmockd/inbound/pkg/protocol"
)

// ErrMissingParameter is wrapped by the ConfigurationError returned for a
// missing mandatory parameter.
var ErrMissingParameter = errors.New("parameter is required")

// Params reads listener parameters. Malformed optional values are replaced
// by the supplied default and logged as a warning.
type Params struct {
	listener string
	values   map[string]string
	log      *slog.Logger
}

// Params returns a reader over the listener's parameters.
func (l ListenerConfig) Params(log *slog.Logger) Params {
	return Params{listener: l.Name, values: l.Parameters, log: logging.OrNop(log)}
}

func (p Params) lookup(key string) (string, bool) {
	v, ok := p.values[key]
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (p Params) fallback(key, value string, def any, reason string) {
	p.log.Warn("invalid listener parameter, using default",
		"listener", p.listener, "parameter", key, "value", value, "default", def, "reason", reason)
}

// String returns the value for key, or def when absent.
func (p Params) String(key, def string) string {
	if v, ok := p.lookup(key); ok {
		return v
	}
	return def
}

// Required returns the value for key or a *protocol.ConfigurationError.
func (p Params) Required(key string) (string, error) {
	if v, ok := p.lookup(key); ok {
		return v, nil
	}
	return "", &protocol.ConfigurationError{Listener: p.listener, Key: key, Err: ErrMissingParameter}
}

// Int returns the value for key within [minVal, maxVal], or def when absent
// or malformed.
func (p Params) Int(key string, def, minVal, maxVal int) int {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fallback(key, v, def, "not a number")
		return def
	}
	if n < minVal || n > maxVal {
		p.fallback(key, v, def, "out of range")
		return def
	}
	return n
}

// Bool returns the value for key, or def when absent or malformed.
func (p Params) Bool(key string, def bool) bool {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fallback(key, v, def, "not a boolean")
		return def
	}
	return b
}

// Millis returns a non-negative millisecond parameter as a duration.
func (p Params) Millis(key string, def time.Duration) time.Duration {
	ms := p.Int(key, int(def/time.Millisecond), 0, int(^uint32(0)>>1))
	return time.Duration(ms) * time.Millisecond
}

// Port returns the "port" parameter. Zero is accepted and lets the kernel
// pick a free port.
func (p Params) Port(def int) int {
	return p.Int("port", def, 0, 65535)
}
