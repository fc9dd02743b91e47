package config

import (
	"errors"
	"fmt"

	"github.com/getmockd/inbound/pkg/protocol"
)

// ValidationError describes one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the whole config and returns every problem found.
func (c *Config) Validate() error {
	var errs []error
	switch c.Mediation.Engine {
	case "", EngineLocal, EngineChannel:
	default:
		errs = append(errs, &ValidationError{Field: "mediation.engine", Message: fmt.Sprintf("unknown engine %q", c.Mediation.Engine)})
	}
	if c.Shutdown.TimeoutMillis < 0 {
		errs = append(errs, &ValidationError{Field: "shutdown.timeoutMillis", Message: "must not be negative"})
	}

	seen := make(map[string]bool, len(c.Listeners))
	for i := range c.Listeners {
		l := &c.Listeners[i]
		field := fmt.Sprintf("listeners[%d]", i)
		if err := l.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
		if l.Name != "" {
			if seen[l.Name] {
				errs = append(errs, &ValidationError{Field: field + ".name", Message: fmt.Sprintf("duplicate listener name %q", l.Name)})
			}
			seen[l.Name] = true
		}
	}
	return errors.Join(errs...)
}

// Validate checks the protocol-independent fields of a listener.
func (l *ListenerConfig) Validate() error {
	if l.Name == "" {
		return &ValidationError{Field: "name", Message: "is required"}
	}
	if !l.Protocol.Valid() {
		return &ValidationError{Field: "protocol", Message: fmt.Sprintf("unknown protocol %q", l.Protocol)}
	}
	if l.Sequence == "" {
		return &ValidationError{Field: "sequence", Message: "is required"}
	}
	if l.UndeploymentWaitTimeoutMillis < 0 {
		return &ValidationError{Field: "undeploymentWaitTimeoutMillis", Message: "must not be negative"}
	}
	if l.Protocol == protocol.ProtocolSecureWebSocket || l.TLS != nil {
		if err := l.TLS.Validate(); err != nil {
			return &ValidationError{Field: "tls", Message: err.Error()}
		}
	}
	return nil
}
