package mediation

import "context"

// Sequence is a named unit of mediation logic.
type Sequence interface {
	Name() string
}

// Engine is the mediation runtime messages are injected into.
type Engine interface {
	// CreateMessageContext returns a fresh context with a correlation id.
	CreateMessageContext() *MessageContext

	// LookupSequence resolves a sequence by name.
	LookupSequence(name string) (Sequence, bool)

	// InjectInbound runs seq for mc. When sequential is true the call
	// returns after the sequence completed; otherwise it may return as soon
	// as the message is accepted. A false result means the engine refused
	// the message.
	InjectInbound(ctx context.Context, mc *MessageContext, seq Sequence, sequential bool) (bool, error)
}
