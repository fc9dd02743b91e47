package mediation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/getmockd/inbound/internal/id"
	"github.com/getmockd/inbound/pkg/logging"
)

// Built-in sequences registered by NewLocalEngine.
const (
	SequenceLog  = "log"
	SequenceEcho = "echo"
	SequenceDrop = "drop"
)

// SequenceFunc is the body of an in-process sequence. A false result means
// the message was refused.
type SequenceFunc func(ctx context.Context, mc *MessageContext) (bool, error)

// LocalSequence is a named in-process sequence.
type LocalSequence struct {
	name string
	fn   SequenceFunc
}

// Name returns the sequence name.
func (s *LocalSequence) Name() string { return s.name }

// LocalEngine runs sequences in the current process.
type LocalEngine struct {
	mu     sync.RWMutex
	seqs   map[string]*LocalSequence
	wg     sync.WaitGroup
	closed atomic.Bool
	log    *slog.Logger
}

// NewLocalEngine creates an engine with the log, echo and drop sequences.
func NewLocalEngine(log *slog.Logger) *LocalEngine {
	e := &LocalEngine{
		seqs: make(map[string]*LocalSequence),
		log:  logging.OrNop(log).With("component", "mediation"),
	}
	e.Register(SequenceLog, func(_ context.Context, mc *MessageContext) (bool, error) {
		e.log.Info("message received",
			"listener", mc.InboundEndpoint,
			"protocol", mc.Protocol,
			"correlationId", mc.CorrelationID,
			"contentType", mc.ContentType,
			"size", len(mc.Payload))
		return true, nil
	})
	e.Register(SequenceEcho, func(_ context.Context, mc *MessageContext) (bool, error) {
		mc.SetResponse(mc.Payload)
		return true, nil
	})
	e.Register(SequenceDrop, func(context.Context, *MessageContext) (bool, error) {
		return true, nil
	})
	return e
}

// Register adds or replaces a sequence.
func (e *LocalEngine) Register(name string, fn SequenceFunc) {
	e.mu.Lock()
	e.seqs[name] = &LocalSequence{name: name, fn: fn}
	e.mu.Unlock()
}

// Sequences returns the registered sequence names, sorted.
func (e *LocalEngine) Sequences() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.seqs))
	for n := range e.seqs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// CreateMessageContext returns a context with a fresh UUID correlation id.
func (e *LocalEngine) CreateMessageContext() *MessageContext {
	return NewMessageContext(id.UUID())
}

// LookupSequence resolves a registered sequence.
func (e *LocalEngine) LookupSequence(name string) (Sequence, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.seqs[name]
	if !ok {
		return nil, false
	}
	return s, true
}

// InjectInbound runs seq inline when sequential, otherwise on its own
// goroutine. The engine refuses messages once closed.
func (e *LocalEngine) InjectInbound(ctx context.Context, mc *MessageContext, seq Sequence, sequential bool) (bool, error) {
	if e.closed.Load() {
		return false, nil
	}
	ls, ok := seq.(*LocalSequence)
	if !ok {
		return false, fmt.Errorf("sequence %q does not belong to the local engine", seq.Name())
	}
	if sequential {
		return ls.fn(ctx, mc)
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				e.log.Error("panic in sequence", "sequence", ls.name, "correlationId", mc.CorrelationID, "panic", r)
			}
		}()
		if _, err := ls.fn(context.WithoutCancel(ctx), mc); err != nil {
			e.log.Warn("sequence failed", "sequence", ls.name, "correlationId", mc.CorrelationID, "error", err)
		}
	}()
	return true, nil
}

// Close stops accepting messages and waits for asynchronous sequences.
func (e *LocalEngine) Close(ctx context.Context) error {
	e.closed.Store(true)
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
