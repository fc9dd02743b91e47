package protocol

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Registry holds the deployed listeners keyed by their unique name.
// It is thread-safe and can be used concurrently.
type Registry struct {
	listeners map[string]Listener
	mu        sync.RWMutex
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		listeners: make(map[string]Listener),
	}
}

// Register adds a listener to the registry.
// Returns an error if a listener with the same name already exists.
func (r *Registry) Register(l Listener) error {
	if l == nil {
		return ErrNilListener
	}

	name := l.Name()
	if name == "" {
		return ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.listeners[name]; exists {
		return fmt.Errorf("%w: %s", ErrListenerExists, name)
	}

	r.listeners[name] = l
	return nil
}

// Unregister removes a listener from the registry.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.listeners[name]; !exists {
		return fmt.Errorf("%w: %s", ErrListenerNotFound, name)
	}

	delete(r.listeners, name)
	return nil
}

// Get returns a listener by name.
func (r *Registry) Get(name string) (Listener, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, exists := r.listeners[name]
	return l, exists
}

// MustGet returns a listener by name or ErrListenerNotFound.
func (r *Registry) MustGet(name string) (Listener, error) {
	l, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrListenerNotFound, name)
	}
	return l, nil
}

// List returns all registered listeners sorted by name.
func (r *Registry) List() []Listener {
	r.mu.RLock()
	listeners := make([]Listener, 0, len(r.listeners))
	for _, l := range r.listeners {
		listeners = append(listeners, l)
	}
	r.mu.RUnlock()

	sort.Slice(listeners, func(i, j int) bool { return listeners[i].Name() < listeners[j].Name() })
	return listeners
}

// ListByProtocol returns all listeners of a specific protocol, sorted by name.
func (r *Registry) ListByProtocol(proto Protocol) []Listener {
	var out []Listener
	for _, l := range r.List() {
		if l.Protocol() == proto {
			out = append(out, l)
		}
	}
	return out
}

// Count returns the number of registered listeners.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}

// StartAll starts every registered listener that is still unstarted.
// A failing listener does not prevent the others from starting; all
// failures are joined into the returned error.
func (r *Registry) StartAll(ctx context.Context) error {
	var errs []error
	for _, l := range r.List() {
		if l.State() != StateUnstarted {
			continue
		}
		if err := l.Start(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to start listener %s: %w", l.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Statuses returns a status snapshot for every registered listener.
func (r *Registry) Statuses() []Status {
	listeners := r.List()
	out := make([]Status, 0, len(listeners))
	for _, l := range listeners {
		out = append(out, StatusOf(l))
	}
	return out
}
