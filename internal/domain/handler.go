package domain

import (
	"context"
	"sort"
	"sync"
)

// HandlerFunc executes a command. The returned string is an opaque
// result JSON. Failures are signaled with Permanent,
// RetryableBusiness, or Transient errors.
type HandlerFunc func(ctx context.Context, name, payload string) (string, error)

// HandlerRegistry maps command names to handler functions. Populated
// at startup, read-only afterwards; the lock only guards races during
// wiring.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: map[string]HandlerFunc{}}
}

func (r *HandlerRegistry) Register(name string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = fn
}

// Invoke dispatches to the handler for name. An unregistered name is a
// permanent failure: redelivering it can never succeed.
func (r *HandlerRegistry) Invoke(ctx context.Context, name, payload string) (string, error) {
	r.mu.RLock()
	fn, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return "", Permanent("no handler registered for command " + name)
	}
	return fn(ctx, name, payload)
}

// Names returns the registered command names, sorted.
func (r *HandlerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
