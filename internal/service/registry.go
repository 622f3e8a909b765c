package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/acme/reliable/internal/domain"
	"github.com/google/uuid"
)

// ResponseRegistry turns asynchronous replies into a bounded
// synchronous wait. It is a best-effort optimization: a lost slot or a
// process restart degrades to the asynchronous acceptance path and is
// never a correctness concern.
type ResponseRegistry struct {
	mu      sync.Mutex
	ttl     time.Duration
	pending map[uuid.UUID]*Slot
}

// NewResponseRegistry builds a registry whose slots self-remove after
// ttl whether or not they complete.
func NewResponseRegistry(ttl time.Duration) *ResponseRegistry {
	return &ResponseRegistry{
		ttl:     ttl,
		pending: map[uuid.UUID]*Slot{},
	}
}

// Slot is a one-shot completion handle for a single command id.
type Slot struct {
	once sync.Once
	done chan outcome
}

type outcome struct {
	payload string
	err     error
}

func (s *Slot) complete(o outcome) {
	s.once.Do(func() {
		s.done <- o
		close(s.done)
	})
}

// Await blocks until the slot completes, the wait elapses, or ctx is
// canceled. Timeout maps to domain.ErrReplyTimeout; the command still
// completes in the background.
func (s *Slot) Await(ctx context.Context, wait time.Duration) (string, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case o := <-s.done:
		return o.payload, o.err
	case <-timer.C:
		return "", domain.ErrReplyTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Register creates the slot for commandID and schedules its removal
// after the TTL. Registering the same id twice replaces the old slot.
func (r *ResponseRegistry) Register(commandID uuid.UUID) *Slot {
	slot := &Slot{done: make(chan outcome, 1)}

	r.mu.Lock()
	r.pending[commandID] = slot
	r.mu.Unlock()

	time.AfterFunc(r.ttl, func() {
		r.mu.Lock()
		// Conditional removal: don't evict a newer slot for the same id.
		if cur, ok := r.pending[commandID]; ok && cur == slot {
			delete(r.pending, commandID)
		}
		r.mu.Unlock()
	})
	return slot
}

// Complete resolves the slot for commandID with the reply payload.
// Unknown or already-completed ids are silently discarded.
func (r *ResponseRegistry) Complete(commandID uuid.UUID, payload string) {
	if slot := r.take(commandID); slot != nil {
		slot.complete(outcome{payload: payload})
	}
}

// Fail resolves the slot with an error.
func (r *ResponseRegistry) Fail(commandID uuid.UUID, errMsg string) {
	if slot := r.take(commandID); slot != nil {
		slot.complete(outcome{err: errors.New(errMsg)})
	}
}

func (r *ResponseRegistry) take(commandID uuid.UUID) *Slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, ok := r.pending[commandID]
	if !ok {
		return nil
	}
	delete(r.pending, commandID)
	return slot
}

// PendingCount reports the number of live slots. Bounded by in-flight
// HTTP requests times the TTL window.
func (r *ResponseRegistry) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
