package memory

import (
	"context"
	"sync"
)

// Sent is one recorded transport dispatch.
type Sent struct {
	Topic   string
	Key     string
	Body    string
	Headers map[string]string
}

// Queue records point-to-point sends. Set Err to make every send fail,
// or FailFirst to fail the first n sends and then recover (broker
// outage simulation).
type Queue struct {
	mu        sync.Mutex
	Err       error
	FailFirst int
	sent      []Sent
	attempts  int
}

func (q *Queue) Send(ctx context.Context, queue, body string, headers map[string]string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.attempts++
	if q.Err != nil {
		return q.Err
	}
	if q.FailFirst > 0 {
		q.FailFirst--
		return errBrokerDown
	}
	h := make(map[string]string, len(headers))
	for k, v := range headers {
		h[k] = v
	}
	q.sent = append(q.sent, Sent{Topic: queue, Body: body, Headers: h})
	return nil
}

func (q *Queue) Sent() []Sent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Sent, len(q.sent))
	copy(out, q.sent)
	return out
}

func (q *Queue) Attempts() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.attempts
}

// EventBus records broadcast publishes.
type EventBus struct {
	mu        sync.Mutex
	Err       error
	published []Sent
}

func (b *EventBus) Publish(ctx context.Context, topic, key, value string, headers map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return b.Err
	}
	h := make(map[string]string, len(headers))
	for k, v := range headers {
		h[k] = v
	}
	b.published = append(b.published, Sent{Topic: topic, Key: key, Body: value, Headers: h})
	return nil
}

func (b *EventBus) Published() []Sent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Sent, len(b.published))
	copy(out, b.published)
	return out
}

type brokerDownError struct{}

func (brokerDownError) Error() string { return "broker unavailable" }

var errBrokerDown = brokerDownError{}
