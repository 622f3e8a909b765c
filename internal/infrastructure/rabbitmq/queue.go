// Package rabbitmq carries the point-to-point leg: the command request
// queues and the reply queue, one durable queue per destination on the
// default exchange.
package rabbitmq

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/acme/reliable/internal/messaging"
	"github.com/acme/reliable/internal/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Queue implements domain.CommandQueue. The connection is dialed
// lazily and dropped on any publish error; the outbox relay's
// reschedule loop absorbs the resulting send failures, so reconnection
// here stays dumb.
type Queue struct {
	url string

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	declared map[string]struct{}

	log zerolog.Logger
}

func NewQueue(url string) *Queue {
	return &Queue{
		url:      strings.TrimSpace(url),
		declared: map[string]struct{}{},
		log:      logger.Logger.With().Str("component", "rabbitmq_queue").Logger(),
	}
}

func (q *Queue) Send(ctx context.Context, queue, body string, headers map[string]string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch, err := q.channel()
	if err != nil {
		return err
	}

	if _, ok := q.declared[queue]; !ok {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			q.reset()
			return err
		}
		q.declared[queue] = struct{}{}
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		Body:         []byte(body),
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
	}

	// correlationId, replyTo and commandId map onto AMQP properties;
	// everything else rides as application headers.
	table := amqp.Table{}
	for k, v := range headers {
		switch k {
		case messaging.HeaderCorrelationID:
			pub.CorrelationId = v
		case messaging.HeaderReplyTo:
			pub.ReplyTo = v
		case messaging.HeaderCommandID:
			pub.MessageId = v
			table[k] = v
		default:
			table[k] = v
		}
	}
	pub.Headers = table

	if err := ch.PublishWithContext(ctx, "", queue, false, false, pub); err != nil {
		q.reset()
		return err
	}
	return nil
}

// Declare pre-creates a destination so consumers can bind before the
// first send.
func (q *Queue) Declare(queues ...string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch, err := q.channel()
	if err != nil {
		return err
	}
	for _, name := range queues {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			q.reset()
			return err
		}
		q.declared[name] = struct{}{}
	}
	return nil
}

func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reset()
}

// channel returns the live channel, dialing if needed. Caller holds q.mu.
func (q *Queue) channel() (*amqp.Channel, error) {
	if q.ch != nil && !q.ch.IsClosed() {
		return q.ch, nil
	}
	q.reset()

	conn, err := amqp.Dial(q.url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	q.conn = conn
	q.ch = ch
	q.log.Info().Msg("connected")
	return ch, nil
}

func (q *Queue) reset() {
	if q.ch != nil {
		_ = q.ch.Close()
		q.ch = nil
	}
	if q.conn != nil {
		_ = q.conn.Close()
		q.conn = nil
	}
	q.declared = map[string]struct{}{}
}
