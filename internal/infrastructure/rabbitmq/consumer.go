package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/acme/reliable/internal/domain"
	"github.com/acme/reliable/internal/messaging"
	"github.com/acme/reliable/internal/pkg/logger"
	"github.com/acme/reliable/internal/service"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Consumer subscribes one durable queue per registered command name
// plus the reply queue. Command deliveries run through the executor:
// nil means settled (ack), a retryable error means the transaction
// rolled back (nack + requeue), and a delivery that can never succeed
// is acked and dropped. Reply deliveries resolve waiting HTTP callers.
type Consumer struct {
	url       string
	naming    messaging.Naming
	executor  *service.Executor
	responses *service.ResponseRegistry
	names     []string
	log       zerolog.Logger
}

func NewConsumer(url string, naming messaging.Naming, executor *service.Executor, responses *service.ResponseRegistry, commandNames []string) *Consumer {
	return &Consumer{
		url:       strings.TrimSpace(url),
		naming:    naming,
		executor:  executor,
		responses: responses,
		names:     commandNames,
		log:       logger.Logger.With().Str("component", "rabbitmq_consumer").Logger(),
	}
}

func (c *Consumer) Start(ctx context.Context) error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := ch.Qos(10, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	queues := make([]string, 0, len(c.names)+1)
	for _, name := range c.names {
		queues = append(queues, c.naming.CommandQueue(name))
	}
	queues = append(queues, c.naming.ReplyQueue)

	for _, queue := range queues {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return err
		}
	}

	for _, queue := range queues {
		deliveries, err := ch.Consume(queue, "reliable:"+queue, false, false, false, false, nil)
		if err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return err
		}
		if queue == c.naming.ReplyQueue {
			go c.replyLoop(ctx, deliveries)
		} else {
			go c.commandLoop(ctx, queue, deliveries)
		}
		c.log.Info().Str("queue", queue).Msg("consumer started")
	}

	go func() {
		<-ctx.Done()
		_ = ch.Close()
		_ = conn.Close()
	}()
	return nil
}

func (c *Consumer) commandLoop(ctx context.Context, queue string, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			env := envelopeFromDelivery(c.naming, queue, d)
			if err := c.executor.Process(ctx, env); err != nil {
				if !requeue(err) {
					c.log.Warn().
						Str("queue", queue).
						Str("command_id", env.CommandID.String()).
						Err(err).
						Msg("unprocessable delivery; dropping")
					_ = d.Ack(false)
					continue
				}
				_ = d.Nack(false, true) // retryable => requeue
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// requeue reports whether a processing failure is worth redelivering.
// An unknown command id can never heal: the executor rolls the inbox
// fence back and the id will still reference no row on the next
// delivery, so requeueing would loop the message forever.
func requeue(err error) bool {
	return !errors.Is(err, domain.ErrCommandNotFound)
}

// replyLoop completes the response registry from CommandCompleted /
// CommandFailed replies. Replies without a known command id are acked
// and dropped; the authoritative state lives in the command row anyway.
func (c *Consumer) replyLoop(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			c.handleReply(d)
			_ = d.Ack(false)
		}
	}
}

func (c *Consumer) handleReply(d amqp.Delivery) {
	headers := stringHeaders(d)

	idStr := headers[messaging.HeaderCommandID]
	if idStr == "" {
		idStr = d.CorrelationId
	}
	commandID, err := uuid.Parse(strings.TrimSpace(idStr))
	if err != nil {
		c.log.Warn().Str("command_id", idStr).Msg("reply without usable command id; dropping")
		return
	}

	if headers[messaging.HeaderType] == messaging.TypeCommandFailed {
		var body struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(d.Body, &body); err != nil || body.Error == "" {
			body.Error = "command failed"
		}
		c.responses.Fail(commandID, body.Error)
		return
	}
	c.responses.Complete(commandID, string(d.Body))
}

// envelopeFromDelivery maps an AMQP delivery onto the transport-neutral
// envelope. Missing identifiers degrade one step at a time: commandId
// header, then AMQP MessageId, then a fresh id (which defeats dedupe
// for that one message but never drops it).
func envelopeFromDelivery(naming messaging.Naming, queue string, d amqp.Delivery) domain.Envelope {
	headers := stringHeaders(d)

	commandID, err := uuid.Parse(strings.TrimSpace(headers[messaging.HeaderCommandID]))
	if err != nil {
		commandID, err = uuid.Parse(strings.TrimSpace(d.MessageId))
		if err != nil {
			commandID = uuid.New()
		}
	}

	messageID := commandID
	if id, err := uuid.Parse(strings.TrimSpace(d.MessageId)); err == nil {
		messageID = id
	}

	correlationID := commandID
	if id, err := uuid.Parse(strings.TrimSpace(headers[messaging.HeaderCorrelationID])); err == nil {
		correlationID = id
	}

	name := strings.TrimSpace(headers[messaging.HeaderCommandName])
	if name == "" {
		name = naming.CommandNameFromQueue(queue)
	}
	if name == "" {
		name = "UnknownCommand"
	}

	key := strings.TrimSpace(headers[messaging.HeaderBusinessKey])
	if key == "" {
		key = commandID.String()
	}

	msgType := headers[messaging.HeaderType]
	if msgType == "" {
		msgType = messaging.TypeCommandRequested
	}

	return domain.Envelope{
		MessageID:     messageID,
		Type:          msgType,
		Name:          name,
		CommandID:     commandID,
		CorrelationID: correlationID,
		CausationID:   messageID,
		OccurredAt:    d.Timestamp,
		Key:           key,
		Headers:       headers,
		Payload:       string(d.Body),
	}
}

// stringHeaders flattens the AMQP table plus the mapped properties back
// into the flat header map the rest of the engine speaks.
func stringHeaders(d amqp.Delivery) map[string]string {
	out := make(map[string]string, len(d.Headers)+2)
	for k, v := range d.Headers {
		switch t := v.(type) {
		case string:
			out[k] = t
		case nil:
			// skip
		default:
			out[k] = fmt.Sprint(t)
		}
	}
	if d.CorrelationId != "" {
		out[messaging.HeaderCorrelationID] = d.CorrelationId
	}
	if d.ReplyTo != "" {
		out[messaging.HeaderReplyTo] = d.ReplyTo
	}
	return out
}
