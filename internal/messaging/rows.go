package messaging

import (
	"github.com/acme/reliable/internal/domain"
	"github.com/google/uuid"
)

const (
	TypeCommandRequested = "CommandRequested"
	TypeCommandCompleted = "CommandCompleted"
	TypeCommandFailed    = "CommandFailed"

	HeaderCommandID     = "commandId"
	HeaderCommandName   = "commandName"
	HeaderBusinessKey   = "businessKey"
	HeaderCorrelationID = "correlationId"
	HeaderReplyTo       = "replyTo"
	HeaderType          = "type"
)

// RowFactory shapes outbox rows for the three dispatch categories.
// All constructors are pure.
type RowFactory struct {
	naming Naming
}

func NewRowFactory(n Naming) *RowFactory {
	return &RowFactory{naming: n}
}

// CommandRequested builds the outbound request row for a freshly
// accepted command. replyMeta rides along as headers so the executor
// side knows where to send the reply.
func (f *RowFactory) CommandRequested(name string, commandID uuid.UUID, businessKey, payload string, replyMeta map[string]string) domain.OutboxRow {
	return domain.OutboxRow{
		ID:       uuid.New(),
		Category: domain.CategoryCommand,
		Topic:    f.naming.CommandQueue(name),
		Key:      businessKey,
		Type:     TypeCommandRequested,
		Payload:  payload,
		Headers: mergeHeaders(replyMeta, map[string]string{
			HeaderCommandID:   commandID.String(),
			HeaderCommandName: name,
			HeaderBusinessKey: businessKey,
			HeaderType:        TypeCommandRequested,
		}),
	}
}

// Reply builds the point-to-point response row. The destination is the
// envelope's replyTo header, falling back to the configured reply queue.
func (f *RowFactory) Reply(env domain.Envelope, msgType, payload string) domain.OutboxRow {
	replyTo := env.Headers[HeaderReplyTo]
	if replyTo == "" {
		replyTo = f.naming.ReplyQueue
	}
	return domain.OutboxRow{
		ID:       uuid.New(),
		Category: domain.CategoryReply,
		Topic:    replyTo,
		Key:      env.Key,
		Type:     msgType,
		Payload:  payload,
		Headers: mergeHeaders(env.Headers, map[string]string{
			HeaderCorrelationID: env.CorrelationID.String(),
			HeaderType:          msgType,
		}),
	}
}

// Event builds a broadcast row. Events carry no headers; the key is the
// partition key and must be preserved verbatim by the transport.
func (f *RowFactory) Event(topic, key, msgType, payload string) domain.OutboxRow {
	return domain.OutboxRow{
		ID:       uuid.New(),
		Category: domain.CategoryEvent,
		Topic:    topic,
		Key:      key,
		Type:     msgType,
		Payload:  payload,
		Headers:  map[string]string{},
	}
}

func mergeHeaders(a, b map[string]string) map[string]string {
	m := make(map[string]string, len(a)+len(b))
	for k, v := range a {
		m[k] = v
	}
	for k, v := range b {
		m[k] = v
	}
	return m
}
