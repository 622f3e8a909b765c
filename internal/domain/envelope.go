package domain

import (
	"time"

	"github.com/google/uuid"
)

// Envelope is the inbound message shape handed to the executor.
// Payload is the raw message body; Headers are the stringly typed
// transport properties.
type Envelope struct {
	MessageID     uuid.UUID
	Type          string
	Name          string
	CommandID     uuid.UUID
	CorrelationID uuid.UUID
	CausationID   uuid.UUID
	OccurredAt    time.Time
	Key           string
	Headers       map[string]string
	Payload       string
}
