package domain

import "github.com/google/uuid"

// OutboxCategory selects the transport an outbox row is dispatched to.
type OutboxCategory string

const (
	CategoryCommand OutboxCategory = "command"
	CategoryReply   OutboxCategory = "reply"
	CategoryEvent   OutboxCategory = "event"
)

// OutboxStatus is the dispatch state of an outbox row.
// PUBLISHED is terminal; a row is published at most once.
type OutboxStatus string

const (
	OutboxNew       OutboxStatus = "NEW"
	OutboxClaimed   OutboxStatus = "CLAIMED"
	OutboxPublished OutboxStatus = "PUBLISHED"
)

// OutboxRow is a pending outbound dispatch, committed atomically with
// its originating state change. Key is the routing/partition key and
// must survive unchanged for events.
type OutboxRow struct {
	ID       uuid.UUID
	Category OutboxCategory
	Topic    string
	Key      string
	Type     string
	Payload  string
	Headers  map[string]string
	Attempts int
}
