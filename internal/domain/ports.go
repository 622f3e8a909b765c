package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CommandStore persists command rows. Implementations bound to a
// transaction join it; pool-bound implementations run each statement
// in its own implicit transaction.
type CommandStore interface {
	// SavePending inserts a new PENDING command. Returns
	// ErrDuplicateIdempotencyKey or ErrDuplicateBusinessKey when the
	// respective unique constraint fires.
	SavePending(ctx context.Context, name, idempotencyKey, businessKey, payload, replyJSON string) (uuid.UUID, error)

	// Find returns ErrCommandNotFound when no row exists.
	Find(ctx context.Context, id uuid.UUID) (*Command, error)

	MarkRunning(ctx context.Context, id uuid.UUID, leaseUntil time.Time) error
	MarkSucceeded(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
	MarkTimedOut(ctx context.Context, id uuid.UUID, reason string) error
	BumpRetry(ctx context.Context, id uuid.UUID, errMsg string) error

	ExistsByIdempotencyKey(ctx context.Context, key string) (bool, error)

	// TimeOutExpiredLeases marks RUNNING commands whose processing
	// lease expired before now as TIMED_OUT and returns their ids.
	TimeOutExpiredLeases(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}

// InboxStore is the idempotency fence for the consume path.
type InboxStore interface {
	// MarkIfAbsent inserts (messageID, handler) once. true means this
	// is the first time the handler sees the message. Must be atomic
	// with any side effects written in the same transaction.
	MarkIfAbsent(ctx context.Context, messageID, handler string) (bool, error)
}

// OutboxStore persists and advances outbox rows.
type OutboxStore interface {
	// Add inserts the row with status NEW and returns its id.
	Add(ctx context.Context, row OutboxRow) (uuid.UUID, error)

	// ClaimOne flips a NEW row to CLAIMED and returns it; (nil, nil)
	// when the row is absent or no longer NEW.
	ClaimOne(ctx context.Context, id uuid.UUID) (*OutboxRow, error)

	// Claim atomically claims up to max eligible NEW rows in created_at
	// order, skipping rows locked by other workers. Never hands the
	// same row to two claimers.
	Claim(ctx context.Context, max int, claimer string) ([]OutboxRow, error)

	// MarkPublished transitions the row to PUBLISHED.
	MarkPublished(ctx context.Context, id uuid.UUID) error

	// Reschedule returns a CLAIMED row to NEW, bumps attempts, and
	// pushes next_at by backoff.
	Reschedule(ctx context.Context, id uuid.UUID, backoff time.Duration, errMsg string) error
}

// DlqEntry is a parked, permanently failed command.
type DlqEntry struct {
	CommandID    uuid.UUID
	CommandName  string
	BusinessKey  string
	Payload      string
	FailedStatus string
	ErrorClass   string
	ErrorMessage string
	Attempts     int
	ParkedBy     string
}

// DlqStore parks permanently failed commands. Insert only.
type DlqStore interface {
	Park(ctx context.Context, e DlqEntry) error
}

// CommandQueue is the point-to-point broker seam. Headers recognized
// specially by adapters: correlationId, replyTo. Everything else rides
// as stringly typed application properties.
type CommandQueue interface {
	Send(ctx context.Context, queue, body string, headers map[string]string) error
}

// EventPublisher is the broadcast seam. key must survive unchanged.
type EventPublisher interface {
	Publish(ctx context.Context, topic, key, value string, headers map[string]string) error
}

// Tx is the explicit unit-of-work handle passed through the call
// chain. Stores obtained from it join the same database transaction.
// AfterCommit hooks run once, out-of-band, only if the transaction
// commits.
type Tx interface {
	Commands() CommandStore
	Inbox() InboxStore
	Outbox() OutboxStore
	Dlq() DlqStore
	AfterCommit(fn func())
}

// UnitOfWork opens a transaction, runs fn, and commits when fn returns
// nil. A non-nil error rolls everything back, including the inbox
// fence and any outbox inserts.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}
