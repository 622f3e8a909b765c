// Package relay drains the outbox: it claims pending rows and writes
// them to the point-to-point broker or the event bus, rescheduling
// failures with bounded exponential backoff.
package relay

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/acme/reliable/internal/domain"
	"github.com/acme/reliable/internal/pkg/logger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Relay dispatches claimed outbox rows to their transport.
type Relay struct {
	outbox     domain.OutboxStore
	queue      domain.CommandQueue
	events     domain.EventPublisher
	maxBackoff time.Duration
	host       string
	log        zerolog.Logger
}

func New(outbox domain.OutboxStore, queue domain.CommandQueue, events domain.EventPublisher, maxBackoff time.Duration) *Relay {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown-host"
	}
	return &Relay{
		outbox:     outbox,
		queue:      queue,
		events:     events,
		maxBackoff: maxBackoff,
		host:       host,
		log:        logger.Logger.With().Str("component", "outbox_relay").Logger(),
	}
}

// PublishNow is the best-effort single-row fast path. Losing the claim
// race (row already claimed or published) is not an error; the sweep
// is the backstop either way.
func (r *Relay) PublishNow(ctx context.Context, id uuid.UUID) error {
	row, err := r.outbox.ClaimOne(ctx, id)
	if err != nil {
		return fmt.Errorf("claim outbox row %s: %w", id, err)
	}
	if row == nil {
		return nil
	}
	r.sendAndMark(ctx, *row)
	return nil
}

// Sweep claims one eligible batch and dispatches it. Returns the number
// of rows claimed.
func (r *Relay) Sweep(ctx context.Context, batchSize int) (int, error) {
	rows, err := r.outbox.Claim(ctx, batchSize, r.host)
	if err != nil {
		return 0, fmt.Errorf("claim outbox batch: %w", err)
	}
	for _, row := range rows {
		r.sendAndMark(ctx, row)
	}
	return len(rows), nil
}

// sendAndMark dispatches one claimed row. Publish errors never escape:
// the row is rescheduled with backoff and the sweep retries it. An
// unknown category is a programmer error and panics.
func (r *Relay) sendAndMark(ctx context.Context, row domain.OutboxRow) {
	var err error
	switch row.Category {
	case domain.CategoryCommand, domain.CategoryReply:
		err = r.queue.Send(ctx, row.Topic, row.Payload, row.Headers)
	case domain.CategoryEvent:
		err = r.events.Publish(ctx, row.Topic, row.Key, row.Payload, row.Headers)
	default:
		panic(fmt.Sprintf("outbox relay: unknown category %q for row %s", row.Category, row.ID))
	}

	if err != nil {
		backoff := Backoff(row.Attempts, r.maxBackoff)
		if rerr := r.outbox.Reschedule(ctx, row.ID, backoff, err.Error()); rerr != nil {
			r.log.Error().Err(rerr).Str("outbox_id", row.ID.String()).Msg("reschedule failed")
		}
		r.log.Warn().Err(err).
			Str("outbox_id", row.ID.String()).
			Str("category", string(row.Category)).
			Str("topic", row.Topic).
			Int("attempts", row.Attempts).
			Dur("retry_in", backoff).
			Msg("publish failed; rescheduled")
		return
	}

	if merr := r.outbox.MarkPublished(ctx, row.ID); merr != nil {
		// The send went out; the sweep may claim and resend this row.
		// At-least-once is the contract, so log and move on.
		r.log.Error().Err(merr).Str("outbox_id", row.ID.String()).Msg("mark published failed")
		return
	}
	r.log.Debug().
		Str("outbox_id", row.ID.String()).
		Str("category", string(row.Category)).
		Str("topic", row.Topic).
		Msg("published")
}

// Backoff computes the reschedule delay for a row that has already
// failed `attempts` times: min(max, 2^max(1, attempts+1) seconds).
// Attempt 0 gives 2s, attempt 5 gives 64s.
func Backoff(attempts int, max time.Duration) time.Duration {
	exp := attempts + 1
	if exp < 1 {
		exp = 1
	}
	d := time.Duration(math.Pow(2, float64(exp))) * time.Second
	if d <= 0 || d > max {
		return max
	}
	return d
}
