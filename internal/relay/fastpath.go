package relay

import (
	"context"
	"time"

	"github.com/acme/reliable/internal/domain"
	"github.com/acme/reliable/internal/pkg/logger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// FastPath arms a post-commit publish for a single outbox row. It
// exists to cut publish latency from "sweep interval" to "network
// RTT". Anything that goes wrong after commit is swallowed: the row is
// durably NEW and the sweep will pick it up.
type FastPath struct {
	relay   *Relay
	timeout time.Duration
	log     zerolog.Logger
}

func NewFastPath(r *Relay) *FastPath {
	return &FastPath{
		relay:   r,
		timeout: 10 * time.Second,
		log:     logger.Logger.With().Str("component", "fast_path").Logger(),
	}
}

// Arm registers the publish hook on the transaction. A nil tx is
// tolerated as a no-op; callers should never be outside a transaction
// but the contract does not punish it.
func (f *FastPath) Arm(tx domain.Tx, outboxID uuid.UUID) {
	if tx == nil {
		return
	}
	tx.AfterCommit(func() {
		defer func() {
			if p := recover(); p != nil {
				f.log.Error().Interface("panic", p).Str("outbox_id", outboxID.String()).Msg("fast path panicked")
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		defer cancel()
		if err := f.relay.PublishNow(ctx, outboxID); err != nil {
			f.log.Warn().Err(err).Str("outbox_id", outboxID.String()).Msg("fast path publish failed; sweep will retry")
		}
	})
}
