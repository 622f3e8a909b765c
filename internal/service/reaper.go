package service

import (
	"context"
	"time"

	"github.com/acme/reliable/internal/audit"
	"github.com/acme/reliable/internal/domain"
	"github.com/acme/reliable/internal/pkg/logger"
	"github.com/rs/zerolog"
)

// LeaseReaper times out RUNNING commands whose processing lease
// expired, usually because a worker died mid-execution. TIMED_OUT is
// terminal; operators replay from there.
type LeaseReaper struct {
	commands domain.CommandStore
	interval time.Duration
	audit    *audit.Logger
	log      zerolog.Logger
}

func NewLeaseReaper(commands domain.CommandStore, interval time.Duration) *LeaseReaper {
	return &LeaseReaper{
		commands: commands,
		interval: interval,
		audit:    audit.New(logger.Logger),
		log:      logger.Logger.With().Str("component", "lease_reaper").Logger(),
	}
}

func (r *LeaseReaper) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				r.log.Info().Msg("stopped")
				return
			case <-ticker.C:
				ids, err := r.commands.TimeOutExpiredLeases(ctx, time.Now().UTC())
				if err != nil {
					r.log.Warn().Err(err).Msg("lease sweep failed")
					continue
				}
				for _, id := range ids {
					r.audit.CommandTimedOut(ctx, id)
				}
			}
		}
	}()
}
