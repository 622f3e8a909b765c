package relay

import (
	"context"
	"time"

	"github.com/acme/reliable/internal/pkg/logger"
	"github.com/rs/zerolog"
)

// Sweeper drives the relay's batch claim on a fixed delay. One sweep at
// a time per process: the loop is sequential, so a slow sweep simply
// delays the next tick.
type Sweeper struct {
	relay     *Relay
	interval  time.Duration
	batchSize int
	log       zerolog.Logger
}

func NewSweeper(r *Relay, interval time.Duration, batchSize int) *Sweeper {
	return &Sweeper{
		relay:     r,
		interval:  interval,
		batchSize: batchSize,
		log:       logger.Logger.With().Str("component", "outbox_sweeper").Logger(),
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		var lastErr string
		var lastAt time.Time

		for {
			select {
			case <-ctx.Done():
				s.log.Info().Msg("stopped")
				return
			case <-ticker.C:
				n, err := s.relay.Sweep(ctx, s.batchSize)
				if err != nil {
					// rate-limit repeated identical errors
					if err.Error() != lastErr || time.Since(lastAt) > 10*time.Second {
						s.log.Warn().Err(err).Msg("sweep failed")
						lastErr = err.Error()
						lastAt = time.Now()
					}
					continue
				}
				lastErr = ""
				if n > 0 {
					s.log.Info().Int("claimed", n).Msg("sweep published backlog")
				}
			}
		}
	}()
}
