package audit

import (
	"context"

	appCtx "github.com/acme/reliable/internal/pkg/context"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Logger provides structured audit logging for command lifecycle events
type Logger struct {
	log zerolog.Logger
}

// New creates a new audit logger
func New(log zerolog.Logger) *Logger {
	return &Logger{
		log: log.With().Bool("audit", true).Logger(),
	}
}

// CommandAccepted logs when a command is durably recorded
func (l *Logger) CommandAccepted(ctx context.Context, commandID uuid.UUID, name, businessKey, idempotencyKey string) {
	l.log.Info().
		Str("action", "command_accepted").
		Str("command_id", commandID.String()).
		Str("name", name).
		Str("business_key", businessKey).
		Str("idempotency_key", idempotencyKey).
		Str("trace_id", appCtx.GetRequestID(ctx)).
		Msg("Command accepted")
}

// CommandSucceeded logs a terminal success
func (l *Logger) CommandSucceeded(ctx context.Context, commandID uuid.UUID, name string) {
	l.log.Info().
		Str("action", "command_succeeded").
		Str("command_id", commandID.String()).
		Str("name", name).
		Str("trace_id", appCtx.GetRequestID(ctx)).
		Msg("Command succeeded")
}

// CommandParked logs a permanent failure moved to the DLQ
func (l *Logger) CommandParked(ctx context.Context, commandID uuid.UUID, name, errorClass, reason string) {
	l.log.Warn().
		Str("action", "command_parked").
		Str("command_id", commandID.String()).
		Str("name", name).
		Str("error_class", errorClass).
		Str("reason", reason).
		Str("trace_id", appCtx.GetRequestID(ctx)).
		Msg("Command parked in DLQ")
}

// CommandTimedOut logs a lease expiry
func (l *Logger) CommandTimedOut(ctx context.Context, commandID uuid.UUID) {
	l.log.Warn().
		Str("action", "command_timed_out").
		Str("command_id", commandID.String()).
		Msg("Command lease expired")
}
