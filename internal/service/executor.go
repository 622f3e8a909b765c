package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/acme/reliable/internal/audit"
	"github.com/acme/reliable/internal/domain"
	"github.com/acme/reliable/internal/messaging"
	"github.com/acme/reliable/internal/pkg/logger"
	"github.com/acme/reliable/internal/relay"
	"github.com/rs/zerolog"
)

// ExecutorHandlerName is the inbox fence identity of the executor.
const ExecutorHandlerName = "CommandExecutor"

// SnapshotFunc produces the opaque aggregate snapshot JSON carried by
// success events.
type SnapshotFunc func(key string) string

// AggregateSnapshot is the default snapshot: the aggregate key plus a
// version marker.
func AggregateSnapshot(key string) string {
	b, _ := json.Marshal(map[string]any{"aggregateKey": key, "version": 1})
	return string(b)
}

// Executor is the consume path. Process runs the inbox fence, the
// handler, and the reply/event outbox inserts in one transaction and
// maps the three failure kinds to their distinct persistence outcomes.
type Executor struct {
	uow      domain.UnitOfWork
	commands domain.CommandStore // pool-bound, for the post-rollback retry bump
	registry *domain.HandlerRegistry
	rows     *messaging.RowFactory
	naming   messaging.Naming
	fastPath *relay.FastPath
	snapshot SnapshotFunc
	lease    time.Duration
	audit    *audit.Logger
	log      zerolog.Logger
}

func NewExecutor(
	uow domain.UnitOfWork,
	commands domain.CommandStore,
	registry *domain.HandlerRegistry,
	rows *messaging.RowFactory,
	naming messaging.Naming,
	fastPath *relay.FastPath,
	lease time.Duration,
) *Executor {
	return &Executor{
		uow:      uow,
		commands: commands,
		registry: registry,
		rows:     rows,
		naming:   naming,
		fastPath: fastPath,
		snapshot: AggregateSnapshot,
		lease:    lease,
		audit:    audit.New(logger.Logger),
		log:      logger.Logger.With().Str("component", "executor").Logger(),
	}
}

// retryableProcessError aborts the processing transaction while
// remembering the handler failure, so the caller can persist the retry
// bump on a fresh connection and hand the original error back to the
// message layer for redelivery.
type retryableProcessError struct {
	cause error
}

func (e *retryableProcessError) Error() string { return e.cause.Error() }
func (e *retryableProcessError) Unwrap() error { return e.cause }

// Process handles one inbound envelope. A nil return means the message
// is settled (success, duplicate, or committed permanent failure) and
// must be acked. A non-nil return means the transaction rolled back
// and the broker should redeliver.
func (e *Executor) Process(ctx context.Context, env domain.Envelope) error {
	err := e.uow.WithinTx(ctx, func(tx domain.Tx) error {
		first, err := tx.Inbox().MarkIfAbsent(ctx, env.MessageID.String(), ExecutorHandlerName)
		if err != nil {
			return err
		}
		if !first {
			e.log.Debug().
				Str("message_id", env.MessageID.String()).
				Str("command_id", env.CommandID.String()).
				Msg("duplicate delivery; skipped")
			return nil
		}

		now := time.Now().UTC()
		if err := tx.Commands().MarkRunning(ctx, env.CommandID, now.Add(e.lease)); err != nil {
			return err
		}

		result, herr := e.registry.Invoke(ctx, env.Name, env.Payload)
		if herr == nil {
			return e.completeSucceeded(ctx, tx, env, result)
		}

		f, ok := domain.AsFailure(herr)
		if !ok {
			// Unclassified error: roll back and let the broker redeliver.
			return fmt.Errorf("handler %s: %w", env.Name, herr)
		}
		switch f.Kind {
		case domain.FailurePermanent:
			return e.completeFailed(ctx, tx, env, f)
		default:
			return &retryableProcessError{cause: herr}
		}
	})
	if err == nil {
		return nil
	}

	var retry *retryableProcessError
	if errors.As(err, &retry) {
		// The processing transaction is gone; record the attempt on its
		// own connection so the counter survives the rollback.
		if berr := e.commands.BumpRetry(ctx, env.CommandID, retry.cause.Error()); berr != nil {
			e.log.Error().Err(berr).Str("command_id", env.CommandID.String()).Msg("retry bump failed")
		}
		e.log.Warn().
			Str("command_id", env.CommandID.String()).
			Str("name", env.Name).
			Err(retry.cause).
			Msg("retryable failure; awaiting redelivery")
		return retry.cause
	}
	return err
}

func (e *Executor) completeSucceeded(ctx context.Context, tx domain.Tx, env domain.Envelope, result string) error {
	if err := tx.Commands().MarkSucceeded(ctx, env.CommandID); err != nil {
		return err
	}

	replyID, err := tx.Outbox().Add(ctx, e.rows.Reply(env, messaging.TypeCommandCompleted, result))
	if err != nil {
		return err
	}
	eventID, err := tx.Outbox().Add(ctx, e.rows.Event(
		e.naming.EventTopic(env.Name),
		env.Key,
		messaging.TypeCommandCompleted,
		e.snapshot(env.Key),
	))
	if err != nil {
		return err
	}

	e.fastPath.Arm(tx, replyID)
	e.fastPath.Arm(tx, eventID)

	e.audit.CommandSucceeded(ctx, env.CommandID, env.Name)
	return nil
}

// completeFailed quarantines a permanently failed command. Everything
// commits in this transaction: the FAILED status, the DLQ entry, and
// the failure reply/event rows. Propagating the failure instead would
// roll all of that back and lose the quarantine.
func (e *Executor) completeFailed(ctx context.Context, tx domain.Tx, env domain.Envelope, f *domain.Failure) error {
	if err := tx.Commands().MarkFailed(ctx, env.CommandID, f.Msg); err != nil {
		return err
	}
	if err := tx.Dlq().Park(ctx, domain.DlqEntry{
		CommandID:    env.CommandID,
		CommandName:  env.Name,
		BusinessKey:  env.Key,
		Payload:      env.Payload,
		FailedStatus: string(domain.StatusFailed),
		ErrorClass:   f.Kind.String(),
		ErrorMessage: f.Msg,
		ParkedBy:     "worker",
	}); err != nil {
		return err
	}

	errJSON, _ := json.Marshal(map[string]string{"error": f.Msg})
	replyID, err := tx.Outbox().Add(ctx, e.rows.Reply(env, messaging.TypeCommandFailed, string(errJSON)))
	if err != nil {
		return err
	}
	eventID, err := tx.Outbox().Add(ctx, e.rows.Event(
		e.naming.EventTopic(env.Name),
		env.Key,
		messaging.TypeCommandFailed,
		string(errJSON),
	))
	if err != nil {
		return err
	}

	e.fastPath.Arm(tx, replyID)
	e.fastPath.Arm(tx, eventID)

	e.audit.CommandParked(ctx, env.CommandID, env.Name, f.Kind.String(), f.Msg)
	return nil
}
