// Package service holds the command core: the ingest bus, the
// idempotent executor, the synchronous-reply registry, and the lease
// reaper. All durable coordination flows through the unit of work;
// the only in-process shared state is the response registry.
package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/acme/reliable/internal/audit"
	"github.com/acme/reliable/internal/domain"
	"github.com/acme/reliable/internal/messaging"
	"github.com/acme/reliable/internal/pkg/logger"
	"github.com/acme/reliable/internal/relay"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CommandBus is the ingest path. Accept records the command and its
// outbound request row in one transaction and arms the post-commit
// fast path.
type CommandBus struct {
	uow      domain.UnitOfWork
	rows     *messaging.RowFactory
	fastPath *relay.FastPath
	audit    *audit.Logger
	log      zerolog.Logger
}

func NewCommandBus(uow domain.UnitOfWork, rows *messaging.RowFactory, fastPath *relay.FastPath) *CommandBus {
	return &CommandBus{
		uow:      uow,
		rows:     rows,
		fastPath: fastPath,
		audit:    audit.New(logger.Logger),
		log:      logger.Logger.With().Str("component", "command_bus").Logger(),
	}
}

// Accept persists a new PENDING command plus its CommandRequested
// outbox row. Returns ErrDuplicateIdempotencyKey or
// ErrDuplicateBusinessKey without writing anything when the command
// was already accepted.
func (b *CommandBus) Accept(ctx context.Context, name, idempotencyKey, businessKey, payload string, replyMeta map[string]string) (uuid.UUID, error) {
	replyJSON, err := json.Marshal(replyMeta)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode reply meta: %w", err)
	}

	var commandID uuid.UUID
	err = b.uow.WithinTx(ctx, func(tx domain.Tx) error {
		exists, err := tx.Commands().ExistsByIdempotencyKey(ctx, idempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return domain.ErrDuplicateIdempotencyKey
		}

		commandID, err = tx.Commands().SavePending(ctx, name, idempotencyKey, businessKey, payload, string(replyJSON))
		if err != nil {
			return err
		}

		outboxID, err := tx.Outbox().Add(ctx, b.rows.CommandRequested(name, commandID, businessKey, payload, replyMeta))
		if err != nil {
			return err
		}
		b.fastPath.Arm(tx, outboxID)
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}

	b.audit.CommandAccepted(ctx, commandID, name, businessKey, idempotencyKey)
	return commandID, nil
}
