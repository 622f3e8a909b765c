package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/acme/reliable/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type CommandStore struct {
	q querier
}

func (s *CommandStore) SavePending(ctx context.Context, name, idempotencyKey, businessKey, payload, replyJSON string) (uuid.UUID, error) {
	name = strings.TrimSpace(name)
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	businessKey = strings.TrimSpace(businessKey)

	id := uuid.New()
	_, err := s.q.Exec(ctx, `
		INSERT INTO command (id, name, business_key, payload, idempotency_key, status, reply, requested_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'PENDING', $6, NOW(), NOW())
	`, id, name, businessKey, payload, idempotencyKey, replyJSON)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			switch pgErr.ConstraintName {
			case constraintIdempotencyKey:
				return uuid.Nil, domain.ErrDuplicateIdempotencyKey
			case constraintBusinessKey:
				return uuid.Nil, domain.ErrDuplicateBusinessKey
			}
		}
		return uuid.Nil, err
	}
	return id, nil
}

func (s *CommandStore) Find(ctx context.Context, id uuid.UUID) (*domain.Command, error) {
	var c domain.Command
	var lastError, reply *string
	err := s.q.QueryRow(ctx, `
		SELECT id, name, business_key, payload, idempotency_key, status, retries,
		       processing_lease_until, last_error, reply, requested_at, updated_at
		FROM command
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.BusinessKey, &c.Payload, &c.IdempotencyKey, &c.Status,
		&c.Retries, &c.ProcessingLeaseUntil, &lastError, &reply, &c.RequestedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCommandNotFound
		}
		return nil, err
	}
	if lastError != nil {
		c.LastError = *lastError
	}
	if reply != nil {
		c.Reply = *reply
	}
	return &c, nil
}

func (s *CommandStore) MarkRunning(ctx context.Context, id uuid.UUID, leaseUntil time.Time) error {
	return s.mark(ctx, `
		UPDATE command
		SET status = 'RUNNING', processing_lease_until = $2, updated_at = NOW()
		WHERE id = $1
	`, id, leaseUntil)
}

func (s *CommandStore) MarkSucceeded(ctx context.Context, id uuid.UUID) error {
	return s.mark(ctx, `
		UPDATE command
		SET status = 'SUCCEEDED', processing_lease_until = NULL, last_error = NULL, updated_at = NOW()
		WHERE id = $1
	`, id)
}

func (s *CommandStore) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	return s.mark(ctx, `
		UPDATE command
		SET status = 'FAILED', processing_lease_until = NULL, last_error = $2, updated_at = NOW()
		WHERE id = $1
	`, id, errMsg)
}

func (s *CommandStore) MarkTimedOut(ctx context.Context, id uuid.UUID, reason string) error {
	return s.mark(ctx, `
		UPDATE command
		SET status = 'TIMED_OUT', processing_lease_until = NULL, last_error = $2, updated_at = NOW()
		WHERE id = $1
	`, id, reason)
}

func (s *CommandStore) BumpRetry(ctx context.Context, id uuid.UUID, errMsg string) error {
	return s.mark(ctx, `
		UPDATE command
		SET retries = retries + 1, last_error = $2, updated_at = NOW()
		WHERE id = $1
	`, id, errMsg)
}

func (s *CommandStore) mark(ctx context.Context, sql string, args ...any) error {
	tag, err := s.q.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCommandNotFound
	}
	return nil
}

func (s *CommandStore) ExistsByIdempotencyKey(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM command WHERE idempotency_key = $1)
	`, strings.TrimSpace(key)).Scan(&exists)
	return exists, err
}

func (s *CommandStore) TimeOutExpiredLeases(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := s.q.Query(ctx, `
		UPDATE command
		SET status = 'TIMED_OUT', last_error = 'processing lease expired', updated_at = NOW()
		WHERE status = 'RUNNING'
		  AND processing_lease_until IS NOT NULL
		  AND processing_lease_until < $1
		RETURNING id
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
