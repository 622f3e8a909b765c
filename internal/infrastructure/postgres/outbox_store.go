package postgres

import (
	"context"
	"time"

	"github.com/acme/reliable/internal/domain"
	"github.com/google/uuid"
)

type OutboxStore struct {
	q querier
}

func (s *OutboxStore) Add(ctx context.Context, row domain.OutboxRow) (uuid.UUID, error) {
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	headers := row.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO outbox (id, category, topic, key, type, payload, headers, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'NEW', NOW())
	`, row.ID, string(row.Category), row.Topic, row.Key, row.Type, row.Payload, headers)
	if err != nil {
		return uuid.Nil, err
	}
	return row.ID, nil
}

// ClaimOne is the fast-path claim: a conditional UPDATE that loses
// silently to the sweep relay when the row is already gone. The
// swept-vs-armed race resolves here, not with locks.
func (s *OutboxStore) ClaimOne(ctx context.Context, id uuid.UUID) (*domain.OutboxRow, error) {
	rows, err := s.q.Query(ctx, `
		UPDATE outbox
		SET status = 'CLAIMED', claimed_by = 'fastpath'
		WHERE id = $1 AND status = 'NEW'
		RETURNING id, category, topic, key, type, payload, headers, attempts
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	row, err := scanOutboxRow(rows)
	if err != nil {
		return nil, err
	}
	return row, rows.Err()
}

// Claim picks up to max eligible NEW rows in created_at order.
// FOR UPDATE SKIP LOCKED keeps concurrent sweepers disjoint; the CTE
// flips the claimed rows in the same statement so the claim is visible
// as soon as the implicit transaction commits.
func (s *OutboxStore) Claim(ctx context.Context, max int, claimer string) ([]domain.OutboxRow, error) {
	rows, err := s.q.Query(ctx, `
		WITH picked AS (
			SELECT id
			FROM outbox
			WHERE status = 'NEW'
			  AND COALESCE(next_at, 'epoch'::timestamptz) <= NOW()
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE outbox o
		SET status = 'CLAIMED', claimed_by = $2
		FROM picked
		WHERE o.id = picked.id
		RETURNING o.id, o.category, o.topic, o.key, o.type, o.payload, o.headers, o.attempts
	`, max, claimer)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.OutboxRow
	for rows.Next() {
		row, err := scanOutboxRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *row)
	}
	return out, rows.Err()
}

func (s *OutboxStore) MarkPublished(ctx context.Context, id uuid.UUID) error {
	_, err := s.q.Exec(ctx, `
		UPDATE outbox
		SET status = 'PUBLISHED', published_at = NOW(), last_error = NULL
		WHERE id = $1 AND status <> 'PUBLISHED'
	`, id)
	return err
}

func (s *OutboxStore) Reschedule(ctx context.Context, id uuid.UUID, backoff time.Duration, errMsg string) error {
	_, err := s.q.Exec(ctx, `
		UPDATE outbox
		SET status = 'NEW',
		    attempts = attempts + 1,
		    next_at = NOW() + $2,
		    claimed_by = NULL,
		    last_error = $3
		WHERE id = $1 AND status <> 'PUBLISHED'
	`, id, backoff, errMsg)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOutboxRow(r rowScanner) (*domain.OutboxRow, error) {
	var row domain.OutboxRow
	var category string
	if err := r.Scan(&row.ID, &category, &row.Topic, &row.Key, &row.Type,
		&row.Payload, &row.Headers, &row.Attempts); err != nil {
		return nil, err
	}
	row.Category = domain.OutboxCategory(category)
	return &row, nil
}
