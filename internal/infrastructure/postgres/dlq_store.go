package postgres

import (
	"context"

	"github.com/acme/reliable/internal/domain"
)

type DlqStore struct {
	q querier
}

// Park inserts the quarantine row. It runs in the same transaction as
// the FAILED status flip so the two are never observed apart.
func (s *DlqStore) Park(ctx context.Context, e domain.DlqEntry) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO command_dlq
			(command_id, command_name, business_key, payload, failed_status,
			 error_class, error_message, attempts, parked_by, parked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
	`, e.CommandID, e.CommandName, e.BusinessKey, e.Payload, e.FailedStatus,
		e.ErrorClass, e.ErrorMessage, e.Attempts, e.ParkedBy)
	return err
}
