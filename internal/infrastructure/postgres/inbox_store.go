package postgres

import (
	"context"
	"strings"
)

type InboxStore struct {
	q querier
}

// MarkIfAbsent inserts (message_id, handler) once.
// ok=true means first delivery; ok=false means a duplicate. When used
// inside a transaction the marker rolls back with it, so a failed
// attempt can be redelivered.
func (s *InboxStore) MarkIfAbsent(ctx context.Context, messageID, handler string) (ok bool, err error) {
	messageID = strings.TrimSpace(messageID)
	handler = strings.TrimSpace(handler)

	if messageID == "" {
		// Without a message id there is nothing to dedupe on; process
		// best effort rather than dropping.
		return true, nil
	}
	if handler == "" {
		handler = "unknown"
	}

	tag, err := s.q.Exec(ctx, `
		INSERT INTO inbox (message_id, handler)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, messageID, handler)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
