package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Constraint names referenced by the duplicate-key mapping in
// CommandStore.SavePending. Renaming them in the DDL breaks the
// 409 responses.
const (
	constraintIdempotencyKey = "command_idempotency_key_key"
	constraintBusinessKey    = "command_name_business_key_key"
)

var schemaStatements = []string{
	`DO $$ BEGIN
		CREATE TYPE command_status AS ENUM ('PENDING','RUNNING','SUCCEEDED','FAILED','TIMED_OUT');
	EXCEPTION WHEN duplicate_object THEN NULL;
	END $$`,

	`CREATE TABLE IF NOT EXISTS command (
		id uuid PRIMARY KEY,
		name text NOT NULL,
		business_key text NOT NULL,
		payload text NOT NULL,
		idempotency_key text NOT NULL,
		status command_status NOT NULL DEFAULT 'PENDING',
		retries int NOT NULL DEFAULT 0,
		processing_lease_until timestamptz,
		last_error text,
		reply text,
		requested_at timestamptz NOT NULL DEFAULT NOW(),
		updated_at timestamptz NOT NULL DEFAULT NOW(),
		CONSTRAINT command_idempotency_key_key UNIQUE (idempotency_key),
		CONSTRAINT command_name_business_key_key UNIQUE (name, business_key)
	)`,

	`CREATE TABLE IF NOT EXISTS inbox (
		message_id text NOT NULL,
		handler text NOT NULL,
		processed_at timestamptz NOT NULL DEFAULT NOW(),
		PRIMARY KEY (message_id, handler)
	)`,

	`CREATE TABLE IF NOT EXISTS outbox (
		id uuid PRIMARY KEY,
		category text NOT NULL,
		topic text NOT NULL,
		key text NOT NULL DEFAULT '',
		type text NOT NULL,
		payload text NOT NULL,
		headers jsonb NOT NULL DEFAULT '{}',
		status text NOT NULL DEFAULT 'NEW',
		attempts int NOT NULL DEFAULT 0,
		next_at timestamptz,
		claimed_by text,
		last_error text,
		created_at timestamptz NOT NULL DEFAULT NOW(),
		published_at timestamptz
	)`,

	// Claim scans are (status, eligible-at, created_at); NULL next_at
	// means immediately eligible.
	`CREATE INDEX IF NOT EXISTS ix_outbox_claim
		ON outbox (status, (COALESCE(next_at, 'epoch'::timestamptz)), created_at)`,

	`CREATE TABLE IF NOT EXISTS command_dlq (
		id bigserial PRIMARY KEY,
		command_id uuid NOT NULL,
		command_name text NOT NULL,
		business_key text NOT NULL,
		payload text NOT NULL,
		failed_status text NOT NULL,
		error_class text NOT NULL,
		error_message text,
		attempts int NOT NULL DEFAULT 0,
		parked_by text NOT NULL,
		parked_at timestamptz NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS ix_command_dlq_command_id ON command_dlq (command_id)`,
}

// EnsureSchema creates the tables the engine needs. Statements are
// idempotent so repeated startups are safe.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
