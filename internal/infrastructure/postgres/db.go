// Package postgres implements the command, inbox, outbox and DLQ
// stores over pgx, plus the unit of work that ties them into one
// database transaction.
package postgres

import (
	"context"

	"github.com/acme/reliable/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx, so
// every store works both pool-bound and transaction-bound.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB wraps the pool and hands out store views and transactions.
type DB struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *DB {
	return &DB{pool: pool}
}

// Pool-bound views. Each statement runs in its own implicit
// transaction; BumpRetry relies on this to survive a rollback of the
// processing transaction.

func (d *DB) Commands() domain.CommandStore { return &CommandStore{q: d.pool} }
func (d *DB) Inbox() domain.InboxStore      { return &InboxStore{q: d.pool} }
func (d *DB) Outbox() domain.OutboxStore    { return &OutboxStore{q: d.pool} }
func (d *DB) Dlq() domain.DlqStore          { return &DlqStore{q: d.pool} }

// WithinTx opens a transaction, runs fn, and commits when fn returns
// nil. The deferred rollback is a no-op after a successful commit.
// AfterCommit hooks run only once the commit has returned.
func (d *DB) WithinTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	pgtx, err := d.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = pgtx.Rollback(ctx) }()

	t := &dbTx{q: pgtx}
	if err := fn(t); err != nil {
		return err
	}
	if err := pgtx.Commit(ctx); err != nil {
		return err
	}

	for _, h := range t.hooks {
		h()
	}
	return nil
}

type dbTx struct {
	q     pgx.Tx
	hooks []func()
}

func (t *dbTx) Commands() domain.CommandStore { return &CommandStore{q: t.q} }
func (t *dbTx) Inbox() domain.InboxStore      { return &InboxStore{q: t.q} }
func (t *dbTx) Outbox() domain.OutboxStore    { return &OutboxStore{q: t.q} }
func (t *dbTx) Dlq() domain.DlqStore          { return &DlqStore{q: t.q} }
func (t *dbTx) AfterCommit(fn func())         { t.hooks = append(t.hooks, fn) }
