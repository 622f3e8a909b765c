//go:build integration
// +build integration

package postgres_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/acme/reliable/internal/domain"
	"github.com/acme/reliable/internal/infrastructure/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// Helper: connect, apply schema, wipe state.
func setupDB(t *testing.T) (*postgres.DB, *pgxpool.Pool) {
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("Skipping integration test: TEST_DB_DSN not set")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, postgres.EnsureSchema(context.Background(), pool))
	_, err = pool.Exec(context.Background(),
		"TRUNCATE TABLE command, inbox, outbox, command_dlq RESTART IDENTITY CASCADE")
	require.NoError(t, err)

	return postgres.New(pool), pool
}

func TestSavePending_DuplicateKeyMapping(t *testing.T) {
	db, _ := setupDB(t)
	ctx := context.Background()
	cmds := db.Commands()

	_, err := cmds.SavePending(ctx, "CreateUser", "k1", "biz-1", "{}", "{}")
	require.NoError(t, err)

	_, err = cmds.SavePending(ctx, "CreateUser", "k1", "biz-2", "{}", "{}")
	require.ErrorIs(t, err, domain.ErrDuplicateIdempotencyKey)

	_, err = cmds.SavePending(ctx, "CreateUser", "k2", "biz-1", "{}", "{}")
	require.ErrorIs(t, err, domain.ErrDuplicateBusinessKey)

	// Same business key under a different command name is fine.
	_, err = cmds.SavePending(ctx, "DeleteUser", "k3", "biz-1", "{}", "{}")
	require.NoError(t, err)
}

func TestInboxFence_FirstInsertWins(t *testing.T) {
	db, _ := setupDB(t)
	ctx := context.Background()
	inbox := db.Inbox()

	first, err := inbox.MarkIfAbsent(ctx, "m1", "CommandExecutor")
	require.NoError(t, err)
	require.True(t, first)

	again, err := inbox.MarkIfAbsent(ctx, "m1", "CommandExecutor")
	require.NoError(t, err)
	require.False(t, again)

	// Different handler, same message: independent fence.
	other, err := inbox.MarkIfAbsent(ctx, "m1", "Projector")
	require.NoError(t, err)
	require.True(t, other)
}

func TestInboxFence_RollsBackWithTx(t *testing.T) {
	db, _ := setupDB(t)
	ctx := context.Background()

	boom := domain.Transient("downstream down")
	err := db.WithinTx(ctx, func(tx domain.Tx) error {
		first, err := tx.Inbox().MarkIfAbsent(ctx, "m2", "CommandExecutor")
		require.NoError(t, err)
		require.True(t, first)
		return boom
	})
	require.ErrorIs(t, err, boom)

	// Marker rolled back: redelivery sees first=true again.
	first, err := db.Inbox().MarkIfAbsent(ctx, "m2", "CommandExecutor")
	require.NoError(t, err)
	require.True(t, first)
}

func TestClaim_ConcurrentWorkersAreDisjoint(t *testing.T) {
	db, _ := setupDB(t)
	ctx := context.Background()
	outbox := db.Outbox()

	const total = 50
	for i := 0; i < total; i++ {
		_, err := outbox.Add(ctx, domain.OutboxRow{
			Category: domain.CategoryEvent,
			Topic:    "events.CreateUser",
			Type:     "CommandCompleted",
			Payload:  "{}",
		})
		require.NoError(t, err)
	}

	const workers = 8
	var mu sync.Mutex
	seen := map[uuid.UUID]string{}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			claimer := string(rune('a' + w))
			for {
				rows, err := outbox.Claim(ctx, 7, claimer)
				require.NoError(t, err)
				if len(rows) == 0 {
					return
				}
				mu.Lock()
				for _, r := range rows {
					if prev, dup := seen[r.ID]; dup {
						t.Errorf("row %s claimed by both %s and %s", r.ID, prev, claimer)
					}
					seen[r.ID] = claimer
				}
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	require.Len(t, seen, total)
}

func TestClaim_RespectsNextAt(t *testing.T) {
	db, _ := setupDB(t)
	ctx := context.Background()
	outbox := db.Outbox()

	id, err := outbox.Add(ctx, domain.OutboxRow{
		Category: domain.CategoryCommand,
		Topic:    "APP.CMD.CreateUser.Q",
		Type:     "CommandRequested",
		Payload:  "{}",
	})
	require.NoError(t, err)

	// Claim, fail, reschedule far into the future.
	row, err := outbox.ClaimOne(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, row)
	require.NoError(t, outbox.Reschedule(ctx, id, time.Hour, "broker down"))

	rows, err := outbox.Claim(ctx, 10, "sweeper")
	require.NoError(t, err)
	require.Empty(t, rows)

	// Rewind next_at and it becomes eligible again with the attempt recorded.
	require.NoError(t, outbox.Reschedule(ctx, id, -time.Second, "broker down"))
	rows, err = outbox.Claim(ctx, 10, "sweeper")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 2, rows[0].Attempts)
}

func TestClaimOne_LosesSilentlyToSweep(t *testing.T) {
	db, _ := setupDB(t)
	ctx := context.Background()
	outbox := db.Outbox()

	id, err := outbox.Add(ctx, domain.OutboxRow{
		Category: domain.CategoryReply,
		Topic:    "APP.CMD.REPLY.Q",
		Type:     "CommandCompleted",
		Payload:  "{}",
	})
	require.NoError(t, err)

	rows, err := outbox.Claim(ctx, 10, "sweeper")
	require.NoError(t, err)
	require.Len(t, rows, 1)

	// The fast path arrives second and must get nothing.
	row, err := outbox.ClaimOne(ctx, id)
	require.NoError(t, err)
	require.Nil(t, row)
}

func TestPermanentFailure_StatusAndDlqCommitTogether(t *testing.T) {
	db, pool := setupDB(t)
	ctx := context.Background()

	id, err := db.Commands().SavePending(ctx, "CreateUser", "k1", "biz-1", "{}", "{}")
	require.NoError(t, err)

	err = db.WithinTx(ctx, func(tx domain.Tx) error {
		if err := tx.Commands().MarkFailed(ctx, id, "Invariant broken"); err != nil {
			return err
		}
		return tx.Dlq().Park(ctx, domain.DlqEntry{
			CommandID:    id,
			CommandName:  "CreateUser",
			BusinessKey:  "biz-1",
			Payload:      "{}",
			FailedStatus: "FAILED",
			ErrorClass:   "Permanent",
			ErrorMessage: "Invariant broken",
			ParkedBy:     "worker",
		})
	})
	require.NoError(t, err)

	cmd, err := db.Commands().Find(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFailed, cmd.Status)

	var dlqCount int
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT count(*) FROM command_dlq WHERE command_id = $1", id).Scan(&dlqCount))
	require.Equal(t, 1, dlqCount)
}

func TestAfterCommit_RunsOnlyOnCommit(t *testing.T) {
	db, _ := setupDB(t)
	ctx := context.Background()

	fired := 0
	err := db.WithinTx(ctx, func(tx domain.Tx) error {
		tx.AfterCommit(func() { fired++ })
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, fired)

	boom := domain.Transient("rollback")
	err = db.WithinTx(ctx, func(tx domain.Tx) error {
		tx.AfterCommit(func() { fired++ })
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, fired)
}

func TestTimeOutExpiredLeases(t *testing.T) {
	db, _ := setupDB(t)
	ctx := context.Background()
	cmds := db.Commands()

	expired, err := cmds.SavePending(ctx, "CreateUser", "k1", "b1", "{}", "{}")
	require.NoError(t, err)
	live, err := cmds.SavePending(ctx, "CreateUser", "k2", "b2", "{}", "{}")
	require.NoError(t, err)

	require.NoError(t, cmds.MarkRunning(ctx, expired, time.Now().Add(-time.Minute)))
	require.NoError(t, cmds.MarkRunning(ctx, live, time.Now().Add(time.Hour)))

	ids, err := cmds.TimeOutExpiredLeases(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{expired}, ids)

	cmd, err := cmds.Find(ctx, live)
	require.NoError(t, err)
	require.Equal(t, domain.StatusRunning, cmd.Status)
}
