package rabbitmq

import (
	"context"
	"testing"
	"time"

	"github.com/acme/reliable/internal/domain"
	"github.com/acme/reliable/internal/infrastructure/memory"
	"github.com/acme/reliable/internal/messaging"
	"github.com/acme/reliable/internal/relay"
	"github.com/acme/reliable/internal/service"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestUnknownCommandDeliveryIsDroppedNotRequeued(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	naming := messaging.DefaultNaming()
	r := relay.New(store.Outbox(), &memory.Queue{}, &memory.EventBus{}, 5*time.Minute)

	registry := domain.NewHandlerRegistry()
	registry.Register("CreateUser", func(ctx context.Context, name, payload string) (string, error) {
		return "{}", nil
	})
	exec := service.NewExecutor(store, store.Commands(), registry, messaging.NewRowFactory(naming), naming, relay.NewFastPath(r), 5*time.Minute)

	// A delivery whose command id references no command row: the fence
	// rolls back with the transaction, so redelivering can never help.
	env := domain.Envelope{
		MessageID: uuid.New(),
		Type:      messaging.TypeCommandRequested,
		Name:      "CreateUser",
		CommandID: uuid.New(),
		Key:       "biz-1",
		Payload:   `{"username":"alice"}`,
	}

	for i := 0; i < 5; i++ {
		err := exec.Process(ctx, env)
		require.ErrorIs(t, err, domain.ErrCommandNotFound)
		require.False(t, requeue(err), "iteration %d", i)
	}
	require.Zero(t, store.InboxSize())
}

func TestRequeueKeepsRetryableFailures(t *testing.T) {
	require.True(t, requeue(domain.Transient("broker gone")))
	require.True(t, requeue(context.DeadlineExceeded))
	require.False(t, requeue(domain.ErrCommandNotFound))
}
