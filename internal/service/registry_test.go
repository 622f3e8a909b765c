package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/acme/reliable/internal/domain"
	"github.com/acme/reliable/internal/service"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRegistryCompleteResolvesAwait(t *testing.T) {
	reg := service.NewResponseRegistry(time.Minute)
	id := uuid.New()
	slot := reg.Register(id)

	go reg.Complete(id, `{"userId":"u-123"}`)

	payload, err := slot.Await(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, `{"userId":"u-123"}`, payload)
	require.Zero(t, reg.PendingCount())
}

func TestRegistryFailResolvesWithError(t *testing.T) {
	reg := service.NewResponseRegistry(time.Minute)
	id := uuid.New()
	slot := reg.Register(id)

	go reg.Fail(id, "Invariant broken")

	_, err := slot.Await(context.Background(), time.Second)
	require.EqualError(t, err, "Invariant broken")
}

func TestRegistryAwaitTimesOut(t *testing.T) {
	reg := service.NewResponseRegistry(time.Minute)
	slot := reg.Register(uuid.New())

	start := time.Now()
	_, err := slot.Await(context.Background(), 20*time.Millisecond)
	require.ErrorIs(t, err, domain.ErrReplyTimeout)
	require.Less(t, time.Since(start), time.Second)
}

func TestRegistryAwaitHonorsContextCancel(t *testing.T) {
	reg := service.NewResponseRegistry(time.Minute)
	slot := reg.Register(uuid.New())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := slot.Await(ctx, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRegistryUnknownIDIsDiscarded(t *testing.T) {
	reg := service.NewResponseRegistry(time.Minute)
	reg.Complete(uuid.New(), "{}")
	reg.Fail(uuid.New(), "boom")
	require.Zero(t, reg.PendingCount())
}

func TestRegistryLateReplyStillResolvesWaiter(t *testing.T) {
	// The TTL only removes the slot from the map; a waiter already
	// holding it after a Complete raced in still gets the outcome.
	reg := service.NewResponseRegistry(10 * time.Millisecond)
	id := uuid.New()
	slot := reg.Register(id)

	reg.Complete(id, "{}")
	time.Sleep(30 * time.Millisecond)

	payload, err := slot.Await(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, "{}", payload)
}

func TestRegistryTTLReclaimsAbandonedSlots(t *testing.T) {
	reg := service.NewResponseRegistry(10 * time.Millisecond)
	for i := 0; i < 8; i++ {
		reg.Register(uuid.New())
	}
	require.Equal(t, 8, reg.PendingCount())

	require.Eventually(t, func() bool {
		return reg.PendingCount() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestRegistryReRegisterReplacesSlot(t *testing.T) {
	reg := service.NewResponseRegistry(time.Minute)
	id := uuid.New()
	old := reg.Register(id)
	fresh := reg.Register(id)

	reg.Complete(id, "fresh")

	payload, err := fresh.Await(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, "fresh", payload)

	_, err = old.Await(context.Background(), 20*time.Millisecond)
	require.ErrorIs(t, err, domain.ErrReplyTimeout)
}
