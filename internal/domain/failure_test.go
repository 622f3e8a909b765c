package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFailureKinds(t *testing.T) {
	perm := Permanent("invariant broken")
	retry := RetryableBusiness("inventory locked")
	trans := Transient("downstream timeout")

	f, ok := AsFailure(perm)
	require.True(t, ok)
	require.Equal(t, FailurePermanent, f.Kind)
	require.Equal(t, "Permanent", f.Kind.String())
	require.False(t, f.Kind.Retryable())

	f, ok = AsFailure(retry)
	require.True(t, ok)
	require.True(t, f.Kind.Retryable())

	f, ok = AsFailure(trans)
	require.True(t, ok)
	require.True(t, f.Kind.Retryable())
	require.Equal(t, "downstream timeout", f.Error())
}

func TestAsFailureUnwrapsChains(t *testing.T) {
	wrapped := fmt.Errorf("handler CreateUser: %w", Transient("broker gone"))

	f, ok := AsFailure(wrapped)
	require.True(t, ok)
	require.Equal(t, FailureTransient, f.Kind)

	_, ok = AsFailure(errors.New("plain"))
	require.False(t, ok)
}

func TestHandlerRegistry(t *testing.T) {
	r := NewHandlerRegistry()
	r.Register("CreateUser", func(ctx context.Context, name, payload string) (string, error) {
		return `{"userId":"u-1"}`, nil
	})
	r.Register("DeleteUser", func(ctx context.Context, name, payload string) (string, error) {
		return "", Transient("later")
	})

	out, err := r.Invoke(context.Background(), "CreateUser", "{}")
	require.NoError(t, err)
	require.Equal(t, `{"userId":"u-1"}`, out)

	require.Equal(t, []string{"CreateUser", "DeleteUser"}, r.Names())
}

func TestHandlerRegistryUnknownNameIsPermanent(t *testing.T) {
	r := NewHandlerRegistry()

	_, err := r.Invoke(context.Background(), "Nope", "{}")
	f, ok := AsFailure(err)
	require.True(t, ok)
	require.Equal(t, FailurePermanent, f.Kind)
}
