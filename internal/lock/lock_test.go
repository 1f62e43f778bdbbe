package lock

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLocker(t *testing.T, locker Locker) {
	ctx := context.Background()
	key := "erc20:0x1111111111111111111111111111111111111111"

	unlock, ok, err := locker.TryLock(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryLock(ctx, key)
	require.NoError(t, err)
	require.False(t, ok, "second acquire must fail while held")

	otherUnlock, ok, err := locker.TryLock(ctx, "erc20:other")
	require.NoError(t, err)
	require.True(t, ok, "different keys are independent")
	otherUnlock()

	unlock()
	unlock()

	again, ok, err := locker.TryLock(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	again()
}

func TestLocal(t *testing.T) {
	testLocker(t, NewLocal())
}

func TestLocalCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok, err := NewLocal().TryLock(ctx, "k")
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, ok)
}

func TestDo(t *testing.T) {
	locker := NewLocal()
	ctx := context.Background()
	calls := 0

	err := Do(ctx, locker, "k", func(ctx context.Context) error {
		calls++
		nested := Do(ctx, locker, "k", func(context.Context) error {
			calls++
			return nil
		})
		require.ErrorIs(t, nested, ErrBusy)
		return errors.New("run failed")
	})
	require.EqualError(t, err, "run failed")
	require.Equal(t, 1, calls)

	require.NoError(t, Do(ctx, locker, "k", func(context.Context) error { return nil }), "lock released after error")
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("LEDGERSYNC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LEDGERSYNC_TEST_REDIS_ADDR not set")
	}
	locker, err := NewRedis(context.Background(), addr, 2*time.Second, nil)
	require.NoError(t, err)
	defer locker.Close()
	testLocker(t, locker)
}
