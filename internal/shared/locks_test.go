package shared

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func testLocker(t *testing.T) (*MutationLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewMutationLocker(client), mr
}

func TestWithLockRuns(t *testing.T) {
	locker, mr := testLocker(t)
	ran := false
	err := locker.WithLock(context.Background(), "balance:1", func() error {
		ran = true
		require.True(t, mr.Exists("lock:balance:1"))
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
	require.False(t, mr.Exists("lock:balance:1"))
}

func TestWithLockContendedGivesUp(t *testing.T) {
	locker, mr := testLocker(t)
	locker.tries = 2
	locker.retry = 0
	require.NoError(t, mr.Set("lock:balance:1", "other"))

	err := locker.WithLock(context.Background(), "balance:1", func() error { return nil })
	require.ErrorIs(t, err, ErrLockNotAcquired)
}

func TestWithLockDoesNotReleaseForeignLease(t *testing.T) {
	locker, mr := testLocker(t)
	require.NoError(t, locker.WithLock(context.Background(), "balance:2", func() error {
		// Simulate lease expiry plus takeover by another session.
		mr.Del("lock:balance:2")
		require.NoError(t, mr.Set("lock:balance:2", "other"))
		return nil
	}))
	val, err := mr.Get("lock:balance:2")
	require.NoError(t, err)
	require.Equal(t, "other", val)
}

func TestNilLockerPassesThrough(t *testing.T) {
	var locker *MutationLocker
	ran := false
	require.NoError(t, locker.WithLock(context.Background(), "x", func() error {
		ran = true
		return nil
	}))
	require.True(t, ran)
}
