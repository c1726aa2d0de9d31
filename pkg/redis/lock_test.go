package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockOwnership(t *testing.T) {
	ctx := context.Background()
	c, srv := newTestClient(t)

	first, err := NewLock(c, c.LockKey("cron"), time.Minute)
	require.NoError(t, err)
	second, err := NewLock(c, c.LockKey("cron"), time.Minute)
	require.NoError(t, err)

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "held lock must not be acquired twice")

	require.NoError(t, second.Release(ctx), "non-owner release is a no-op")
	assert.True(t, srv.Exists("confops:lock:cron"))

	require.NoError(t, first.Release(ctx))
	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockExpiresAndStaleOwnerCannotRelease(t *testing.T) {
	ctx := context.Background()
	c, srv := newTestClient(t)

	stale, _ := NewLock(c, "k", time.Second)
	ok, err := stale.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Second, srv.TTL("k"))

	srv.FastForward(2 * time.Second)
	fresh, _ := NewLock(c, "k", time.Minute)
	ok, err = fresh.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, stale.Release(ctx))
	assert.True(t, srv.Exists("k"), "stale owner must not delete the new holder's key")
}

func TestLockAcquireWaitHonorsContext(t *testing.T) {
	c, _ := newTestClient(t)
	holder, _ := NewLock(c, "k", time.Minute)
	ok, err := holder.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	waiter, _ := NewLock(c, "k", time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, waiter.AcquireWait(ctx, 5*time.Millisecond), context.DeadlineExceeded)
}

func TestNewLockValidates(t *testing.T) {
	_, err := NewLock(nil, "k", 0)
	assert.Error(t, err)
	lock, err := NewLock(&Client{}, "", 0)
	assert.Error(t, err)
	assert.Nil(t, lock)

	lock, err = NewLock(&Client{}, "k", 0)
	require.NoError(t, err)
	assert.Equal(t, defaultLockTTL, lock.ttl)
}
