package dedupe

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/confops/pkg/redis"
)

func newGuard(t *testing.T, ttl time.Duration) (*Guard, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.Wrap(goredis.NewClient(&goredis.Options{Addr: srv.Addr()}))
	t.Cleanup(func() { _ = client.Close() })
	g, err := New(client, "push-dispatch", ttl)
	require.NoError(t, err)
	return g, srv
}

func TestClaimOnlyOnce(t *testing.T) {
	g, srv := newGuard(t, time.Hour)
	ctx := context.Background()
	id := uuid.New()

	first, err := g.Claim(ctx, id)
	require.NoError(t, err)
	assert.True(t, first)
	again, err := g.Claim(ctx, id)
	require.NoError(t, err)
	assert.False(t, again)

	key := "confops:idempotency:evt:push-dispatch:" + id.String()
	assert.Equal(t, time.Hour, srv.TTL(key))
}

func TestReleaseAllowsRetry(t *testing.T) {
	g, _ := newGuard(t, time.Hour)
	ctx := context.Background()
	id := uuid.New()

	_, err := g.Claim(ctx, id)
	require.NoError(t, err)
	require.NoError(t, g.Release(ctx, id))
	first, err := g.Claim(ctx, id)
	require.NoError(t, err)
	assert.True(t, first)
}

func TestMarkersExpire(t *testing.T) {
	g, srv := newGuard(t, time.Minute)
	ctx := context.Background()
	id := uuid.New()

	_, err := g.Claim(ctx, id)
	require.NoError(t, err)
	srv.FastForward(2 * time.Minute)
	first, err := g.Claim(ctx, id)
	require.NoError(t, err)
	assert.True(t, first)
}

func TestGuardsAreScopedPerConsumer(t *testing.T) {
	g, srv := newGuard(t, time.Hour)
	other, err := New(redis.Wrap(goredis.NewClient(&goredis.Options{Addr: srv.Addr()})), "audit", time.Hour)
	require.NoError(t, err)
	id := uuid.New()

	_, err = g.Claim(context.Background(), id)
	require.NoError(t, err)
	first, err := other.Claim(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, first)
}

func TestValidation(t *testing.T) {
	_, err := New(nil, "c", time.Minute)
	assert.Error(t, err)
	_, err = New(&redis.Client{}, "", time.Minute)
	assert.Error(t, err)
	_, err = New(&redis.Client{}, "c", 0)
	assert.Error(t, err)

	g, err := New(&redis.Client{}, "c", time.Minute)
	require.NoError(t, err)
	_, err = g.Claim(context.Background(), uuid.Nil)
	assert.Error(t, err)
}
