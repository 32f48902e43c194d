package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a live Redis when MARKETPLACE_TEST_REDIS_ADDR is set.
func liveRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("MARKETPLACE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("MARKETPLACE_TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(context.Background()).Err())
	return rdb
}

func TestRedisGenerations(t *testing.T) {
	ctx := context.Background()
	rdb := liveRedis(t)
	c := NewRedis(rdb, time.Minute)
	key := "listing:" + uuid.NewString()
	t.Cleanup(func() { rdb.Del(ctx, keyPrefix+key, genPrefix+key) })

	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	gen, err := c.Generation(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(0), gen)

	stored, err := c.SetIfGeneration(ctx, key, gen, []byte(`{"count":1}`))
	require.NoError(t, err)
	require.True(t, stored)
	val, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"count":1}`, string(val))

	require.NoError(t, c.Invalidate(ctx, key))
	_, ok, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err = c.SetIfGeneration(ctx, key, gen, []byte(`{"count":0}`))
	require.NoError(t, err)
	assert.False(t, stored)
}
