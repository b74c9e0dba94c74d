//go:build integration

package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"crmflow/internal/logger"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:8.4.0-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opt, err := redis.ParseURL(uri)
	require.NoError(t, err)

	client := redis.NewClient(opt)
	t.Cleanup(func() { client.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, client.Ping(pingCtx).Err())
	return client
}

func TestRedisLeaseAcrossWorkers(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	// each worker has its own locker over the shared server
	workers := make([]*RedisLocker, 8)
	for i := range workers {
		workers[i] = NewRedisLocker(client, logger.NopLogger())
	}

	var granted atomic.Int32
	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(l *RedisLocker) {
			defer wg.Done()
			lease, err := l.Acquire(ctx, "cadence-due", time.Minute)
			if err == nil && lease != nil {
				granted.Add(1)
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, int32(1), granted.Load())
}

func TestRedisLeaseExpiryAndStaleRelease(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	first := NewRedisLocker(client, logger.NopLogger())
	second := NewRedisLocker(client, logger.NopLogger())

	stale, err := first.Acquire(ctx, "deferred-executions", 500*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, stale)

	time.Sleep(time.Second)

	fresh, err := second.Acquire(ctx, "deferred-executions", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, fresh)

	assert.ErrorIs(t, stale.Release(ctx), ErrNotHeld)
	require.NoError(t, fresh.Release(ctx))

	again, err := first.Acquire(ctx, "deferred-executions", time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, again)
}
