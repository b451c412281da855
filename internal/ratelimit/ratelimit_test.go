package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/orderbridge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNilLockerGrantsLock(t *testing.T) {
	var l *Locker
	lease, ok, err := l.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, lease.Release(context.Background()))
}

func TestDisabledWebhookLimiterAdmits(t *testing.T) {
	l := NewWebhookLimiter(config.Config{}, nil, zaptest.NewLogger(t))
	assert.False(t, l.Enabled())
	assert.True(t, l.Allow(context.Background(), "gopay").Allowed)
}

func TestRetryAfter(t *testing.T) {
	assert.Zero(t, retryAfter(true, 0, 10))
	assert.Equal(t, 100*time.Millisecond, retryAfter(false, 0, 10))
	assert.Equal(t, 50*time.Millisecond, retryAfter(false, 0.5, 10))
}

func TestBucketTTL(t *testing.T) {
	assert.Equal(t, 8*time.Second, bucketTTL(10, 40))
	assert.Equal(t, time.Second, bucketTTL(100, 1))
	assert.Equal(t, time.Second, bucketTTL(0, 1))
}

func TestScriptValueConversion(t *testing.T) {
	assert.Equal(t, int64(1), toInt(int64(1)))
	assert.Equal(t, int64(7), toInt("7"))
	assert.Equal(t, 2.5, toFloat("2.5"))
	assert.Equal(t, 3.0, toFloat(int64(3)))
}

func TestRedisLockAndBucket(t *testing.T) {
	addr := os.Getenv("ORDERBRIDGE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ORDERBRIDGE_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()
	require.NoError(t, client.FlushDB(ctx).Err())

	locker := NewLocker(client)
	lease, ok, err := locker.Acquire(ctx, "lock:a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = locker.Acquire(ctx, "lock:a", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, lease.Release(ctx))
	_, ok, err = locker.Acquire(ctx, "lock:a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	bucket := NewTokenBucket(client)
	first, err := bucket.Allow(ctx, "bucket:a", 0.001, 1)
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	second, err := bucket.Allow(ctx, "bucket:a", 0.001, 1)
	require.NoError(t, err)
	assert.False(t, second.Allowed)
	assert.Positive(t, second.RetryAfter)
}
