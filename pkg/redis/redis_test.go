package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/heatrank/backend/pkg/config"
)

func disabledClient(t *testing.T) *Client {
	t.Helper()
	client, err := New(&config.Config{Redis: config.RedisConfig{Enabled: false}})
	require.NoError(t, err)
	return client
}

func TestNewClient_Disabled(t *testing.T) {
	client := disabledClient(t)
	assert.False(t, client.Enabled())
	assert.NoError(t, client.Close())
}

func TestRateLimiter_Disabled(t *testing.T) {
	limiter := NewRateLimiter(disabledClient(t), "test")

	allowed, remaining, err := limiter.Allow(context.Background(), ConceptFeedRateLimit)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, ConceptFeedRateLimit.Limit, remaining)
	assert.NoError(t, limiter.Wait(context.Background(), ConceptFeedRateLimit))
}

func TestCache_Disabled(t *testing.T) {
	cache := NewCache(disabledClient(t), "test")
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "key", "value", TTLShort))

	var result string
	found, err := cache.Get(ctx, "key", &result)
	require.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, cache.Delete(ctx, "key"))
}

func TestLocker_Disabled(t *testing.T) {
	locker := NewLocker(disabledClient(t), "test")

	_, ok, err := locker.Acquire(context.Background(), "heat:2024-01-15", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, locker.Release(context.Background(), "heat:2024-01-15", ""))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "concepts:members", MembershipKey())
	assert.Equal(t, "summary:heat:2024-01-15", SummaryKey("heat", "2024-01-15"))
	assert.Equal(t, "p:lock:x", NewLocker(nil, "p").key("x"))
	assert.Equal(t, "p:cache:x", NewCache(nil, "p").key("x"))
}
