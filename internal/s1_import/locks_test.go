package s1_import

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/heatrank/backend/internal/contracts"
	"github.com/wonny/heatrank/backend/pkg/redis"
)

func TestMemoryLocks(t *testing.T) {
	ctx := context.Background()
	locks := NewMemoryLocks()
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	release, err := locks.TryLock(ctx, contracts.ImportTypeHeat, day)
	require.NoError(t, err)

	_, err = locks.TryLock(ctx, contracts.ImportTypeHeat, day)
	var conflict *contracts.WriteConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, contracts.ImportTypeHeat, conflict.ImportType)

	// other type and other date are independent
	r2, err := locks.TryLock(ctx, contracts.ImportTypeVolume, day)
	require.NoError(t, err)
	r3, err := locks.TryLock(ctx, contracts.ImportTypeHeat, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	r2()
	r3()

	release()
	release() // second release is a no-op

	again, err := locks.TryLock(ctx, contracts.ImportTypeHeat, day)
	require.NoError(t, err)
	again()
}

func TestRedisLocks_DisabledAlwaysGrants(t *testing.T) {
	locks := NewRedisLocks(redis.NewLocker(redis.NewFromRedis(nil), "test"), 0)
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	r1, err := locks.TryLock(context.Background(), contracts.ImportTypeHeat, day)
	require.NoError(t, err)
	r2, err := locks.TryLock(context.Background(), contracts.ImportTypeHeat, day)
	require.NoError(t, err)
	r1()
	r2()
}
