//go:build integration

package lease

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getTestRedis(t *testing.T) redis.UniversalClient {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6380"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("Failed to ping redis: %v", err)
	}
	return client
}

func TestRedisLocker_TryLock_Integration(t *testing.T) {
	client := getTestRedis(t)
	defer client.Close()

	ctx := context.Background()
	prefix := "test:" + uuid.NewString() + ":"
	first := NewRedisLocker(client, prefix, zerolog.Nop())
	second := NewRedisLocker(client, prefix, zerolog.Nop())

	acquired, release, err := first.TryLock(ctx, "s1", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	acquired, _, err = second.TryLock(ctx, "s1", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)

	locked, err := second.IsLocked(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, locked)

	release()

	acquired, releaseSecond, err := second.TryLock(ctx, "s1", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	// releasing an expired holder's token must not free someone else's lease
	release()
	locked, err = first.IsLocked(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, locked)

	releaseSecond()
}
