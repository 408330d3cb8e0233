package service

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	redisURL := os.Getenv("TEST_REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379/15"
	}
	opts, err := redis.ParseURL(redisURL)
	require.NoError(t, err)

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skip("Redis not available for testing")
	}
	client.FlushDB(context.Background())
	return client
}

func TestRateLimiter_Basic(t *testing.T) {
	redisClient := setupTestRedis(t)
	defer redisClient.Close()

	ctx := context.Background()
	limiter := NewRateLimiter(redisClient)

	t.Run("allows requests within limit", func(t *testing.T) {
		key := "code:10.0.0.1"
		limit := 3
		window := 10 * time.Second

		for i := 0; i < limit; i++ {
			allowed, _ := limiter.CheckLimit(ctx, key, limit, window)
			assert.True(t, allowed, "Request %d should be allowed", i+1)
		}

		allowed, resetAt := limiter.CheckLimit(ctx, key, limit, window)
		assert.False(t, allowed, "Request should be rate limited")
		assert.True(t, resetAt.After(time.Now()), "Reset time should be in future")
	})

	t.Run("sliding window behavior", func(t *testing.T) {
		key := "code:10.0.0.2"
		limit := 2
		window := 2 * time.Second

		allowed, _ := limiter.CheckLimit(ctx, key, limit, window)
		assert.True(t, allowed)
		allowed, _ = limiter.CheckLimit(ctx, key, limit, window)
		assert.True(t, allowed)

		allowed, _ = limiter.CheckLimit(ctx, key, limit, window)
		assert.False(t, allowed)

		time.Sleep(2100 * time.Millisecond)

		allowed, _ = limiter.CheckLimit(ctx, key, limit, window)
		assert.True(t, allowed)
	})

	t.Run("different keys are independent", func(t *testing.T) {
		limit := 1
		window := 10 * time.Second

		allowed, _ := limiter.CheckLimit(ctx, "activation:10.0.0.3", limit, window)
		assert.True(t, allowed)
		allowed, _ = limiter.CheckLimit(ctx, "activation:10.0.0.3", limit, window)
		assert.False(t, allowed)

		allowed, _ = limiter.CheckLimit(ctx, "activation:10.0.0.4", limit, window)
		assert.True(t, allowed)
	})
}

func TestRateLimiter_FailsClosed(t *testing.T) {
	invalidClient := redis.NewClient(&redis.Options{
		Addr:        "localhost:9999",
		DialTimeout: 100 * time.Millisecond,
	})
	defer invalidClient.Close()

	limiter := NewRateLimiter(invalidClient)

	allowed, resetAt := limiter.CheckLimit(context.Background(), "code:10.0.0.5", 1, time.Minute)
	require.False(t, allowed, "Redis failure must deny code attempts")
	require.True(t, resetAt.After(time.Now()), "Should return valid reset time")
}
