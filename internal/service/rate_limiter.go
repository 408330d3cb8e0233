package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// slidingWindowScript keeps one sorted-set member per admitted request,
// scored by its millisecond timestamp. ARGV[4] makes members unique when
// two requests share a millisecond.
//
// Returns {allowed, resetAtMs}.
var slidingWindowScript = redis.NewScript(`
local key    = KEYS[1]
local now    = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit  = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

if redis.call('ZCARD', key) >= limit then
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    if #oldest >= 2 then
        return {0, tonumber(oldest[2]) + window}
    end
    return {0, now + window}
end

redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window + 1000)
return {1, now + window}
`)

const rateLimitKeyPrefix = "checkout:ratelimit:"

// RateLimiter is a Redis sliding window shared by every server instance.
// It fails closed: when Redis cannot answer, the request is denied, since
// the limited endpoints guard code guessing.
type RateLimiter struct {
	client redis.Scripter
}

func NewRateLimiter(client redis.Scripter) *RateLimiter {
	return &RateLimiter{client: client}
}

// CheckLimit admits the request under key if fewer than limit requests were
// admitted in the trailing window, and reports when a slot frees up.
func (rl *RateLimiter) CheckLimit(
	ctx context.Context,
	key string,
	limit int,
	window time.Duration,
) (allowed bool, resetAt time.Time) {
	now := time.Now()
	nowMs := now.UnixMilli()

	result, err := slidingWindowScript.Run(
		ctx,
		rl.client,
		[]string{rateLimitKeyPrefix + key},
		nowMs,
		window.Milliseconds(),
		limit,
		now.UnixNano(),
	).Int64Slice()

	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("rate limit check failed, denying request")
		return false, now.Add(window)
	}
	if len(result) != 2 {
		log.Warn().Str("key", key).Int("len", len(result)).Msg("unexpected rate limit result, denying request")
		return false, now.Add(window)
	}

	return result[0] == 1, time.UnixMilli(result[1])
}
