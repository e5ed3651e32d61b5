package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// DistributedRateLimiter is a sliding window limiter shared by every
// instance through Redis. Each key is a sorted set of request timestamps.
type DistributedRateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	prefix string
	now    func() time.Time
}

// NewDistributedRateLimiter creates a new Redis-backed rate limiter
func NewDistributedRateLimiter(redisClient *redis.Client, config *RateLimitConfig, prefix string) *DistributedRateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "ratelimit"
	}

	return &DistributedRateLimiter{
		redis:  redisClient,
		config: config,
		prefix: prefix,
		now:    time.Now,
	}
}

func (rl *DistributedRateLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", rl.prefix, key)
}

// slidingWindow drops timestamps older than the window, records the request
// when under the limit and returns {allowed, count, oldest timestamp}.
// Scores are unix milliseconds.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
	redis.call('ZADD', key, now, ARGV[4])
	count = count + 1
	allowed = 1
end
redis.call('PEXPIRE', key, window)

local oldest = now
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if first[2] then
	oldest = tonumber(first[2])
end
return {allowed, count, oldest}
`)

// Allow records the request in the window of key ending now. The burst
// size is added to the window limit.
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := rl.now().UnixMilli()
	window := rl.config.WindowDuration.Milliseconds()
	limit := rl.config.RequestsPerWindow + rl.config.BurstSize

	reply, err := slidingWindow.Run(ctx, rl.redis, []string{rl.key(key)},
		now, window, limit, uuid.NewString(),
	).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis error: %w", err)
	}
	res := make([]int64, 0, 3)
	for _, v := range reply {
		n, ok := v.(int64)
		if !ok {
			break
		}
		res = append(res, n)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("unexpected rate limit reply %v", reply)
	}

	remaining := limit - int(res[1])
	if remaining < 0 {
		remaining = 0
	}
	reset := time.Duration(res[2]+window-now) * time.Millisecond
	if reset <= 0 {
		reset = rl.config.WindowDuration
	}

	return Decision{
		Allowed:   res[0] == 1,
		Limit:     rl.config.RequestsPerWindow,
		Remaining: remaining,
		Reset:     reset,
	}, nil
}

// TTL returns the time until the window of key expires when idle
func (rl *DistributedRateLimiter) TTL(ctx context.Context, key string) (time.Duration, error) {
	return rl.redis.TTL(ctx, rl.key(key)).Result()
}

// Reset clears the window of key
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, rl.key(key)).Err()
}
