package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Delivery limit windows.
const (
	WindowHour = "hour"
	WindowDay  = "day"
)

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	// Window names the window that rejected the request, if any.
	Window string
}

// RateLimiter implements sliding window rate limiting using Redis sorted
// sets. Limits are supplied per call so each user can carry their own.
type RateLimiter struct {
	client *Client
	logger *zap.Logger
	now    func() time.Time
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(client *Client, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock replaces the limiter's time source.
func (r *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	r.now = now
	return r
}

// Allow checks if one request is allowed under limit per window.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (*RateLimitResult, error) {
	return r.AllowN(ctx, key, limit, window, 1)
}

// AllowN checks if n requests are allowed under limit per window and
// records them when they are.
func (r *RateLimiter) AllowN(ctx context.Context, key string, limit int, window time.Duration, n int) (*RateLimitResult, error) {
	now := r.now()
	redisKey := fmt.Sprintf("ratelimit:%s", key)

	pipe := r.client.rdb.Pipeline()
	countCmd := trimAndCount(ctx, pipe, redisKey, now.Add(-window))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis pipeline failed: %w", err)
	}

	currentCount := int(countCmd.Val())
	remaining := limit - currentCount
	resetAt := now.Add(window)

	if currentCount+n > limit {
		r.logger.Debug("rate limit exceeded",
			zap.String("key", key),
			zap.Int("current", currentCount),
			zap.Int("limit", limit),
		)
		return &RateLimitResult{
			Allowed:   false,
			Remaining: max(0, remaining),
			ResetAt:   resetAt,
		}, nil
	}

	pipe = r.client.rdb.Pipeline()
	record(ctx, pipe, redisKey, now, window, n)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis zadd failed: %w", err)
	}

	return &RateLimitResult{
		Allowed:   true,
		Remaining: remaining - n,
		ResetAt:   resetAt,
	}, nil
}

// deliveryScript trims both delivery windows, checks both limits and records
// the send in one step. It returns {allowed, hourCount, dayCount, rejectedBy}
// where rejectedBy is 1 for the hourly window and 2 for the daily one. Scores
// stay strings so Lua never rounds the nanosecond timestamps.
var deliveryScript = redis.NewScript(`
redis.call("ZREMRANGEBYSCORE", KEYS[1], "0", ARGV[1])
redis.call("ZREMRANGEBYSCORE", KEYS[2], "0", ARGV[2])
local hour = redis.call("ZCARD", KEYS[1])
local day = redis.call("ZCARD", KEYS[2])
local maxHour = tonumber(ARGV[3])
local maxDay = tonumber(ARGV[4])
if maxHour > 0 and hour >= maxHour then
	return {0, hour, day, 1}
end
if maxDay > 0 and day >= maxDay then
	return {0, hour, day, 2}
end
redis.call("ZADD", KEYS[1], ARGV[5], ARGV[6])
redis.call("PEXPIRE", KEYS[1], ARGV[7])
redis.call("ZADD", KEYS[2], ARGV[5], ARGV[6])
redis.call("PEXPIRE", KEYS[2], ARGV[8])
return {1, hour, day, 0}
`)

// AllowDelivery enforces a user's hourly and daily real-time delivery
// limits together. A send is recorded against both windows only when both
// have room. A non-positive limit disables that window.
func (r *RateLimiter) AllowDelivery(ctx context.Context, owner string, maxPerHour, maxPerDay int) (*RateLimitResult, error) {
	now := r.now()
	// The hash tag keeps both windows in one cluster slot.
	keys := []string{
		fmt.Sprintf("ratelimit:delivery:{%s}:hour", owner),
		fmt.Sprintf("ratelimit:delivery:{%s}:day", owner),
	}
	args := []any{
		fmt.Sprintf("%d", now.Add(-time.Hour).UnixNano()),
		fmt.Sprintf("%d", now.Add(-24*time.Hour).UnixNano()),
		maxPerHour,
		maxPerDay,
		fmt.Sprintf("%d", now.UnixNano()),
		fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString()),
		(time.Hour + time.Second).Milliseconds(),
		(24*time.Hour + time.Second).Milliseconds(),
	}

	res, err := deliveryScript.Run(ctx, r.client.rdb, keys, args...).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("redis delivery limit failed: %w", err)
	}
	if len(res) != 4 {
		return nil, fmt.Errorf("redis delivery limit: unexpected reply %v", res)
	}

	hour, day := int(res[1]), int(res[2])
	switch res[3] {
	case 1:
		r.logger.Debug("delivery rate limit exceeded",
			zap.String("owner", owner),
			zap.String("window", WindowHour),
			zap.Int("current", hour),
		)
		return &RateLimitResult{Allowed: false, ResetAt: now.Add(time.Hour), Window: WindowHour}, nil
	case 2:
		r.logger.Debug("delivery rate limit exceeded",
			zap.String("owner", owner),
			zap.String("window", WindowDay),
			zap.Int("current", day),
		)
		return &RateLimitResult{Allowed: false, ResetAt: now.Add(24 * time.Hour), Window: WindowDay}, nil
	}

	remaining := -1
	if maxPerHour > 0 {
		remaining = maxPerHour - hour - 1
	}
	if maxPerDay > 0 && (remaining < 0 || maxPerDay-day-1 < remaining) {
		remaining = maxPerDay - day - 1
	}
	return &RateLimitResult{Allowed: res[0] == 1, Remaining: max(0, remaining), ResetAt: now.Add(time.Hour)}, nil
}

func trimAndCount(ctx context.Context, pipe redis.Pipeliner, key string, windowStart time.Time) *redis.IntCmd {
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	return pipe.ZCard(ctx, key)
}

func record(ctx context.Context, pipe redis.Pipeliner, key string, now time.Time, window time.Duration, n int) {
	for i := 0; i < n; i++ {
		score := float64(now.UnixNano()) + float64(i)
		member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())
		pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: member})
	}
	pipe.Expire(ctx, key, window+time.Second)
}
