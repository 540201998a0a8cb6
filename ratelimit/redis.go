package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/coinhaven/depositd/core"
)

// slidingWindowScript runs the whole check-and-admit as one atomic unit on
// the server. A read-then-write window check from the client races across
// instances; two concurrent requests could both slip past the limit.
// Returns {allowed, remaining, retry_after_ms}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
if count >= max then
  local retry = window
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  if oldest[2] then
    retry = (tonumber(oldest[2]) + window) - now
  end
  if retry < 1000 then
    retry = 1000
  end
  return {0, 0, retry}
end
redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window)
return {1, max - count - 1, 0}
`)

const redisKeyPrefix = "depositd:ratelimit:"

// RedisLimiter is the distributed backend for multi-instance deployments.
type RedisLimiter struct {
	client      *redis.Client
	window      time.Duration
	maxRequests int

	Now func() time.Time
}

func NewRedisLimiter(client *redis.Client, window time.Duration, maxRequests int) (*RedisLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("ratelimit: redis client is required")
	}
	if window <= 0 {
		return nil, fmt.Errorf("ratelimit: window must be positive")
	}
	if maxRequests <= 0 {
		return nil, fmt.Errorf("ratelimit: max requests must be positive")
	}
	return &RedisLimiter{
		client:      client,
		window:      window,
		maxRequests: maxRequests,
		Now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

func (l *RedisLimiter) Allow(ctx context.Context, identity string) (Decision, error) {
	if l == nil || l.client == nil {
		return Decision{}, fmt.Errorf("ratelimit: redis limiter is not initialized")
	}
	now := l.Now().UnixMilli()
	member := strconv.FormatInt(now, 10) + ":" + uuid.NewString()

	raw, err := slidingWindowScript.Run(ctx, l.client,
		[]string{redisKeyPrefix + identity},
		now,
		l.window.Milliseconds(),
		l.maxRequests,
		member,
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: window script failed: %w", err)
	}

	values, ok := raw.([]any)
	if !ok || len(values) != 3 {
		return Decision{}, fmt.Errorf("ratelimit: unexpected script reply %T", raw)
	}
	allowed, _ := values[0].(int64)
	remaining, _ := values[1].(int64)
	retryMs, _ := values[2].(int64)

	return Decision{
		Allowed:    allowed == 1,
		Remaining:  int(remaining),
		RetryAfter: time.Duration(retryMs) * time.Millisecond,
	}, nil
}

// FailoverLimiter runs a distributed primary and degrades to the local
// fallback when the backend errors. Infrastructure failure fails open to
// local limiting; quota exhaustion always fails closed.
type FailoverLimiter struct {
	primary  Limiter
	fallback Limiter
	logger   core.Logger
}

func NewFailoverLimiter(primary Limiter, fallback Limiter, logger core.Logger) (*FailoverLimiter, error) {
	if fallback == nil {
		return nil, fmt.Errorf("ratelimit: fallback limiter is required")
	}
	return &FailoverLimiter{
		primary:  primary,
		fallback: fallback,
		logger:   glog.Ensure(logger),
	}, nil
}

func (l *FailoverLimiter) Allow(ctx context.Context, identity string) (Decision, error) {
	if l == nil {
		return Decision{}, fmt.Errorf("ratelimit: failover limiter is not initialized")
	}
	if l.primary != nil {
		decision, err := l.primary.Allow(ctx, identity)
		if err == nil {
			return decision, nil
		}
		l.logger.WithContext(ctx).Warn("distributed rate limiter unavailable, using local fallback",
			"error", err.Error(),
		)
	}
	return l.fallback.Allow(ctx, identity)
}

var (
	_ Limiter = (*LocalLimiter)(nil)
	_ Limiter = (*RedisLimiter)(nil)
	_ Limiter = (*FailoverLimiter)(nil)
)
