// Package ratelimit limits how often a user may publish chat messages, using
// a Redis sliding window shared by every server process.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds the publish limit.
type Config struct {
	// MessagesPerWindow is the maximum number of publishes allowed in the window.
	MessagesPerWindow int
	// WindowSize is the duration of the sliding window.
	WindowSize time.Duration
	// KeyPrefix namespaces the Redis keys.
	KeyPrefix string
}

// DefaultConfig allows 20 messages per 10 seconds per sender.
func DefaultConfig() Config {
	return Config{
		MessagesPerWindow: 20,
		WindowSize:        10 * time.Second,
		KeyPrefix:         "chat:publish:",
	}
}

// Result is the outcome of a rate limit check.
type Result struct {
	Allowed    bool          `json:"allowed"`
	Remaining  int           `json:"remaining"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// slidingWindowScript trims the window, counts what is left and records the
// new publish when under the limit, atomically.
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local counter_key = KEYS[2]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local window_size_ms = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

	local count = redis.call('ZCARD', key)

	if count < limit then
		local counter = redis.call('INCR', counter_key)
		redis.call('ZADD', key, now, now .. ':' .. counter)
		redis.call('PEXPIRE', key, window_size_ms)
		redis.call('PEXPIRE', counter_key, window_size_ms)
		return {1, limit - count - 1, 0}
	else
		local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
		local retry_after = 0
		if #oldest >= 2 then
			retry_after = oldest[2] + window_size_ms - now
		end
		return {0, 0, retry_after}
	end
`)

// SlidingWindowLimiter counts publishes per sender in a Redis sorted set.
type SlidingWindowLimiter struct {
	client redis.Cmdable
	config Config
	now    func() time.Time
}

// NewSlidingWindowLimiter creates a limiter on top of a Redis client.
func NewSlidingWindowLimiter(client redis.Cmdable, config Config) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		client: client,
		config: config,
		now:    time.Now,
	}
}

// Allow records a publish by key if it fits in the current window.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string) (Result, error) {
	now := l.now()
	windowStart := now.Add(-l.config.WindowSize)
	redisKey := l.config.KeyPrefix + key

	raw, err := slidingWindowScript.Run(ctx, l.client, []string{redisKey, redisKey + ":counter"},
		now.UnixMilli(),
		windowStart.UnixMilli(),
		l.config.MessagesPerWindow,
		l.config.WindowSize.Milliseconds(),
	).Slice()
	if err != nil {
		return Result{}, fmt.Errorf("failed to run rate limit script: %w", err)
	}
	return parseResult(raw)
}

func parseResult(raw []any) (Result, error) {
	if len(raw) < 3 {
		return Result{}, fmt.Errorf("unexpected result length: %d", len(raw))
	}

	values := make([]int64, 3)
	for i := range values {
		v, ok := raw[i].(int64)
		if !ok {
			return Result{}, fmt.Errorf("unexpected type at %d: %T", i, raw[i])
		}
		values[i] = v
	}

	res := Result{
		Allowed:   values[0] == 1,
		Remaining: int(values[1]),
	}
	if !res.Allowed && values[2] > 0 {
		res.RetryAfter = time.Duration(values[2]) * time.Millisecond
	}
	return res, nil
}
