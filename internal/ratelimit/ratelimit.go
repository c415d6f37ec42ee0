// Package ratelimit throttles submissions with a token bucket kept in Redis,
// so every API replica shares the same budget per client.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Refills the bucket for the time elapsed since the last refill, then takes
// one token if there is one.
var allowScript = redis.NewScript(`
	local key = KEYS[1]
	local capacity = tonumber(ARGV[1])
	local refill_rate = tonumber(ARGV[2])
	local window = tonumber(ARGV[3])
	local now = tonumber(ARGV[4])

	local bucket = redis.call('HMGET', key, 'tokens', 'last_refill')
	local tokens = tonumber(bucket[1]) or capacity
	local last_refill = tonumber(bucket[2]) or now

	local tokens_to_add = math.floor(((now - last_refill) / window) * refill_rate)
	if tokens_to_add > 0 then
		tokens = math.min(capacity, tokens + tokens_to_add)
		last_refill = now
	end

	local allowed = 0
	if tokens > 0 then
		tokens = tokens - 1
		allowed = 1
	end

	redis.call('HSET', key, 'tokens', tokens, 'last_refill', last_refill)
	redis.call('EXPIRE', key, window * 2)
	return allowed
`)

var remainingScript = redis.NewScript(`
	local key = KEYS[1]
	local capacity = tonumber(ARGV[1])
	local refill_rate = tonumber(ARGV[2])
	local window = tonumber(ARGV[3])
	local now = tonumber(ARGV[4])

	local bucket = redis.call('HMGET', key, 'tokens', 'last_refill')
	local tokens = tonumber(bucket[1]) or capacity
	local last_refill = tonumber(bucket[2]) or now

	local tokens_to_add = math.floor(((now - last_refill) / window) * refill_rate)
	if tokens_to_add > 0 then
		tokens = math.min(capacity, tokens + tokens_to_add)
	end
	return tokens
`)

// TokenBucket represents a token bucket rate limiter
type TokenBucket struct {
	redis    *redis.Client
	prefix   string
	capacity int64         // Maximum number of tokens
	refill   int64         // Number of tokens to refill per window
	window   time.Duration // Time window for refilling (1 minute)
	now      func() time.Time
}

// NewTokenBucket creates a limiter allowing capacity requests per client and
// refilling refillRate tokens per minute.
func NewTokenBucket(redisClient *redis.Client, prefix string, capacity, refillRate int64) *TokenBucket {
	return &TokenBucket{
		redis:    redisClient,
		prefix:   prefix,
		capacity: capacity,
		refill:   refillRate,
		window:   time.Minute,
		now:      time.Now,
	}
}

func (tb *TokenBucket) key(client, action string) string {
	return fmt.Sprintf("%srate_limit:%s:%s", tb.prefix, client, action)
}

func (tb *TokenBucket) args() []interface{} {
	return []interface{}{tb.capacity, tb.refill, int64(tb.window.Seconds()), tb.now().Unix()}
}

// Capacity is the burst size of the bucket.
func (tb *TokenBucket) Capacity() int64 {
	return tb.capacity
}

// Window is the refill period.
func (tb *TokenBucket) Window() time.Duration {
	return tb.window
}

// Allow takes a token for client's action and reports whether one was available.
func (tb *TokenBucket) Allow(ctx context.Context, client, action string) (bool, error) {
	allowed, err := allowScript.Run(ctx, tb.redis, []string{tb.key(client, action)}, tb.args()...).Int64()
	if err != nil {
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}
	return allowed == 1, nil
}

// GetRemaining returns the number of tokens left without consuming one.
func (tb *TokenBucket) GetRemaining(ctx context.Context, client, action string) (int64, error) {
	remaining, err := remainingScript.Run(ctx, tb.redis, []string{tb.key(client, action)}, tb.args()...).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to get remaining tokens: %w", err)
	}
	return remaining, nil
}

// Reset clears the bucket of client's action.
func (tb *TokenBucket) Reset(ctx context.Context, client, action string) error {
	return tb.redis.Del(ctx, tb.key(client, action)).Err()
}
