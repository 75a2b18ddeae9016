package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter limits attempts per key (an IP address or a user ID) using
// Redis INCR + EXPIRE. One instance backs one named limit; the server
// constructs a separate instance per limit (login, API, sandbox create) so
// their counters never collide in Redis.
type RateLimiter struct {
	redis      *redis.Client
	keyPrefix  string
	maxAttempt int
	window     time.Duration
}

// NewRateLimiter creates a rate limiter. keyPrefix namespaces this limiter's
// Redis keys from any other limiter sharing the same client. maxAttempt is
// the max attempts allowed per key within the given window.
func NewRateLimiter(rdb *redis.Client, keyPrefix string, maxAttempt int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		redis:      rdb,
		keyPrefix:  keyPrefix,
		maxAttempt: maxAttempt,
		window:     window,
	}
}

// RateLimitResult holds the result of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	RetryAt   time.Time
}

// Check returns whether the given key is allowed another attempt.
func (rl *RateLimiter) Check(ctx context.Context, id string) (*RateLimitResult, error) {
	key := fmt.Sprintf("ratelimit:%s:%s", rl.keyPrefix, id)

	count, err := rl.redis.Get(ctx, key).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("checking rate limit: %w", err)
	}

	if count >= rl.maxAttempt {
		ttl, err := rl.redis.TTL(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("getting TTL: %w", err)
		}
		return &RateLimitResult{
			Allowed:   false,
			Remaining: 0,
			RetryAt:   time.Now().Add(ttl),
		}, nil
	}

	return &RateLimitResult{
		Allowed:   true,
		Remaining: rl.maxAttempt - count,
	}, nil
}

// Record records one attempt against the given key.
func (rl *RateLimiter) Record(ctx context.Context, id string) error {
	key := fmt.Sprintf("ratelimit:%s:%s", rl.keyPrefix, id)

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("recording rate limit: %w", err)
	}

	// Only set the expiry on the first increment.
	if incr.Val() == 1 {
		rl.redis.Expire(ctx, key, rl.window)
	}

	return nil
}

// Reset clears the rate limit counter for a given key (on successful login).
func (rl *RateLimiter) Reset(ctx context.Context, id string) error {
	key := fmt.Sprintf("ratelimit:%s:%s", rl.keyPrefix, id)
	return rl.redis.Del(ctx, key).Err()
}
