package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultMaxAttempts = 5
	defaultCooldown    = 15 * time.Minute
)

// Config holds limiter tuning. Zero fields fall back to 5 attempts and a
// 15 minute cooldown.
type Config struct {
	MaxAttempts int
	Cooldown    time.Duration
}

// Limiter enforces a failed-attempt budget per subject.
type Limiter struct {
	redis       redis.UniversalClient
	prefix      string
	maxAttempts int64
	cooldown    time.Duration
}

// Status is the budget of one subject after a check or a failure.
type Status struct {
	Failures   int
	Max        int
	RetryAfter time.Duration
}

// Limited reports whether the subject is locked out.
func (s Status) Limited() bool {
	return s.Failures >= s.Max
}

// New creates a Limiter backed by redisClient.
func New(redisClient redis.UniversalClient, prefix string, cfg Config) *Limiter {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	return &Limiter{
		redis:       redisClient,
		prefix:      prefix,
		maxAttempts: int64(maxAttempts),
		cooldown:    cooldown,
	}
}

func (l *Limiter) key(subject string) string {
	return l.prefix + ":att:" + subject
}

// Check returns ErrRateLimited, with the remaining lockout in Status, when
// subject has no attempts left.
func (l *Limiter) Check(ctx context.Context, subject string) (Status, error) {
	count, err := l.redis.Get(ctx, l.key(subject)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Status{Max: int(l.maxAttempts)}, nil
		}
		return Status{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	st := Status{Failures: int(count), Max: int(l.maxAttempts)}
	if count < l.maxAttempts {
		return st, nil
	}
	if st.RetryAfter, err = l.ttl(ctx, subject); err != nil {
		return Status{}, err
	}
	return st, ErrRateLimited
}

// RecordFailure counts one failed attempt. The returned error is
// ErrRateLimited when this failure used up the budget.
func (l *Limiter) RecordFailure(ctx context.Context, subject string) (Status, error) {
	key := l.key(subject)
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.cooldown).Err(); err != nil {
			return Status{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	st := Status{Failures: int(count), Max: int(l.maxAttempts)}
	if count < l.maxAttempts {
		return st, nil
	}
	if st.RetryAfter, err = l.ttl(ctx, subject); err != nil {
		return Status{}, err
	}
	return st, ErrRateLimited
}

// Reset clears the subject's failures.
func (l *Limiter) Reset(ctx context.Context, subject string) error {
	if err := l.redis.Del(ctx, l.key(subject)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *Limiter) ttl(ctx context.Context, subject string) (time.Duration, error) {
	d, err := l.redis.PTTL(ctx, l.key(subject)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if d < 0 {
		// Key without expiry or already gone.
		return 0, nil
	}
	return d, nil
}
