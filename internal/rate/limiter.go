package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRateLimited is returned once a key exceeded its budget for the window.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps counter read/write failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// Config holds the budget of one scope.
type Config struct {
	Prefix   string
	Scope    string
	Limit    int
	Window   time.Duration
	PerIP    bool
	Disabled bool
}

// Limiter enforces one fixed-window budget per identifier and, when PerIP
// is set, per client address.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) (*Limiter, error) {
	if redisClient == nil {
		return nil, errors.New("rate: redis client is nil")
	}
	if !cfg.Disabled && (cfg.Limit <= 0 || cfg.Window <= 0) {
		return nil, errors.New("rate: Limit and Window must be > 0")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "farmtrak:rl"
	}
	if cfg.Scope == "" {
		cfg.Scope = "default"
	}
	return &Limiter{redis: redisClient, config: cfg}, nil
}

// Allow records one attempt for id (and ip) and returns [ErrRateLimited]
// when either counter is over budget. A nil limiter allows everything.
func (l *Limiter) Allow(ctx context.Context, id, ip string) error {
	if l == nil || l.config.Disabled {
		return nil
	}

	if err := l.hit(ctx, l.key("id", id)); err != nil {
		return err
	}
	if l.config.PerIP && ip != "" {
		if err := l.hit(ctx, l.key("ip", ip)); err != nil {
			return err
		}
	}
	return nil
}

// Reset clears the identifier counter, e.g. after a successful attempt.
func (l *Limiter) Reset(ctx context.Context, id string) error {
	if l == nil || l.config.Disabled {
		return nil
	}
	if err := l.redis.Del(ctx, l.key("id", id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Attempts returns the identifier counter in the current window.
// Missing keys return zero.
func (l *Limiter) Attempts(ctx context.Context, id string) (int, error) {
	if l == nil {
		return 0, nil
	}
	count, err := l.redis.Get(ctx, l.key("id", id)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) hit(ctx context.Context, key string) error {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	if count > int64(l.config.Limit) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) key(kind, id string) string {
	return l.config.Prefix + ":" + l.config.Scope + ":" + kind + ":" + id
}
