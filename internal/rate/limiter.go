package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "gosession:rate:"

// Window is a fixed-window counter kept in Redis, so every client using the
// same key shares one budget.
type Window struct {
	redis   redis.UniversalClient
	key     string
	max     int
	window  time.Duration
	timeout time.Duration

	// OnError observes Redis failures. Allow treats them as allowed.
	OnError func(error)
}

// NewWindow allows max hits per window under key.
func NewWindow(client redis.UniversalClient, key string, max int, window time.Duration) *Window {
	if max <= 0 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Window{
		redis:   client,
		key:     keyPrefix + key,
		max:     max,
		window:  window,
		timeout: 2 * time.Second,
	}
}

// Key returns the Redis key holding the counter.
func (w *Window) Key() string { return w.key }

// Hit records one event and fails with [ErrRateLimited] once the window's
// budget is spent.
func (w *Window) Hit(ctx context.Context) error {
	count, err := w.redis.Incr(ctx, w.key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := w.redis.Expire(ctx, w.key, w.window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	if count > int64(w.max) {
		return ErrRateLimited
	}
	return nil
}

// Allow is [Window.Hit] with its own timeout. Redis trouble does not block
// the caller; the provider enforces its own limits.
func (w *Window) Allow(time.Time) bool {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	err := w.Hit(ctx)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrRateLimited):
		return false
	}
	if w.OnError != nil {
		w.OnError(err)
	}
	return true
}

// Count returns the hits recorded in the current window.
func (w *Window) Count(ctx context.Context) (int, error) {
	count, err := w.redis.Get(ctx, w.key).Int64()
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

// Reset clears the window.
func (w *Window) Reset(ctx context.Context) error {
	if err := w.redis.Del(ctx, w.key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
