package otp

import (
	"time"

	"golang.org/x/time/rate"
)

// ResendLimiter gates resends beyond the fixed cooldown.
type ResendLimiter interface {
	Allow(now time.Time) bool
}

// TokenBucket is a [ResendLimiter] backed by golang.org/x/time/rate.
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket allows burst resends and refills one every interval.
func NewTokenBucket(interval time.Duration, burst int) *TokenBucket {
	if burst <= 0 {
		burst = 1
	}
	return &TokenBucket{limiter: rate.NewLimiter(rate.Every(interval), burst)}
}

func (b *TokenBucket) Allow(now time.Time) bool {
	return b.limiter.AllowN(now, 1)
}
