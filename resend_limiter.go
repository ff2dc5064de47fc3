package goSession

import (
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goSession/internal/rate"
)

// NewRedisResendLimiter allows max resends per window for every manager
// sharing client and scope, so a user cannot multiply the budget by opening
// more tabs. Redis failures allow the resend.
func NewRedisResendLimiter(client redis.UniversalClient, scope string, max int, window time.Duration) ResendLimiter {
	return rate.NewWindow(client, "otp:resend:"+scope, max, window)
}
