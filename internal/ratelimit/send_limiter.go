package ratelimit

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallbiznis/invoicedesk/internal/config"
)

const keySendEndpoint = "send:%s:%s"

// SendLimiter throttles outbound email endpoints per caller.
// A nil or disabled limiter allows everything.
type SendLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewSendLimiter(cfg config.Config, bucket *TokenBucket) *SendLimiter {
	if bucket == nil || cfg.HTTP.SendRate <= 0 || cfg.HTTP.SendBurst <= 0 {
		return nil
	}
	return &SendLimiter{
		bucket: bucket,
		rate:   cfg.HTTP.SendRate,
		burst:  cfg.HTTP.SendBurst,
	}
}

func (l *SendLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow takes one token from the bucket of endpoint and caller.
func (l *SendLimiter) Allow(ctx context.Context, endpoint, caller string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	key := fmt.Sprintf(keySendEndpoint, strings.TrimSpace(endpoint), strings.TrimSpace(caller))
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}
