package ratelimit

import (
	"context"
	"math/rand"
	"time"
)

type RateLimiter interface {
	Wait(ctx context.Context) error
}

// JitterLimiter pauses for a random duration in [minDelay, maxDelay] on every
// call, independent of how long the caller worked since the previous one.
type JitterLimiter struct {
	minDelay time.Duration
	maxDelay time.Duration
}

func NewJitterLimiter(minDelay, maxDelay time.Duration) *JitterLimiter {
	return &JitterLimiter{
		minDelay: minDelay,
		maxDelay: maxDelay,
	}
}

func (r *JitterLimiter) Wait(ctx context.Context) error {
	delay := r.nextDelay()
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *JitterLimiter) nextDelay() time.Duration {
	if r.maxDelay <= r.minDelay {
		return r.minDelay
	}

	// both bounds are reachable
	delta := int64(r.maxDelay - r.minDelay)
	return r.minDelay + time.Duration(rand.Int63n(delta+1))
}
