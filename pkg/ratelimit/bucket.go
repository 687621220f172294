package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket is a Limiter backed by golang.org/x/time/rate. Unlike
// SlidingWindow it allows bursts up to its bucket size after idle periods.
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket creates a token bucket refilled at permitsPerSecond with
// room for burst permits. A burst below 1 is raised to 1.
func NewTokenBucket(permitsPerSecond float64, burst int) (*TokenBucket, error) {
	if permitsPerSecond <= 0 || math.IsNaN(permitsPerSecond) || math.IsInf(permitsPerSecond, 0) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidRate, permitsPerSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &TokenBucket{limiter: rate.NewLimiter(rate.Limit(permitsPerSecond), burst)}, nil
}

// Acquire blocks until a token is available.
func (b *TokenBucket) Acquire(ctx context.Context) error {
	start := time.Now()
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	permitsGrantedTotal.Inc()
	permitWaitSeconds.Observe(time.Since(start).Seconds())
	return nil
}

type unlimited struct{}

func (unlimited) Acquire(ctx context.Context) error {
	return ctx.Err()
}

// Unlimited returns a Limiter that never blocks.
func Unlimited() Limiter {
	return unlimited{}
}
