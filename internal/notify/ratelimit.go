// Ingestwatch - Ingestion Pipeline Observability and Alerting
// Copyright 2026 Ingestwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ingestwatch/ingestwatch

package notify

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ingestwatch/ingestwatch/internal/metrics"
)

// RateLimiter gates all notification sends behind a shared token
// bucket and tracks throttle backoff. Tokens refill continuously at
// the configured per-minute rate up to the bucket capacity. When the
// channel reports throttling, Acquire additionally waits out an
// exponentially growing backoff interval before drawing a token.
type RateLimiter struct {
	limiter *rate.Limiter

	base   time.Duration
	factor float64
	max    time.Duration

	mu           sync.Mutex
	backoffUntil time.Time
	throttles    int
}

// NewRateLimiter creates a limiter with the given bucket capacity and
// refill rate in tokens per minute, plus the backoff schedule applied
// on throttle signals.
func NewRateLimiter(capacity, perMinute int, base time.Duration, factor float64, maxBackoff time.Duration) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), capacity),
		base:    base,
		factor:  factor,
		max:     maxBackoff,
	}
}

// Acquire blocks until a send is permitted: any active backoff must
// expire and a token must be available. Returns the context error if
// the caller is cancelled while waiting.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	start := time.Now()

	for {
		r.mu.Lock()
		wait := time.Until(r.backoffUntil)
		r.mu.Unlock()
		if wait <= 0 {
			break
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		// Loop: another throttle may have extended the deadline while
		// this caller slept.
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}

	metrics.RateLimitWait.Observe(time.Since(start).Seconds())
	return nil
}

// Throttle records a throttle signal from the channel: sends are
// suspended for an interval that doubles on each consecutive throttle,
// capped at the configured maximum. When the channel supplied its own
// Retry-After, the longer of the two intervals wins.
func (r *RateLimiter) Throttle(retryAfter *time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delay := r.backoffDelayLocked()
	if retryAfter != nil && *retryAfter > delay {
		delay = *retryAfter
	}

	until := time.Now().Add(delay)
	if until.After(r.backoffUntil) {
		r.backoffUntil = until
	}
	r.throttles++

	metrics.BackoffEntered.Inc()
	metrics.BackoffActive.Set(1)
}

// backoffDelayLocked computes base * factor^n for the nth consecutive
// throttle, capped at max. Guards against overflow for large n.
func (r *RateLimiter) backoffDelayLocked() time.Duration {
	mult := math.Pow(r.factor, float64(r.throttles))
	delay := time.Duration(float64(r.base) * mult)
	if delay <= 0 || delay > r.max {
		delay = r.max
	}
	return delay
}

// Reset clears the backoff state after a successful send.
func (r *RateLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backoffUntil = time.Time{}
	r.throttles = 0
	metrics.BackoffActive.Set(0)
}

// InBackoff reports whether sends are currently suspended.
func (r *RateLimiter) InBackoff() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Now().Before(r.backoffUntil)
}

// tryAcquire attempts to draw a token without waiting.
func (r *RateLimiter) tryAcquire() bool {
	if r.InBackoff() {
		return false
	}
	return r.limiter.Allow()
}
