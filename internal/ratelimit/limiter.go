// Package ratelimit implements the process-wide request throttle.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/sabarim/kitectl/internal/apierr"
)

const (
	// DefaultCapacity and DefaultRate match the Kite Connect account-wide limit of 3 req/s.
	DefaultCapacity = 3
	DefaultRate     = 3.0
	// DefaultMaxWait bounds a single Acquire when the caller passes no timeout.
	DefaultMaxWait = 30 * time.Second
)

// Limiter is a continuous token bucket. A single instance must be shared by every request
// in the process.
type Limiter struct {
	mu        sync.Mutex
	capacity  float64
	rate      float64 // tokens per second
	available float64
	last      time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a limiter that starts full.
func New(capacity int, ratePerSecond float64) *Limiter {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	if ratePerSecond <= 0 {
		ratePerSecond = DefaultRate
	}
	l := &Limiter{
		capacity:  float64(capacity),
		rate:      ratePerSecond,
		available: float64(capacity),
		now:       time.Now,
		sleep:     sleepContext,
	}
	l.last = l.now()
	return l
}

// Default returns a limiter with the Kite Connect quota.
func Default() *Limiter {
	return New(DefaultCapacity, DefaultRate)
}

// Acquire takes one token, waiting for a refill when none is available. It fails with
// apierr.KindRateLimitExceeded when the wait would overrun timeout or when ctx ends first.
// A non-positive timeout means DefaultMaxWait.
func (l *Limiter) Acquire(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultMaxWait
	}
	deadline := l.now().Add(timeout)

	for {
		wait, ok := l.take()
		if ok {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return apierr.Wrap(apierr.KindRateLimitExceeded, err, "rate limiter wait aborted")
		}
		if l.now().Add(wait).After(deadline) {
			return apierr.New(apierr.KindRateLimitExceeded, "no request slot available within %s", timeout)
		}
		if err := l.sleep(ctx, wait); err != nil {
			return apierr.Wrap(apierr.KindRateLimitExceeded, err, "rate limiter wait aborted")
		}
	}
}

// Available returns the current token count after refill, without consuming anything.
func (l *Limiter) Available() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return l.available
}

// take refills and tries to consume one token. When none is available it returns how long
// until one will be.
func (l *Limiter) take() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	if l.available >= 1 {
		l.available--
		return 0, true
	}
	seconds := (1 - l.available) / l.rate
	return time.Duration(math.Ceil(seconds * float64(time.Second))), false
}

// refill must be called with mu held.
func (l *Limiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.last)
	if elapsed <= 0 {
		return
	}
	l.available = math.Min(l.capacity, l.available+elapsed.Seconds()*l.rate)
	l.last = now
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
