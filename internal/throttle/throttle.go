// Package throttle bounds calls to rate-limited external services.
//
// A Throttle combines a token bucket (requests per second) with a weighted
// semaphore (calls in flight). One Throttle is shared by every component that
// talks to the same service, so the bound holds across the whole process.
package throttle

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Default limits
const (
	DefaultConcurrency       = 1
	DefaultRequestsPerSecond = 0 // unlimited
	DefaultBurst             = 1
	DefaultRateLimitBackoff  = 60 * time.Second
)

// Config holds throttling configuration for one external service.
type Config struct {
	// Concurrency is the maximum number of calls in flight.
	Concurrency int
	// RequestsPerSecond is the sustained rate; zero disables the token bucket.
	RequestsPerSecond float64
	// Burst is the maximum burst size.
	Burst int
}

// Throttle gates calls to an external service
type Throttle struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter

	mu      sync.Mutex
	retryAt time.Time
}

// New creates a Throttle from cfg
func New(cfg Config) *Throttle {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Throttle{
		sem:     semaphore.NewWeighted(int64(cfg.Concurrency)),
		limiter: rate.NewLimiter(limit, cfg.Burst),
	}
}

// Unlimited returns a Throttle that never blocks
func Unlimited() *Throttle {
	return &Throttle{
		sem:     semaphore.NewWeighted(math.MaxInt32),
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
}

// Acquire blocks until a call may start. The returned release func must be
// called when the call finishes.
func (t *Throttle) Acquire(ctx context.Context) (func(), error) {
	if err := t.waitBackoff(ctx); err != nil {
		return nil, err
	}
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if err := t.limiter.Wait(ctx); err != nil {
		t.sem.Release(1)
		return nil, err
	}

	var once sync.Once
	return func() { once.Do(func() { t.sem.Release(1) }) }, nil
}

// RecordRateLimit pauses all callers for d after the service signalled a
// rate limit.
func (t *Throttle) RecordRateLimit(d time.Duration) {
	if d <= 0 {
		d = DefaultRateLimitBackoff
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if until := time.Now().Add(d); until.After(t.retryAt) {
		t.retryAt = until
	}
}

func (t *Throttle) waitBackoff(ctx context.Context) error {
	t.mu.Lock()
	retryAt := t.retryAt
	t.mu.Unlock()

	wait := time.Until(retryAt)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// BackingOff reports whether callers are currently paused by RecordRateLimit
func (t *Throttle) BackingOff() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Now().Before(t.retryAt)
}
