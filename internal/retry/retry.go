package retry

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/dshills/paperdex/pkg/types"
)

// Default retry configuration
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 30 * time.Second
	DefaultMultiplier  = 2.0
)

// Decision is what a Policy tells the driver to do after a failed attempt
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Policy decides whether a failed attempt is retried and how long to wait.
type Policy interface {
	// Decide is called with the 1-based number of the attempt that just failed.
	Decide(attempt int, err error) Decision
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts() int
}

// Config configures a Backoff policy
type Config struct {
	MaxAttempts int           // Total tries including the first
	BaseDelay   time.Duration // Delay after the first transient failure
	MaxDelay    time.Duration // Upper bound on any single delay
	Multiplier  float64       // Growth factor per attempt
}

// DefaultConfig returns the defaults used for embedding calls
func DefaultConfig() Config {
	return Config{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Multiplier:  DefaultMultiplier,
	}
}

// Backoff retries transient errors with exponential backoff, retries
// malformed output immediately and gives up on everything else.
type Backoff struct {
	cfg Config
}

// NewBackoff creates a Backoff policy, filling zero fields with defaults
func NewBackoff(cfg Config) *Backoff {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = max(def.MaxDelay, cfg.BaseDelay)
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = def.Multiplier
	}
	return &Backoff{cfg: cfg}
}

// MaxAttempts implements Policy
func (b *Backoff) MaxAttempts() int {
	return b.cfg.MaxAttempts
}

// Decide implements Policy
func (b *Backoff) Decide(attempt int, err error) Decision {
	switch Classify(err) {
	case ClassTransient:
		return Decision{Retry: true, Delay: b.delay(attempt)}
	case ClassMalformed:
		return Decision{Retry: true}
	default:
		return Decision{}
	}
}

// delay grows with the attempt number and is capped at MaxDelay
func (b *Backoff) delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.cfg.BaseDelay) * math.Pow(b.cfg.Multiplier, float64(attempt-1))
	if d > float64(b.cfg.MaxDelay) {
		return b.cfg.MaxDelay
	}
	return time.Duration(d)
}

// Observer is notified before every retry. Used for logging and metrics.
type Observer func(attempt int, err error, d Decision)

// Do runs fn until it succeeds, the policy declines to retry, or the policy's
// attempt budget is spent. Exhaustion wraps the last error in
// types.ErrAttemptsExhausted; a declined retry returns the error unchanged.
// Backoff sleeps end early when ctx is cancelled.
func Do[T any](ctx context.Context, policy Policy, fn func(ctx context.Context) (T, error), observers ...Observer) (T, int, error) {
	var zero T
	maxAttempts := max(policy.MaxAttempts(), 1)

	for attempt := 1; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, attempt, nil
		}

		if ctx.Err() != nil {
			return zero, attempt, goerr.Wrap(err, "operation cancelled", goerr.V("attempt", attempt))
		}

		decision := policy.Decide(attempt, err)
		if !decision.Retry {
			return zero, attempt, err
		}
		if attempt >= maxAttempts {
			return zero, attempt, goerr.Wrap(errors.Join(types.ErrAttemptsExhausted, err), "giving up",
				goerr.V("attempts", attempt))
		}

		for _, obs := range observers {
			obs(attempt, err, decision)
		}

		if decision.Delay > 0 {
			timer := time.NewTimer(decision.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, attempt, goerr.Wrap(err, "operation cancelled during backoff", goerr.V("attempt", attempt))
			case <-timer.C:
			}
		}
	}
}
