// Package retry implements exponential backoff with jitter (§11.8), used
// both as a general-purpose single-call retrier and, via Delay, as the
// inter-attempt pacing the Pipeline Manager applies between candidate
// switches in its §4.8 retry loop.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/llmrouter/types"
)

// Policy configures exponential backoff.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
	OnRetry      func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy matches the upstream's historical "3 retries, 1s..30s
// exponential, jittered" shape.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

func normalize(p *Policy) *Policy {
	if p == nil {
		p = DefaultPolicy()
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}
	return p
}

// Delay computes the backoff for the given 1-indexed attempt (the delay
// before attempt, not after it), exponential with optional ±25% jitter to
// avoid synchronized retries across concurrent requests.
func Delay(p *Policy, attempt int) time.Duration {
	p = normalize(p)
	if attempt <= 0 {
		return 0
	}
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter {
		jitter := d * 0.25
		d += (rand.Float64()*2 - 1) * jitter
	}
	if d < float64(p.InitialDelay) {
		d = float64(p.InitialDelay)
	}
	return time.Duration(d)
}

// Retryer runs fn, retrying on retryable errors per Policy.
type Retryer interface {
	Do(ctx context.Context, fn func() error) error
}

type backoffRetryer struct {
	policy *Policy
	logger *zap.Logger
}

// NewBackoffRetryer builds a Retryer. policy == nil uses DefaultPolicy;
// logger may be nil.
func NewBackoffRetryer(policy *Policy, logger *zap.Logger) Retryer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &backoffRetryer{policy: normalize(policy), logger: logger}
}

// isRetryable defers entirely to §7's ErrorKind taxonomy: a *types.RouterError
// retries iff its Kind is retryable; any other error (unclassified, a plain
// context error) is treated as non-retryable.
func isRetryable(err error) bool {
	kind := types.KindOf(err)
	return kind != "" && kind.Retryable()
}

func (r *backoffRetryer) Do(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := Delay(r.policy, attempt)
			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}
			r.logger.Debug("retry backoff", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("retry budget (%d) exhausted: %w", r.policy.MaxRetries, lastErr)
}
