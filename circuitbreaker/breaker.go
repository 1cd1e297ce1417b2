// Package circuitbreaker wraps one Pipeline Instance's Process call with a
// closed/open/half-open breaker (§11.8). manager.Manager builds one Breaker
// per registered pipeline and calls it around Process in its Dispatch retry
// loop, so a pipeline stuck returning UpstreamUnavailable trips open; while
// open, a call is rejected without reaching the upstream and reported as
// UpstreamUnavailable, and Dispatch excludes that pipeline for the rest of
// the dispatch (the rejected selection still counts as one attempt).
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/llmrouter/types"
)

// State is one of the three breaker states.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config tunes one breaker instance.
type Config struct {
	// Threshold is the consecutive-failure count that trips Closed -> Open.
	Threshold int
	// CallTimeout bounds one Call invocation.
	CallTimeout time.Duration
	// ResetTimeout is how long Open is held before probing Half-Open.
	ResetTimeout time.Duration
	// HalfOpenMaxCalls bounds concurrent probes while Half-Open.
	HalfOpenMaxCalls int
	// OnStateChange, if set, is invoked (in its own goroutine) on every
	// transition.
	OnStateChange func(from, to State)
}

// DefaultConfig mirrors the teacher's defaults: 5 consecutive failures trips
// the breaker, a minute cool-down before probing recovery.
func DefaultConfig() *Config {
	return &Config{
		Threshold:        5,
		CallTimeout:      30 * time.Second,
		ResetTimeout:     60 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

var (
	ErrCircuitOpen            = errors.New("circuitbreaker: open")
	ErrTooManyCallsInHalfOpen = errors.New("circuitbreaker: half-open call budget exhausted")
)

// Breaker is the public contract; Pipeline/Manager code depends on this, not
// the concrete type, so a no-op breaker can stand in for tests.
type Breaker interface {
	Call(ctx context.Context, fn func() error) error
	State() State
	Reset()
}

type breaker struct {
	cfg    *Config
	logger *zap.Logger

	mu                sync.Mutex
	state             State
	failureCount      int
	lastFailureAt     time.Time
	halfOpenCallCount int
}

// New builds a Breaker. cfg == nil uses DefaultConfig; logger may be nil.
func New(cfg *Config, logger *zap.Logger) Breaker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 60 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &breaker{cfg: cfg, logger: logger, state: StateClosed}
}

// isBreakerFailure reports whether err should count toward the breaker's
// consecutive-failure streak. A RouterError classified as non-retryable
// (§7's ErrorKind.Retryable) is a client-shaped failure — a bad request, a
// missing credential — and must not trip the breaker for an otherwise-sound
// upstream; an unclassified error counts, matching the conservative default
// for anything this package doesn't recognize.
func isBreakerFailure(err error) bool {
	if err == nil {
		return false
	}
	kind := types.KindOf(err)
	if kind == "" {
		return true
	}
	return kind.Retryable()
}

func (b *breaker) Call(ctx context.Context, fn func() error) error {
	if err := b.before(); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
	defer cancel()

	resultCh := make(chan error, 1)
	go func() { resultCh <- fn() }()

	select {
	case <-callCtx.Done():
		b.after(true)
		return fmt.Errorf("circuitbreaker: call timed out: %w", callCtx.Err())
	case err := <-resultCh:
		b.after(isBreakerFailure(err))
		return err
	}
}

func (b *breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(b.lastFailureAt) > b.cfg.ResetTimeout {
			b.setState(StateHalfOpen)
			b.halfOpenCallCount = 0
			return nil
		}
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.halfOpenCallCount >= b.cfg.HalfOpenMaxCalls {
			return ErrTooManyCallsInHalfOpen
		}
		b.halfOpenCallCount++
		return nil
	default:
		return fmt.Errorf("circuitbreaker: unknown state %v", b.state)
	}
}

func (b *breaker) after(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if failed {
		b.onFailure()
	} else {
		b.onSuccess()
	}
}

func (b *breaker) onSuccess() {
	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.setState(StateClosed)
		b.failureCount = 0
		b.halfOpenCallCount = 0
	case StateOpen:
		b.logger.Warn("circuitbreaker: success observed while open")
	}
}

func (b *breaker) onFailure() {
	b.failureCount++
	b.lastFailureAt = time.Now()

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.cfg.Threshold {
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		b.setState(StateOpen)
		b.halfOpenCallCount = 0
	case StateOpen:
		b.logger.Warn("circuitbreaker: failure observed while already open")
	}
}

func (b *breaker) setState(to State) {
	from := b.state
	b.state = to
	b.logger.Info("circuitbreaker: state transition", zap.String("from", from.String()), zap.String("to", to.String()))
	if b.cfg.OnStateChange != nil {
		go b.cfg.OnStateChange(from, to)
	}
}

func (b *breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	from := b.state
	b.state = StateClosed
	b.failureCount = 0
	b.halfOpenCallCount = 0
	if b.cfg.OnStateChange != nil {
		go b.cfg.OnStateChange(from, StateClosed)
	}
}
