// Package manager implements the Pipeline Manager (§4.8): category
// resolution, candidate selection via the Health Tracker, and the bounded
// retry loop around one Pipeline Instance's Process call.
package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/BaSui01/llmrouter/circuitbreaker"
	"github.com/BaSui01/llmrouter/health"
	"github.com/BaSui01/llmrouter/pipeline"
	"github.com/BaSui01/llmrouter/retry"
	"github.com/BaSui01/llmrouter/types"
	"github.com/BaSui01/llmrouter/vault"
)

// DefaultRetryBudget is the "default 3" of §4.8: at most this many attempts
// are made against distinct candidates before the dispatch gives up with
// RateLimitExhausted or UpstreamUnavailable.
const DefaultRetryBudget = 3

// binding is one routable pipeline: the Instance plus the credential it
// authenticates with, so the Manager can resolve a Secret and a Fingerprint
// without the Instance itself knowing anything about the Vault.
type binding struct {
	instance   *pipeline.Instance
	providerID string
	keyID      string
	breaker    circuitbreaker.Breaker
}

// Manager dispatches a category to one of its candidate pipelines, retrying
// on the upstream failures §4.8 names as retryable, anchored on the Health
// Tracker's round-robin candidate selection.
type Manager struct {
	retryBudget  int
	backoff      *retry.Policy

	v       *vault.Vault
	tracker *health.Tracker
	logger  *zap.Logger

	bindings map[string]binding   // pipelineId -> binding
	routes   map[string][]string // category -> ordered candidate pipelineIds
}

// New builds a Manager. A non-positive retryBudget falls back to
// DefaultRetryBudget. logger may be nil.
func New(retryBudget int, v *vault.Vault, tracker *health.Tracker, logger *zap.Logger) *Manager {
	if retryBudget <= 0 {
		retryBudget = DefaultRetryBudget
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		retryBudget: retryBudget,
		backoff:     retry.DefaultPolicy(),
		v:           v,
		tracker:     tracker,
		logger:      logger,
		bindings:    make(map[string]binding),
		routes:      make(map[string][]string),
	}
}

// WithBackoff overrides the inter-attempt pacing applied between candidate
// switches (default retry.DefaultPolicy()). Returns m for chaining.
func (m *Manager) WithBackoff(p *retry.Policy) *Manager {
	m.backoff = p
	return m
}

// Register adds pipelineID as a candidate for category, bound to inst and
// the credential it authenticates outbound calls with. Each pipeline gets
// its own breaker (§11.8) so one upstream tripping open never affects the
// others' candidacy.
func (m *Manager) Register(category, pipelineID string, inst *pipeline.Instance, providerID, keyID string) {
	m.bindings[pipelineID] = binding{
		instance:   inst,
		providerID: providerID,
		keyID:      keyID,
		breaker:    circuitbreaker.New(nil, m.logger),
	}
	m.routes[category] = append(m.routes[category], pipelineID)
}

func (m *Manager) fingerprintOf(pipelineID string) vault.Fingerprint {
	b, ok := m.bindings[pipelineID]
	if !ok || m.v == nil {
		return ""
	}
	return m.v.Fingerprint(b.providerID, b.keyID)
}

// Dispatch runs the §4.8 algorithm: resolve category, select a candidate,
// invoke its Instance, and retry on retryable upstream failures up to the
// configured budget. clientDialect gates the Anthropic zero-retry rule: the
// /v1/messages entry point (§4.8, §7) gets zero automatic retries under any
// condition, successful or not.
//
// Once Process returns a non-nil *pipeline.Response the dispatch is done:
// Process only fails before the adapter has produced a single byte of
// upstream output, so a response already in the caller's hands is never
// retried out from under it (the "streamCommitted forbids retry" rule of
// §4.8 is therefore enforced by this control flow, not a separate flag).
func (m *Manager) Dispatch(ctx context.Context, category string, req pipeline.Request, clientDialect types.Dialect) (*pipeline.Response, string, error) {
	candidates := m.routes[category]
	if category == "" || len(candidates) == 0 {
		return nil, "", types.NewRouterError(types.NoRouteAvailable, fmt.Sprintf("no pipelines registered for category %q", category))
	}

	anthropicNoRetry := clientDialect == types.DialectAnthropic

	exclude := make(map[string]bool, len(candidates))
	var causes error
	attempts := 0
	maxAttempts := m.retryBudget
	if anthropicNoRetry {
		maxAttempts = 1
	}

	for attempts < maxAttempts {
		pipelineID, ok := m.tracker.NextCandidate(candidates, exclude, attempts, m.fingerprintOf)
		if !ok {
			if causes != nil {
				return nil, "", types.NewRouterError(types.RateLimitExhausted, "no healthy candidate remains for category "+category).WithCause(causes)
			}
			return nil, "", types.NewRouterError(types.NoRouteAvailable, "no healthy candidate remains for category "+category)
		}

		b := m.bindings[pipelineID]
		fp := m.v.Fingerprint(b.providerID, b.keyID)
		secret, _, err := m.v.Resolve(b.providerID, b.keyID)
		if err != nil {
			m.tracker.RecordError(pipelineID)
			return nil, pipelineID, err
		}

		resp, err := callThroughBreaker(ctx, b, req, secret)
		attempts++
		if err == nil {
			m.tracker.RecordSuccess(pipelineID, fp)
			return resp, pipelineID, nil
		}

		kind := types.KindOf(err)
		switch kind {
		case types.UpstreamRateLimited:
			m.tracker.RecordRateLimited(pipelineID, fp)
		case types.UpstreamUnavailable, types.UpstreamTimeout:
			m.tracker.RecordError(pipelineID)
		default:
			// Any other classified error is fail-fast: no retry (§4.8).
			return nil, pipelineID, err
		}

		exclude[pipelineID] = true
		causes = multierr.Append(causes, err)

		if anthropicNoRetry {
			if kind == types.UpstreamRateLimited {
				return nil, pipelineID, types.NewRouterError(types.RateLimitExhausted, "anthropic dialect: no retry after rate limit").WithCause(causes)
			}
			return nil, pipelineID, err
		}
		m.logger.Debug("dispatch retrying after retryable upstream failure",
			zap.String("category", category), zap.String("pipelineId", pipelineID),
			zap.String("kind", string(kind)), zap.Int("attempt", attempts))

		if attempts < maxAttempts {
			if delay := retry.Delay(m.backoff, attempts); delay > 0 {
				select {
				case <-ctx.Done():
					return nil, pipelineID, ctx.Err()
				case <-time.After(delay):
				}
			}
		}
	}

	finalKind := types.RateLimitExhausted
	if types.KindOf(causes) == types.UpstreamUnavailable {
		finalKind = types.UpstreamUnavailable
	}
	return nil, "", types.NewRouterError(finalKind, fmt.Sprintf("retry budget (%d) exhausted for category %s", m.retryBudget, category)).WithCause(causes)
}

// callThroughBreaker runs the Instance's Process call through the
// candidate's breaker. A rejection from the breaker itself (open, or the
// half-open probe budget exhausted) is reported as UpstreamUnavailable so
// Dispatch's retry switch treats a tripped breaker exactly like any other
// unavailable upstream: exclude the candidate, keep the retry budget.
func callThroughBreaker(ctx context.Context, b binding, req pipeline.Request, secret vault.Secret) (*pipeline.Response, error) {
	var resp *pipeline.Response
	err := b.breaker.Call(ctx, func() error {
		var callErr error
		resp, callErr = b.instance.Process(ctx, req, secret)
		return callErr
	})
	if err != nil && (errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyCallsInHalfOpen)) {
		return nil, types.NewRouterError(types.UpstreamUnavailable, "circuit breaker open").WithCause(err)
	}
	return resp, err
}
