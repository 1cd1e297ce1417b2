// Package health implements the Health & Failover Tracker (§4.7): per-
// credential 429 penalties, per-pipeline health state, and round-robin
// candidate selection for the Manager's retry loop.
package health

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/llmrouter/vault"
)

// PipelineState is one pipeline's health as observed by the Tracker.
type PipelineState string

const (
	StateHealthy  PipelineState = "healthy"
	StateDegraded PipelineState = "degraded"
)

// DefaultBlacklistThreshold is the "configurable, default finite small
// integer" of §4.7.
const DefaultBlacklistThreshold = 3

// DefaultErrorThreshold is the per-pipeline consecutive-non-429-error
// threshold before a pipeline is marked degraded.
const DefaultErrorThreshold = 5

type fingerprintRecord struct {
	mu                 sync.Mutex
	consecutive429     int
	pipelineIDsTouched map[string]struct{}
	blacklistedSince   time.Time
}

type pipelineRecord struct {
	mu                sync.Mutex
	state             PipelineState
	consecutiveErrors int
	lastSuccessAt     time.Time
	lastFailureAt     time.Time
}

// Tracker holds the mutable health state of §4.7, §5's "fine-grained
// locking, one mutex per shard" shared-resource policy: each fingerprint and
// each pipeline is its own lock shard; the top-level maps are guarded only
// long enough to get-or-create a shard.
type Tracker struct {
	blacklistThreshold int
	errorThreshold     int

	mu           sync.RWMutex
	fingerprints map[vault.Fingerprint]*fingerprintRecord
	pipelines    map[string]*pipelineRecord

	logger *zap.Logger
}

// New builds a Tracker. A non-positive threshold falls back to the package
// default. logger may be nil.
func New(blacklistThreshold, errorThreshold int, logger *zap.Logger) *Tracker {
	if blacklistThreshold <= 0 {
		blacklistThreshold = DefaultBlacklistThreshold
	}
	if errorThreshold <= 0 {
		errorThreshold = DefaultErrorThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		blacklistThreshold: blacklistThreshold,
		errorThreshold:      errorThreshold,
		fingerprints:        make(map[vault.Fingerprint]*fingerprintRecord),
		pipelines:           make(map[string]*pipelineRecord),
		logger:              logger,
	}
}

func (t *Tracker) fingerprintRec(fp vault.Fingerprint) *fingerprintRecord {
	t.mu.RLock()
	fr, ok := t.fingerprints[fp]
	t.mu.RUnlock()
	if ok {
		return fr
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if fr, ok := t.fingerprints[fp]; ok {
		return fr
	}
	fr = &fingerprintRecord{pipelineIDsTouched: make(map[string]struct{})}
	t.fingerprints[fp] = fr
	return fr
}

func (t *Tracker) pipelineRec(id string) *pipelineRecord {
	t.mu.RLock()
	pr, ok := t.pipelines[id]
	t.mu.RUnlock()
	if ok {
		return pr
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if pr, ok := t.pipelines[id]; ok {
		return pr
	}
	pr = &pipelineRecord{state: StateHealthy}
	t.pipelines[id] = pr
	return pr
}

// RecordSuccess applies the §4.7 "on upstream success" transition: resets
// the fingerprint's 429 streak and marks the pipeline healthy. fp may be
// empty if the credential could not be identified; the fingerprint reset is
// then skipped.
func (t *Tracker) RecordSuccess(pipelineID string, fp vault.Fingerprint) {
	if fp != "" {
		fr := t.fingerprintRec(fp)
		fr.mu.Lock()
		fr.consecutive429 = 0
		fr.mu.Unlock()
	}
	pr := t.pipelineRec(pipelineID)
	pr.mu.Lock()
	pr.state = StateHealthy
	pr.consecutiveErrors = 0
	pr.lastSuccessAt = time.Now()
	pr.mu.Unlock()
}

// RecordRateLimited applies the §4.7 429 transition. fp == "" models "Secret
// not extractable from the error": no credential is blacklisted, but the
// pipeline's lastFailureAt still advances. Returns whether this call caused
// the fingerprint to cross blacklistThreshold for the first time.
func (t *Tracker) RecordRateLimited(pipelineID string, fp vault.Fingerprint) bool {
	pr := t.pipelineRec(pipelineID)
	pr.mu.Lock()
	pr.lastFailureAt = time.Now()
	pr.mu.Unlock()

	if fp == "" {
		return false
	}

	fr := t.fingerprintRec(fp)
	fr.mu.Lock()
	fr.pipelineIDsTouched[pipelineID] = struct{}{}
	fr.consecutive429++
	justBlacklisted := false
	if fr.consecutive429 >= t.blacklistThreshold && fr.blacklistedSince.IsZero() {
		fr.blacklistedSince = time.Now()
		justBlacklisted = true
	}
	alreadyBlacklisted := !fr.blacklistedSince.IsZero()
	touched := make([]string, 0, len(fr.pipelineIDsTouched))
	for id := range fr.pipelineIDsTouched {
		touched = append(touched, id)
	}
	fr.mu.Unlock()

	if alreadyBlacklisted {
		for _, id := range touched {
			p := t.pipelineRec(id)
			p.mu.Lock()
			p.state = StateDegraded
			p.mu.Unlock()
		}
	}
	return justBlacklisted
}

// RecordError applies the §4.7 non-429 error transition.
func (t *Tracker) RecordError(pipelineID string) {
	pr := t.pipelineRec(pipelineID)
	pr.mu.Lock()
	defer pr.mu.Unlock()
	pr.consecutiveErrors++
	pr.lastFailureAt = time.Now()
	if pr.consecutiveErrors >= t.errorThreshold {
		pr.state = StateDegraded
	}
}

// IsDegraded reports a pipeline's current health state.
func (t *Tracker) IsDegraded(pipelineID string) bool {
	pr := t.pipelineRec(pipelineID)
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.state == StateDegraded
}

// IsBlacklisted reports whether fp has crossed the blacklist threshold. The
// §4.7 invariant — "a pipeline whose CredentialHandle maps to a blacklisted
// Fingerprint is treated as degraded" — is enforced by NextCandidate, which
// checks both this and IsDegraded.
func (t *Tracker) IsBlacklisted(fp vault.Fingerprint) bool {
	if fp == "" {
		return false
	}
	fr := t.fingerprintRec(fp)
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return !fr.blacklistedSince.IsZero()
}

// NextCandidate implements nextCandidate(category, exclude) -> pipeline or
// none (§4.7): round-robin over candidates anchored on attempt, skipping
// excluded, degraded, and blacklisted-fingerprint pipelines. fingerprintOf
// may be nil if the caller has no fingerprint mapping available.
func (t *Tracker) NextCandidate(candidates []string, exclude map[string]bool, attempt int, fingerprintOf func(pipelineID string) vault.Fingerprint) (string, bool) {
	n := len(candidates)
	if n == 0 {
		return "", false
	}
	for i := 0; i < n; i++ {
		id := candidates[(attempt+i)%n]
		if exclude[id] {
			continue
		}
		if t.IsDegraded(id) {
			continue
		}
		if fingerprintOf != nil && t.IsBlacklisted(fingerprintOf(id)) {
			continue
		}
		return id, true
	}
	return "", false
}
