// Package snapshot provides reference pipeline.Recorder implementations
// (§11.7): an in-memory ring buffer for tests and local development, and a
// Redis-backed list recorder for sharing a debug trail across processes,
// grounded on the teacher's redis_task_store.go/cache manager pairing of a
// go-redis client with a miniredis-backed test double.
package snapshot

import (
	"sync"

	"github.com/BaSui01/llmrouter/pipeline"
)

// entry is one request's accumulated snapshot trail plus its outcome, once
// known.
type entry struct {
	RequestID string
	Snapshots []pipeline.Snapshot
	Outcome   string // "", "success", or "error"
}

// Ring is an in-memory pipeline.Recorder that keeps the most recent N
// requests' snapshot trails, evicting the oldest once full. It never
// persists anything and is safe to share across goroutines.
type Ring struct {
	mu       sync.Mutex
	capacity int
	order    []string
	byID     map[string]*entry
}

// NewRing builds a Ring holding up to capacity requests' trails. A capacity
// of zero or less defaults to 256.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 256
	}
	return &Ring{capacity: capacity, byID: make(map[string]*entry)}
}

// Record implements pipeline.Recorder.
func (r *Ring) Record(snap pipeline.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[snap.RequestID]
	if !ok {
		e = &entry{RequestID: snap.RequestID}
		r.byID[snap.RequestID] = e
		r.order = append(r.order, snap.RequestID)
		r.evictLocked()
	}
	e.Snapshots = append(e.Snapshots, snap)
}

// FlushSuccess implements pipeline.Recorder.
func (r *Ring) FlushSuccess(requestID string) {
	r.setOutcome(requestID, "success")
}

// FlushError implements pipeline.Recorder.
func (r *Ring) FlushError(requestID string) {
	r.setOutcome(requestID, "error")
}

func (r *Ring) setOutcome(requestID, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byID[requestID]; ok {
		e.Outcome = outcome
	}
}

// Trail returns the recorded snapshots for a request, and whether it's
// known at all. The outcome is returned separately since a request may
// still be in flight.
func (r *Ring) Trail(requestID string) ([]pipeline.Snapshot, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[requestID]
	if !ok {
		return nil, "", false
	}
	out := make([]pipeline.Snapshot, len(e.Snapshots))
	copy(out, e.Snapshots)
	return out, e.Outcome, true
}

// Len reports how many request trails are currently retained.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// evictLocked drops the oldest trail once the ring is over capacity. Caller
// must hold r.mu.
func (r *Ring) evictLocked() {
	for len(r.order) > r.capacity {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.byID, oldest)
	}
}
