package streaming

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// maxConcurrentPumps bounds how many coalescer pump goroutines may run at
// once per process (§11.4): each open response/Anthropic stream holds one
// slot for its lifetime, so a burst of concurrent long-lived streams can't
// spawn unbounded goroutines ahead of the provider/network backpressure
// that would otherwise throttle them.
const maxConcurrentPumps = 4096

var pumpSemaphore = semaphore.NewWeighted(maxConcurrentPumps)

// acquirePump blocks until a pump slot is free or ctx is done. A ctx
// cancellation before a slot frees up returns its error instead of blocking
// forever on semaphore internals.
func acquirePump(ctx context.Context) error {
	return pumpSemaphore.Acquire(ctx, 1)
}

func releasePump() {
	pumpSemaphore.Release(1)
}
