package health

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/llmrouter/vault"
)

func TestTracker_RecordRateLimited_BlacklistsAfterThreshold(t *testing.T) {
	t.Parallel()

	tr := New(3, 5, nil)
	fp := vault.Fingerprint("fp-a")

	assert.False(t, tr.RecordRateLimited("pipe-1", fp))
	assert.False(t, tr.RecordRateLimited("pipe-1", fp))
	assert.True(t, tr.RecordRateLimited("pipe-1", fp), "third 429 crosses the threshold")
	assert.True(t, tr.IsBlacklisted(fp))

	// A credential shared across pipelines degrades every pipeline it touched.
	tr2 := New(2, 5, nil)
	fp2 := vault.Fingerprint("fp-shared")
	tr2.RecordRateLimited("pipe-a", fp2)
	tr2.RecordRateLimited("pipe-b", fp2)
	require.True(t, tr2.IsBlacklisted(fp2))
	assert.True(t, tr2.IsDegraded("pipe-a"))
	assert.True(t, tr2.IsDegraded("pipe-b"))
}

func TestTracker_RecordRateLimited_UnknownFingerprintNeverBlacklists(t *testing.T) {
	t.Parallel()

	tr := New(1, 5, nil)
	for i := 0; i < 10; i++ {
		justBlacklisted := tr.RecordRateLimited("pipe-1", "")
		assert.False(t, justBlacklisted)
	}
	assert.False(t, tr.IsDegraded("pipe-1"), "unknown-fingerprint 429s never degrade the pipeline directly")
}

func TestTracker_RecordSuccess_ResetsFingerprintStreakAndPipelineState(t *testing.T) {
	t.Parallel()

	tr := New(3, 5, nil)
	fp := vault.Fingerprint("fp-a")

	tr.RecordRateLimited("pipe-1", fp)
	tr.RecordRateLimited("pipe-1", fp)
	tr.RecordSuccess("pipe-1", fp)

	// The streak reset means two more 429s should not yet cross threshold 3.
	assert.False(t, tr.RecordRateLimited("pipe-1", fp))
	assert.False(t, tr.RecordRateLimited("pipe-1", fp))
	assert.False(t, tr.IsBlacklisted(fp))
}

func TestTracker_RecordError_DegradesAfterConsecutiveThreshold(t *testing.T) {
	t.Parallel()

	tr := New(3, 2, nil)
	assert.False(t, tr.IsDegraded("pipe-1"))
	tr.RecordError("pipe-1")
	assert.False(t, tr.IsDegraded("pipe-1"))
	tr.RecordError("pipe-1")
	assert.True(t, tr.IsDegraded("pipe-1"))

	tr.RecordSuccess("pipe-1", "")
	assert.False(t, tr.IsDegraded("pipe-1"), "success clears the degraded state")
}

func TestTracker_NextCandidate_SkipsExcludedDegradedAndBlacklisted(t *testing.T) {
	t.Parallel()

	tr := New(1, 5, nil)
	candidates := []string{"p1", "p2", "p3"}

	id, ok := tr.NextCandidate(candidates, nil, 0, nil)
	require.True(t, ok)
	assert.Equal(t, "p1", id)

	// Anchoring on attempt rotates the starting point.
	id, ok = tr.NextCandidate(candidates, nil, 1, nil)
	require.True(t, ok)
	assert.Equal(t, "p2", id)

	tr.RecordError("p1")
	tr.RecordError("p1")
	tr.RecordError("p1")
	tr.RecordError("p1")
	tr.RecordError("p1")
	require.True(t, tr.IsDegraded("p1"))

	id, ok = tr.NextCandidate(candidates, nil, 0, nil)
	require.True(t, ok)
	assert.Equal(t, "p2", id, "degraded p1 is skipped even though it is first in rotation order")

	exclude := map[string]bool{"p2": true}
	id, ok = tr.NextCandidate(candidates, exclude, 0, nil)
	require.True(t, ok)
	assert.Equal(t, "p3", id)

	exclude = map[string]bool{"p2": true, "p3": true}
	_, ok = tr.NextCandidate(candidates, exclude, 0, nil)
	assert.False(t, ok, "p1 degraded, p2/p3 excluded: no candidate left")
}

func TestTracker_NextCandidate_FiltersByFingerprintBlacklist(t *testing.T) {
	t.Parallel()

	tr := New(1, 5, nil)
	fp := vault.Fingerprint("shared-fp")
	fingerprintOf := func(pipelineID string) vault.Fingerprint {
		if pipelineID == "p2" {
			return fp
		}
		return ""
	}

	tr.RecordRateLimited("p-other", fp)
	require.True(t, tr.IsBlacklisted(fp))

	id, ok := tr.NextCandidate([]string{"p1", "p2", "p3"}, nil, 1, fingerprintOf)
	require.True(t, ok)
	assert.Equal(t, "p3", id, "p2's credential is blacklisted even though p2 itself was never directly penalized")
}

func TestTracker_ConcurrentAccessIsRace_Free(t *testing.T) {
	t.Parallel()

	tr := New(3, 5, nil)
	fp := vault.Fingerprint("fp-concurrent")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() { defer wg.Done(); tr.RecordRateLimited("pipe-x", fp) }()
		go func() { defer wg.Done(); tr.RecordSuccess("pipe-x", fp) }()
		go func() { defer wg.Done(); tr.IsDegraded("pipe-x") }()
	}
	wg.Wait()
}
