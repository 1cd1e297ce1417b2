package pipeline

import "context"

// stagePublisher is the sink Process reports each stage's timing to. Moving
// the decision of whether to keep a timing out of Process itself — into
// whichever publisher is installed on ctx — is the fix for the REDESIGN
// FLAG's "enhanced-debug flag branching threaded through every method":
// processBuffered/processStream/applyCompatToStream no longer check
// req.Debug at all, they just publish unconditionally.
type stagePublisher interface {
	publish(StageTiming)
}

type noopPublisher struct{}

func (noopPublisher) publish(StageTiming) {}

// stageCollector is the concrete publisher withDebug installs: it retains
// every timing it's given for the lifetime of one Process call.
type stageCollector struct {
	stages []StageTiming
}

func (c *stageCollector) publish(t StageTiming) {
	c.stages = append(c.stages, t)
}

type publisherKey struct{}

// withDebug is the single decorator point named in §11.5: it installs a
// collecting stagePublisher on ctx for the duration of one Process call.
// Nothing downstream branches on a debug flag; it only ever publishes to
// whatever is already on ctx, collecting or not.
func withDebug(ctx context.Context) (context.Context, *stageCollector) {
	c := &stageCollector{}
	return context.WithValue(ctx, publisherKey{}, c), c
}

func publisherFrom(ctx context.Context) stagePublisher {
	if p, ok := ctx.Value(publisherKey{}).(stagePublisher); ok {
		return p
	}
	return noopPublisher{}
}
