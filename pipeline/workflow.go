package pipeline

import "time"

// Workflow is the §4.6 Workflow stage: on the inbound leg it resolves the
// effective stream flag for a request against the pipeline's streaming
// policy; on the outbound leg it supplies the text-coalescing window the
// Instance uses to build a Coalescer when the response is a dialect-level
// (non-chat) stream.
type Workflow struct {
	Policy     StreamingPolicy
	TextWindow time.Duration
}

// NewWorkflow builds a Workflow stage. The window is passed to streaming.New
// unchanged; a non-positive window makes the Coalescer flush every text delta
// as it arrives.
func NewWorkflow(policy StreamingPolicy, textWindow time.Duration) Workflow {
	if policy == "" {
		policy = PolicyAuto
	}
	return Workflow{Policy: policy, TextWindow: textWindow}
}

// ResolveStream applies the streaming policy (§4.6) to the client's
// requested stream flag.
func (w Workflow) ResolveStream(clientStream bool) bool {
	switch w.Policy {
	case PolicyAlways:
		return true
	case PolicyNever:
		return false
	default:
		return clientStream
	}
}
