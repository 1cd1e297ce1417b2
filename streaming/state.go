package streaming

import "strings"

// ToolCallState is the per-tool-call-index state machine of §4.4:
// NotStarted -> Added (on the first delta seen for that index) ->
// Accumulating (on first arguments chunk) -> Done (set by the Responses
// table when it finalizes open calls at stream close; the Anthropic table
// closes its blocks without setting Done). A transition must never skip
// Added before any delta is emitted.
type ToolCallState int

const (
	NotStarted ToolCallState = iota
	Added
	Accumulating
	Done
)

// toolCallTracker holds the accumulated state for one upstream tool-call
// index across the life of a stream.
type toolCallTracker struct {
	state      ToolCallState
	id         string // assigned locally if upstream omitted one (§4.4)
	name       string
	args       strings.Builder
	blockIndex int // anthropic content-block index, assigned on Added
}

func (t *toolCallTracker) accumulatedArgs() string { return t.args.String() }
