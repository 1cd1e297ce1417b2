// Package pipeline implements the Pipeline Instance (§4.6): an immutable
// four-stage assembly — Switch, Workflow, Compatibility, Provider — that
// runs one request through in order and the response back through in
// reverse.
package pipeline

import "github.com/BaSui01/llmrouter/types"

// ProcessMode is the fixed shape an Instance was built for.
type ProcessMode string

const (
	ModeChat        ProcessMode = "chat"
	ModeResponses   ProcessMode = "responses"
	ModeAnthropic   ProcessMode = "anthropic"
	ModePassthrough ProcessMode = "passthrough"
)

// StreamingPolicy governs whether the Workflow stage honors the client's
// stream flag, forces it, or forbids it (§4.6's Workflow/streaming policy).
type StreamingPolicy string

const (
	PolicyAlways StreamingPolicy = "always"
	PolicyNever  StreamingPolicy = "never"
	PolicyAuto   StreamingPolicy = "auto"
)

// Blueprint is the static description returned by Instance.Blueprint: the
// kind of each of the four stages plus the policy knobs that shape how they
// run, none of which change once the Instance is built.
type Blueprint struct {
	SwitchKind        string
	WorkflowKind      string
	CompatibilityKind string
	ProviderKind      string
	ProviderProtocols []string
	StreamingPolicy   StreamingPolicy
	ProcessMode       ProcessMode
}

// clientDialect returns the dialect an Instance's processMode speaks on the
// client side, or "" for passthrough (which has none).
func (m ProcessMode) clientDialect() types.Dialect {
	switch m {
	case ModeChat:
		return types.DialectChat
	case ModeResponses:
		return types.DialectResponses
	case ModeAnthropic:
		return types.DialectAnthropic
	default:
		return ""
	}
}
