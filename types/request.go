package types

import "strings"

// LogicalRoute is a category name drawn from the closed set enumerated in
// RouteCategories (§3).
type LogicalRoute string

const (
	RouteDefault     LogicalRoute = "default"
	RouteCoding      LogicalRoute = "coding"
	RouteLongContext LogicalRoute = "longcontext"
	RouteTools       LogicalRoute = "tools"
	RouteThinking    LogicalRoute = "thinking"
	RouteVision      LogicalRoute = "vision"
	RouteWebSearch   LogicalRoute = "websearch"
	RouteBackground  LogicalRoute = "background"
)

// RouteCategories enumerates the full closed set; used to validate resolved
// configuration at build time.
var RouteCategories = []LogicalRoute{
	RouteDefault, RouteCoding, RouteLongContext, RouteTools,
	RouteThinking, RouteVision, RouteWebSearch, RouteBackground,
}

func (r LogicalRoute) Valid() bool {
	for _, c := range RouteCategories {
		if c == r {
			return true
		}
	}
	return false
}

// PipelineHandle is the (providerId, modelId, keyId) triple of §3, unique
// within the process.
type PipelineHandle struct {
	ProviderID string
	ModelID    string
	KeyID      string
}

// String encodes the handle canonically as "providerId.modelId__keyId". If
// KeyID is empty the "__keyId" suffix is omitted.
func (h PipelineHandle) String() string {
	if h.KeyID == "" {
		return h.ProviderID + "." + h.ModelID
	}
	return h.ProviderID + "." + h.ModelID + "__" + h.KeyID
}

// ParsePipelineHandle inverts String. modelId may itself contain dots; only
// the trailing "__keyId" suffix (if present) is split off the end.
func ParsePipelineHandle(s string) (PipelineHandle, bool) {
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return PipelineHandle{}, false
	}
	providerID := s[:dot]
	rest := s[dot+1:]
	if rest == "" {
		return PipelineHandle{}, false
	}

	modelID := rest
	keyID := ""
	if idx := strings.LastIndex(rest, "__"); idx >= 0 {
		modelID = rest[:idx]
		keyID = rest[idx+2:]
	}
	if modelID == "" {
		return PipelineHandle{}, false
	}
	return PipelineHandle{ProviderID: providerID, ModelID: modelID, KeyID: keyID}, true
}

// Request is one client-issued invocation (§3).
type Request struct {
	Dialect        Dialect
	Body           DialectBody
	StreamFlag     *bool
	RouteCategory  LogicalRoute
	RequestID      string
	ClientDebug    bool
	EntryEndpoint  string
}

// Streaming reports the effective stream flag, defaulting to false when the
// client omitted it.
func (r Request) Streaming() bool {
	return r.StreamFlag != nil && *r.StreamFlag
}
