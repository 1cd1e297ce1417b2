// Package compatibility implements the Compatibility Patch (§4.3):
// provider-specific rewrites that cannot be expressed at the Dialect Switch
// layer because they depend on the concrete upstream vendor. Every patch is
// a pure function of (body, configuration) with no network or disk effects.
package compatibility

import (
	"fmt"

	"github.com/BaSui01/llmrouter/types"
)

// Patch is one named, directional rewrite. Request-side patches run after
// the Switch and before the Provider Adapter; response-side patches run
// first, before the Streaming Coalescer (§4.3).
type Patch interface {
	Name() string
	ApplyRequest(body types.DialectBody, cfg Config) (types.DialectBody, error)
	ApplyResponse(body types.DialectBody, cfg Config) (types.DialectBody, error)
}

// Config is the per-provider configuration a Patch reads; it never varies
// per request, only per (providerId, modelId) pairing resolved at startup.
type Config struct {
	// FieldRenames maps canonical request field paths to vendor-specific
	// ones (request side); reversed automatically on the response side.
	FieldRenames map[string]string

	// ThinkingFieldPath, when non-empty, is the path a ThinkingFlag patch
	// injects ThinkingValue at on the request side.
	ThinkingFieldPath string
	ThinkingValue     any

	// ToolArgsAsJSONString, when true, tells the ToolArgCanonicalization
	// patch to coerce function-call arguments into a JSON-encoded string
	// rather than a nested object.
	ToolArgsAsJSONString bool

	// MergeConsecutiveRoles, when true, tells the RoleNormalization patch to
	// merge consecutive same-role messages into one.
	MergeConsecutiveRoles bool
}

// Chain applies an ordered sequence of Patches, grounded on the rewriter-
// chain idiom: named steps, first failure aborts and is wrapped with the
// offending patch's name attached.
type Chain struct {
	patches []Patch
}

// NewChain builds a Chain from the given patches in application order.
func NewChain(patches ...Patch) *Chain {
	return &Chain{patches: patches}
}

// ApplyRequest runs every patch's ApplyRequest in order.
func (c *Chain) ApplyRequest(body types.DialectBody, cfg Config) (types.DialectBody, error) {
	if c == nil {
		return body, nil
	}
	var err error
	for _, p := range c.patches {
		body, err = p.ApplyRequest(body, cfg)
		if err != nil {
			return types.DialectBody{}, fmt.Errorf("compatibility patch %q (request): %w", p.Name(), err)
		}
	}
	return body, nil
}

// ApplyResponse runs every patch's ApplyResponse in REVERSE order, undoing
// request-side rewrites symmetrically (the last patch applied on the
// request side is the first one that needs undoing on the response side).
func (c *Chain) ApplyResponse(body types.DialectBody, cfg Config) (types.DialectBody, error) {
	if c == nil {
		return body, nil
	}
	var err error
	for i := len(c.patches) - 1; i >= 0; i-- {
		p := c.patches[i]
		body, err = p.ApplyResponse(body, cfg)
		if err != nil {
			return types.DialectBody{}, fmt.Errorf("compatibility patch %q (response): %w", p.Name(), err)
		}
	}
	return body, nil
}
