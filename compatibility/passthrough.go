package compatibility

import "github.com/BaSui01/llmrouter/types"

// Passthrough is the zero-op variant (§4.3): providers that need no
// compatibility rewriting at all still get a named Patch so the pipeline's
// stage list is uniform.
type Passthrough struct{}

func (Passthrough) Name() string { return "passthrough" }

func (Passthrough) ApplyRequest(body types.DialectBody, _ Config) (types.DialectBody, error) {
	return body, nil
}

func (Passthrough) ApplyResponse(body types.DialectBody, _ Config) (types.DialectBody, error) {
	return body, nil
}
