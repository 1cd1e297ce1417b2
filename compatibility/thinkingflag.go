package compatibility

import "github.com/BaSui01/llmrouter/types"

// ThinkingFlag injects the vendor-required "thinking" toggle on the request
// side when the model needs one explicitly enabled (§4.3). It is a no-op on
// the response side; the flag never appears in the response body.
type ThinkingFlag struct{}

func (ThinkingFlag) Name() string { return "thinking_flag" }

func (ThinkingFlag) ApplyRequest(body types.DialectBody, cfg Config) (types.DialectBody, error) {
	if cfg.ThinkingFieldPath == "" {
		return body, nil
	}
	return body.Set(cfg.ThinkingFieldPath, cfg.ThinkingValue)
}

func (ThinkingFlag) ApplyResponse(body types.DialectBody, _ Config) (types.DialectBody, error) {
	return body, nil
}
