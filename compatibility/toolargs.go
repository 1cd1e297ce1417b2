package compatibility

import (
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/BaSui01/llmrouter/types"
)

// ToolCallsPath is where, in the response body, the array of tool-call
// entries lives. It is fixed to the canonical CanonicalResponse shape;
// Dialect codecs run before this patch on the response side only when the
// chain is reordered for a dialect that doesn't share this shape, which
// SPEC_FULL's pipeline never does (the patch always sees the canonical
// Chat-dialect response shape).
const ToolCallsPath = "choices.0.message.tool_calls"

// ToolArgCanonicalization coerces function-call arguments between a nested
// JSON object and a JSON-encoded string, depending on what the provider
// requires (§4.3). ApplyRequest and ApplyResponse both rewrite only the
// entries at ToolCallsPath, a response-body path; tool calls carried in a
// request's messages[].tool_calls are not rewritten.
type ToolArgCanonicalization struct{}

func (ToolArgCanonicalization) Name() string { return "tool_arg_canonicalization" }

func (t ToolArgCanonicalization) ApplyRequest(body types.DialectBody, cfg Config) (types.DialectBody, error) {
	return normalizeToolArgs(body, cfg.ToolArgsAsJSONString)
}

func (t ToolArgCanonicalization) ApplyResponse(body types.DialectBody, cfg Config) (types.DialectBody, error) {
	return normalizeToolArgs(body, cfg.ToolArgsAsJSONString)
}

func normalizeToolArgs(body types.DialectBody, asString bool) (types.DialectBody, error) {
	arr, ok := body.Get(ToolCallsPath)
	if !ok || !arr.IsArray() {
		return body, nil
	}

	items := arr.Array()
	var err error
	for i, item := range items {
		argsPath := fmt.Sprintf("%s.%d.function.arguments", ToolCallsPath, i)
		v := item.Get("function.arguments")
		if !v.Exists() {
			continue
		}

		switch {
		case asString && v.Type != gjson.String:
			body, err = body.Set(argsPath, v.Raw)
		case !asString && v.Type == gjson.String:
			body, err = body.SetRaw(argsPath, v.String())
		}
		if err != nil {
			return types.DialectBody{}, err
		}
	}
	return body, nil
}
