// Package dialect implements the Dialect Switch (§4.5): bidirectional
// translation between a client wire dialect and the canonical shape shared
// by every stage downstream of it.
package dialect

import (
	"fmt"

	"github.com/BaSui01/llmrouter/types"
)

// Codec is one dialect's bidirectional translator. It never inspects a
// payload to decide which dialect it belongs to (§4.5): selection happens
// once, at pipeline-build time, from the declared client dialect or the
// entryEndpoint metadata.
type Codec interface {
	Dialect() types.Dialect

	// ToCanonical translates a client-dialect request body into the
	// canonical shape.
	ToCanonical(body types.DialectBody) (types.CanonicalRequest, error)

	// FromCanonical folds a canonical response back into this dialect's
	// wire shape.
	FromCanonical(resp types.CanonicalResponse) (types.DialectBody, error)
}

// Registry is the closed, static table of codecs keyed by dialect and by
// entry endpoint, built once at startup (§9: static factory table instead
// of a dynamic string registry).
type Registry struct {
	byDialect  map[types.Dialect]Codec
	byEndpoint map[string]Codec
}

// NewRegistry builds the fixed three-codec registry.
func NewRegistry() *Registry {
	chat := ChatCodec{}
	responses := ResponsesCodec{}
	anthropic := AnthropicCodec{}
	return &Registry{
		byDialect: map[types.Dialect]Codec{
			types.DialectChat:      chat,
			types.DialectResponses: responses,
			types.DialectAnthropic: anthropic,
		},
		byEndpoint: map[string]Codec{
			types.EntryChatEndpoint: chat,
			types.EntryResponses:    responses,
			types.EntryMessages:     anthropic,
		},
	}
}

func (r *Registry) ForDialect(d types.Dialect) (Codec, bool) {
	c, ok := r.byDialect[d]
	return c, ok
}

func (r *Registry) ForEndpoint(endpoint string) (Codec, bool) {
	c, ok := r.byEndpoint[endpoint]
	return c, ok
}

// translationFailed builds the §4.5 DialectTranslationFailed error.
func translationFailed(direction string, d types.Dialect, reason string) *types.RouterError {
	return types.NewRouterError(types.DialectTranslationFailed,
		fmt.Sprintf("dialect translation failed: direction=%s dialect=%s reason=%s", direction, d, reason))
}
