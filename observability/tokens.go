package observability

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/BaSui01/llmrouter/types"
)

// encodingForModel maps a model name prefix to its tiktoken encoding,
// adapted from the teacher's tokenizer.modelEncodings table
// (llm/tokenizer/tiktoken.go) down to the one thing the tracing span
// attributes of §11.2 need: an input token estimate, never a hard limit
// check or a retokenization.
var encodingForModel = map[string]string{
	"gpt-4o":        "o200k_base",
	"gpt-4o-mini":   "o200k_base",
	"gpt-4-turbo":   "cl100k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
	"claude":        "cl100k_base", // no official Anthropic tiktoken encoding; cl100k_base approximates it
}

const defaultEncoding = "cl100k_base"

// TokenEstimator counts CanonicalRequest input tokens for tracing/metrics
// metadata (§10.1/§11.2). It never influences routing or retry decisions;
// a failed estimate is reported as zero, not an error, since the caller is
// always reporting best-effort metadata.
type TokenEstimator struct {
	mu    sync.Mutex
	cache map[string]*tiktoken.Tiktoken
}

// NewTokenEstimator builds an estimator with a lazily populated per-encoding
// cache, since building a *tiktoken.Tiktoken is not free.
func NewTokenEstimator() *TokenEstimator {
	return &TokenEstimator{cache: make(map[string]*tiktoken.Tiktoken)}
}

func (e *TokenEstimator) encodingFor(model string) string {
	best, bestLen := defaultEncoding, -1
	for prefix, encoding := range encodingForModel {
		if len(prefix) > bestLen && len(model) >= len(prefix) && model[:len(prefix)] == prefix {
			best, bestLen = encoding, len(prefix)
		}
	}
	return best
}

func (e *TokenEstimator) encoder(model string) (*tiktoken.Tiktoken, error) {
	name := e.encodingFor(model)

	e.mu.Lock()
	defer e.mu.Unlock()
	if enc, ok := e.cache[name]; ok {
		return enc, nil
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, err
	}
	e.cache[name] = enc
	return enc, nil
}

// EstimateRequest counts tokens across every message's content plus the
// Responses-dialect Instructions field, per the teacher's CountMessages
// per-message-overhead convention (start/end markers, role tokens).
func (e *TokenEstimator) EstimateRequest(req types.CanonicalRequest) int {
	enc, err := e.encoder(req.Model)
	if err != nil {
		return 0
	}

	total := 0
	for _, msg := range req.Messages {
		total += 4 // per-message <|start|>role\ncontent<|end|>\n overhead
		total += len(enc.Encode(string(msg.Role), nil, nil))
		total += len(enc.Encode(msg.Content, nil, nil))
	}
	if req.Instructions != "" {
		total += len(enc.Encode(req.Instructions, nil, nil))
	}
	if total > 0 {
		total += 3 // conversation-end overhead
	}
	return total
}
