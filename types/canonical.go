package types

// SamplingParams carries the provider-agnostic generation knobs every
// dialect exposes in some form.
type SamplingParams struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	MaxTokens        *int     `json:"max_tokens,omitempty"`
	Stop             []string `json:"stop,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
}

// ToolChoice mirrors the Chat-dialect tool_choice shape: either a literal
// mode ("auto", "none", "required") or a forced tool name.
type ToolChoice struct {
	Mode string `json:"mode,omitempty"`
	Name string `json:"name,omitempty"`
}

// CanonicalRequest is the internal shape after Switch(inbound) — a
// Chat-dialect superset (§3). Every dialect's request round-trips through
// this without semantic loss for the subset of fields the receiving
// provider supports.
type CanonicalRequest struct {
	Model       string
	Messages    []Message
	Tools       []ToolSchema
	ToolChoice  *ToolChoice
	StreamFlag  bool
	Sampling    SamplingParams
	Metadata    map[string]any
	Instructions string // Responses-dialect system-style instructions, if any
}

// Choice is one CanonicalResponse completion choice.
type Choice struct {
	Index        int
	Message      Message
	FinishReason string
}

// CanonicalResponse mirrors CanonicalRequest (§3). A buffered (non-streaming)
// response carries Choices directly; a streaming response is instead
// represented as a sequence of CanonicalDelta values consumed by the
// Streaming Coalescer.
type CanonicalResponse struct {
	ID        string
	CreatedAt int64
	Model     string
	Choices   []Choice
	Usage     *TokenUsage
}

// DeltaKind discriminates the CanonicalDelta variants of §3.
type DeltaKind string

const (
	DeltaText     DeltaKind = "text"
	DeltaToolCall DeltaKind = "tool_call"
	DeltaFinish   DeltaKind = "finish"
	DeltaError    DeltaKind = "error"
)

// CanonicalDelta is one incremental unit of a streaming CanonicalResponse.
// textDelta and toolCallDelta may interleave; finishDelta is terminal (§3).
type CanonicalDelta struct {
	Kind DeltaKind

	// DeltaText
	Content string

	// DeltaToolCall
	ToolCallIndex     int
	ToolCallID        string // present only once, on first observation
	ToolCallName      string // present only once, on first observation
	ArgumentsChunk    string

	// DeltaFinish
	FinishReason string
	Usage        *TokenUsage

	// DeltaError
	ErrorCode    string
	ErrorMessage string
}
