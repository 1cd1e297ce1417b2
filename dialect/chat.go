package dialect

import (
	"encoding/json"

	"github.com/BaSui01/llmrouter/types"
)

// ChatCodec is the identity codec (§4.5): the canonical shape already is a
// Chat-dialect superset, so translation is a direct (de)serialization with
// no field remapping.
type ChatCodec struct{}

func (ChatCodec) Dialect() types.Dialect { return types.DialectChat }

type wireMessage struct {
	Role       string          `json:"role"`
	Content    string          `json:"content,omitempty"`
	Name       string          `json:"name,omitempty"`
	ToolCalls  []wireToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Function wireToolCallFn  `json:"function"`
}

type wireToolCallFn struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireToolFunc `json:"function"`
}

type wireToolFunc struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type chatWireRequest struct {
	Model            string          `json:"model"`
	Messages         []wireMessage   `json:"messages"`
	Tools            []wireTool      `json:"tools,omitempty"`
	ToolChoice       json.RawMessage `json:"tool_choice,omitempty"`
	Stream           bool            `json:"stream,omitempty"`
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	MaxTokens        *int            `json:"max_tokens,omitempty"`
	Stop             []string        `json:"stop,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
}

type chatWireChoice struct {
	Index        int         `json:"index"`
	Message      wireMessage `json:"message"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

type chatWireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatWireResponse struct {
	ID      string           `json:"id"`
	Object  string           `json:"object,omitempty"`
	Created int64            `json:"created,omitempty"`
	Model   string           `json:"model"`
	Choices []chatWireChoice `json:"choices"`
	Usage   *chatWireUsage   `json:"usage,omitempty"`
}

func (ChatCodec) ToCanonical(body types.DialectBody) (types.CanonicalRequest, error) {
	var wr chatWireRequest
	if err := json.Unmarshal(body.Bytes(), &wr); err != nil {
		return types.CanonicalRequest{}, translationFailed("request", types.DialectChat, err.Error())
	}

	cr := types.CanonicalRequest{
		Model:      wr.Model,
		StreamFlag: wr.Stream,
		Sampling: types.SamplingParams{
			Temperature:      wr.Temperature,
			TopP:             wr.TopP,
			MaxTokens:        wr.MaxTokens,
			Stop:             wr.Stop,
			PresencePenalty:  wr.PresencePenalty,
			FrequencyPenalty: wr.FrequencyPenalty,
		},
	}
	for _, m := range wr.Messages {
		cr.Messages = append(cr.Messages, wireMessageToCanonical(m))
	}
	for _, t := range wr.Tools {
		cr.Tools = append(cr.Tools, types.ToolSchema{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
		})
	}
	if len(wr.ToolChoice) > 0 {
		cr.ToolChoice = parseToolChoice(wr.ToolChoice)
	}
	return cr, nil
}

func wireMessageToCanonical(m wireMessage) types.Message {
	msg := types.NewMessage(types.Role(m.Role), m.Content)
	msg.Name = m.Name
	msg.ToolCallID = m.ToolCallID
	if len(m.ToolCalls) > 0 {
		calls := make([]types.ToolCall, 0, len(m.ToolCalls))
		for _, tc := range m.ToolCalls {
			calls = append(calls, types.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: json.RawMessage(tc.Function.Arguments),
			})
		}
		msg = msg.WithToolCalls(calls)
	}
	return msg
}

func parseToolChoice(raw json.RawMessage) *types.ToolChoice {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return &types.ToolChoice{Mode: asString}
	}
	var asObject struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(raw, &asObject); err == nil && asObject.Function.Name != "" {
		return &types.ToolChoice{Mode: "required", Name: asObject.Function.Name}
	}
	return nil
}

// RequestFromCanonical folds a canonical request into Chat-dialect wire JSON.
// The Provider Adapter always speaks Chat dialect upstream (§4.4), so the
// Pipeline Instance uses this — not a client codec's FromCanonical, which
// only handles responses — to build the body it hands to Provider.
func (ChatCodec) RequestFromCanonical(cr types.CanonicalRequest) (types.DialectBody, error) {
	wr := chatWireRequest{
		Model:            cr.Model,
		Stream:           cr.StreamFlag,
		Temperature:      cr.Sampling.Temperature,
		TopP:             cr.Sampling.TopP,
		MaxTokens:        cr.Sampling.MaxTokens,
		Stop:             cr.Sampling.Stop,
		PresencePenalty:  cr.Sampling.PresencePenalty,
		FrequencyPenalty: cr.Sampling.FrequencyPenalty,
	}
	for _, m := range cr.Messages {
		wr.Messages = append(wr.Messages, canonicalMessageToWire(m))
	}
	for _, t := range cr.Tools {
		wr.Tools = append(wr.Tools, wireTool{
			Type: "function",
			Function: wireToolFunc{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	if cr.ToolChoice != nil {
		wr.ToolChoice = encodeToolChoice(cr.ToolChoice)
	}
	data, err := json.Marshal(wr)
	if err != nil {
		return types.DialectBody{}, translationFailed("request", types.DialectChat, err.Error())
	}
	return types.NewDialectBody(data), nil
}

func encodeToolChoice(tc *types.ToolChoice) json.RawMessage {
	if tc.Name != "" {
		data, _ := json.Marshal(struct {
			Type     string `json:"type"`
			Function struct {
				Name string `json:"name"`
			} `json:"function"`
		}{Type: "function", Function: struct {
			Name string `json:"name"`
		}{Name: tc.Name}})
		return data
	}
	data, _ := json.Marshal(tc.Mode)
	return data
}

// ResponseToCanonical is the inverse of FromCanonical: it decodes a Chat-wire
// response — what Provider always returns — into the canonical shape the
// Switch stage folds into the client dialect.
func (ChatCodec) ResponseToCanonical(body types.DialectBody) (types.CanonicalResponse, error) {
	var wr chatWireResponse
	if err := json.Unmarshal(body.Bytes(), &wr); err != nil {
		return types.CanonicalResponse{}, translationFailed("response", types.DialectChat, err.Error())
	}
	cr := types.CanonicalResponse{ID: wr.ID, CreatedAt: wr.Created, Model: wr.Model}
	for _, ch := range wr.Choices {
		cr.Choices = append(cr.Choices, types.Choice{
			Index:        ch.Index,
			Message:      wireMessageToCanonical(ch.Message),
			FinishReason: ch.FinishReason,
		})
	}
	if wr.Usage != nil {
		cr.Usage = &types.TokenUsage{
			PromptTokens:     wr.Usage.PromptTokens,
			CompletionTokens: wr.Usage.CompletionTokens,
			TotalTokens:      wr.Usage.TotalTokens,
		}
	}
	return cr, nil
}

func (ChatCodec) FromCanonical(resp types.CanonicalResponse) (types.DialectBody, error) {
	wr := chatWireResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: resp.CreatedAt,
		Model:   resp.Model,
	}
	for _, c := range resp.Choices {
		wr.Choices = append(wr.Choices, chatWireChoice{
			Index:        c.Index,
			Message:      canonicalMessageToWire(c.Message),
			FinishReason: c.FinishReason,
		})
	}
	if resp.Usage != nil {
		wr.Usage = &chatWireUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	data, err := json.Marshal(wr)
	if err != nil {
		return types.DialectBody{}, translationFailed("response", types.DialectChat, err.Error())
	}
	return types.NewDialectBody(data), nil
}

func canonicalMessageToWire(m types.Message) wireMessage {
	out := wireMessage{Role: string(m.Role), Content: m.Content, Name: m.Name, ToolCallID: m.ToolCallID}
	for _, tc := range m.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, wireToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: wireToolCallFn{
				Name:      tc.Name,
				Arguments: string(tc.Arguments),
			},
		})
	}
	return out
}
