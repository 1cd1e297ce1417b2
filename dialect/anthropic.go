package dialect

import (
	"encoding/json"

	"github.com/BaSui01/llmrouter/types"
)

// AnthropicCodec translates the Anthropic Messages dialect { system?,
// messages[{role, content|content-blocks[]}], tools[{name, input_schema}] }
// into CanonicalRequest, mapping tool_use blocks to ToolCalls and
// tool_result blocks to the tool role (§4.5).
type AnthropicCodec struct{}

func (AnthropicCodec) Dialect() types.Dialect { return types.DialectAnthropic }

type anthropicContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content json.RawMessage         `json:"content"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type anthropicWireRequest struct {
	Model     string             `json:"model"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
	Stream    bool               `json:"stream,omitempty"`
	MaxTokens *int               `json:"max_tokens,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	TopP        *float64         `json:"top_p,omitempty"`
	StopSequences []string       `json:"stop_sequences,omitempty"`
}

func (AnthropicCodec) ToCanonical(body types.DialectBody) (types.CanonicalRequest, error) {
	var wr anthropicWireRequest
	if err := json.Unmarshal(body.Bytes(), &wr); err != nil {
		return types.CanonicalRequest{}, translationFailed("request", types.DialectAnthropic, err.Error())
	}

	cr := types.CanonicalRequest{
		Model:      wr.Model,
		StreamFlag: wr.Stream,
		Sampling: types.SamplingParams{
			Temperature: wr.Temperature,
			TopP:        wr.TopP,
			MaxTokens:   wr.MaxTokens,
			Stop:        wr.StopSequences,
		},
	}
	if wr.System != "" {
		cr.Messages = append(cr.Messages, types.NewSystemMessage(wr.System))
	}

	for _, m := range wr.Messages {
		msgs, err := anthropicMessageToCanonical(m)
		if err != nil {
			return types.CanonicalRequest{}, translationFailed("request", types.DialectAnthropic, err.Error())
		}
		cr.Messages = append(cr.Messages, msgs...)
	}

	for _, t := range wr.Tools {
		cr.Tools = append(cr.Tools, types.ToolSchema{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.InputSchema,
		})
	}
	return cr, nil
}

// anthropicMessageToCanonical handles both the plain-string content form and
// the content-blocks form; a single Anthropic message can fold into more
// than one canonical message when it mixes text with tool_result blocks.
func anthropicMessageToCanonical(m anthropicMessage) ([]types.Message, error) {
	role := types.Role(m.Role)

	var asString string
	if err := json.Unmarshal(m.Content, &asString); err == nil {
		return []types.Message{types.NewMessage(role, asString)}, nil
	}

	var blocks []anthropicContentBlock
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return nil, err
	}

	var out []types.Message
	var textBuf string
	var toolCalls []types.ToolCall

	flushText := func() {
		if textBuf != "" {
			out = append(out, types.NewMessage(role, textBuf))
			textBuf = ""
		}
	}

	for _, b := range blocks {
		switch b.Type {
		case "text":
			textBuf += b.Text
		case "tool_use":
			toolCalls = append(toolCalls, types.ToolCall{ID: b.ID, Name: b.Name, Arguments: b.Input})
		case "tool_result":
			out = append(out, types.NewToolMessage(b.ToolUseID, "", string(b.Content)))
		}
	}
	flushText()
	if len(toolCalls) > 0 {
		out = append(out, types.NewMessage(types.RoleAssistant, "").WithToolCalls(toolCalls))
	}
	return out, nil
}

type anthropicWireResponse struct {
	ID           string                  `json:"id"`
	Type         string                  `json:"type"`
	Role         string                  `json:"role"`
	Model        string                  `json:"model"`
	Content      []anthropicContentBlock `json:"content"`
	StopReason   string                  `json:"stop_reason,omitempty"`
	Usage        *anthropicUsage         `json:"usage,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (AnthropicCodec) FromCanonical(resp types.CanonicalResponse) (types.DialectBody, error) {
	wr := anthropicWireResponse{
		ID:    resp.ID,
		Type:  "message",
		Role:  "assistant",
		Model: resp.Model,
	}

	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		if choice.Message.Content != "" {
			wr.Content = append(wr.Content, anthropicContentBlock{Type: "text", Text: choice.Message.Content})
		}
		for _, tc := range choice.Message.ToolCalls {
			wr.Content = append(wr.Content, anthropicContentBlock{
				Type:  "tool_use",
				ID:    tc.ID,
				Name:  tc.Name,
				Input: tc.Arguments,
			})
		}
		wr.StopReason = mapFinishReasonToStopReason(choice.FinishReason)
	}
	if resp.Usage != nil {
		wr.Usage = &anthropicUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}

	data, err := json.Marshal(wr)
	if err != nil {
		return types.DialectBody{}, translationFailed("response", types.DialectAnthropic, err.Error())
	}
	return types.NewDialectBody(data), nil
}

// mapFinishReasonToStopReason applies §4.4's stop-reason mapping:
// length -> max_tokens, tool_calls -> tool_use, otherwise passthrough.
func mapFinishReasonToStopReason(reason string) string {
	switch reason {
	case "length":
		return "max_tokens"
	case "tool_calls":
		return "tool_use"
	default:
		return reason
	}
}
