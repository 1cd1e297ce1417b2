package dialect

import (
	"encoding/json"

	"github.com/BaSui01/llmrouter/types"
)

// ResponsesCodec translates the Responses-dialect { input[], instructions?,
// tools[] } request shape into CanonicalRequest, and folds a
// CanonicalResponse's first choice into a Responses-shaped { output[],
// usage } body (§4.5).
type ResponsesCodec struct{}

func (ResponsesCodec) Dialect() types.Dialect { return types.DialectResponses }

type responsesInputItem struct {
	Type    string `json:"type"`
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`

	// function_call_output items echo a prior tool result back to the model.
	CallID string `json:"call_id,omitempty"`
	Output string `json:"output,omitempty"`
}

type responsesWireRequest struct {
	Model        string               `json:"model"`
	Input        []responsesInputItem `json:"input"`
	Instructions string               `json:"instructions,omitempty"`
	Tools        []wireToolFunc       `json:"tools,omitempty"`
	Stream       bool                 `json:"stream,omitempty"`
	Temperature  *float64             `json:"temperature,omitempty"`
	TopP         *float64             `json:"top_p,omitempty"`
	MaxTokens    *int                 `json:"max_output_tokens,omitempty"`
}

func (ResponsesCodec) ToCanonical(body types.DialectBody) (types.CanonicalRequest, error) {
	var wr responsesWireRequest
	if err := json.Unmarshal(body.Bytes(), &wr); err != nil {
		return types.CanonicalRequest{}, translationFailed("request", types.DialectResponses, err.Error())
	}

	cr := types.CanonicalRequest{
		Model:        wr.Model,
		StreamFlag:   wr.Stream,
		Instructions: wr.Instructions,
		Sampling: types.SamplingParams{
			Temperature: wr.Temperature,
			TopP:        wr.TopP,
			MaxTokens:   wr.MaxTokens,
		},
	}
	if wr.Instructions != "" {
		cr.Messages = append(cr.Messages, types.NewSystemMessage(wr.Instructions))
	}
	for _, item := range wr.Input {
		switch item.Type {
		case "function_call_output":
			cr.Messages = append(cr.Messages, types.NewToolMessage(item.CallID, "", item.Output))
		default:
			role := types.Role(item.Role)
			if role == "" {
				role = types.RoleUser
			}
			cr.Messages = append(cr.Messages, types.NewMessage(role, item.Content))
		}
	}
	for _, t := range wr.Tools {
		cr.Tools = append(cr.Tools, types.ToolSchema{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return cr, nil
}

type responsesOutputItem struct {
	Type   string              `json:"type"`
	ID     string              `json:"id,omitempty"`
	Role   string              `json:"role,omitempty"`
	Content []responsesContent `json:"content,omitempty"`

	// function_call fields
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Status    string `json:"status,omitempty"`
}

type responsesContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responsesWireResponse struct {
	ID        string                `json:"id"`
	Object    string                `json:"object"`
	CreatedAt int64                 `json:"created_at,omitempty"`
	Model     string                `json:"model"`
	Status    string                `json:"status"`
	Output    []responsesOutputItem `json:"output"`
	Usage     *chatWireUsage        `json:"usage,omitempty"`
}

func (ResponsesCodec) FromCanonical(resp types.CanonicalResponse) (types.DialectBody, error) {
	wr := responsesWireResponse{
		ID:        resp.ID,
		Object:    "response",
		CreatedAt: resp.CreatedAt,
		Model:     resp.Model,
		Status:    "completed",
	}

	if len(resp.Choices) > 0 {
		msg := resp.Choices[0].Message
		if len(msg.ToolCalls) > 0 {
			for _, tc := range msg.ToolCalls {
				wr.Output = append(wr.Output, responsesOutputItem{
					Type:      "function_call",
					CallID:    tc.ID,
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
					Status:    "completed",
				})
			}
		} else {
			wr.Output = append(wr.Output, responsesOutputItem{
				Type: "message",
				Role: string(msg.Role),
				Content: []responsesContent{
					{Type: "output_text", Text: msg.Content},
				},
				Status: "completed",
			})
		}
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
		return types.DialectBody{}, translationFailed("response", types.DialectResponses, err.Error())
	}
	return types.NewDialectBody(data), nil
}
