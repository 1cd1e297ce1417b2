package streaming

import "encoding/json"

// chatChunk is the upstream Chat-dialect SSE data payload (§4.4: both
// mandatory translation tables assume a Chat-dialect upstream). It mirrors
// the minimal subset of an OpenAI-style streaming chunk the coalescer needs.
type chatChunk struct {
	ID      string            `json:"id"`
	Created int64             `json:"created"`
	Model   string            `json:"model"`
	Choices []chatChunkChoice `json:"choices"`
	Usage   *chatChunkUsage   `json:"usage,omitempty"`
}

type chatChunkChoice struct {
	Index        int            `json:"index"`
	Delta        chatChunkDelta `json:"delta"`
	FinishReason string         `json:"finish_reason,omitempty"`
}

type chatChunkDelta struct {
	Content   string                   `json:"content,omitempty"`
	ToolCalls []chatChunkToolCallDelta `json:"tool_calls,omitempty"`
}

type chatChunkToolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function,omitempty"`
}

type chatChunkUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func parseChatChunk(data string) (chatChunk, error) {
	var c chatChunk
	err := json.Unmarshal([]byte(data), &c)
	return c, err
}
