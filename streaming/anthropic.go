package streaming

import (
	"context"
	"strings"
	"time"

	"github.com/BaSui01/llmrouter/provider"
)

type anthropicMessageStartPayload struct {
	Message anthropicMessageStart `json:"message"`
}

type anthropicMessageStart struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Role  string `json:"role"`
	Model string `json:"model"`
}

type anthropicBlockStartPayload struct {
	Index        int                  `json:"index"`
	ContentBlock anthropicBlockSummary `json:"content_block"`
}

type anthropicBlockSummary struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

type anthropicBlockDeltaPayload struct {
	Index int                 `json:"index"`
	Delta anthropicDeltaShape `json:"delta"`
}

type anthropicDeltaShape struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

type anthropicBlockStopPayload struct {
	Index int `json:"index"`
}

type anthropicMessageDeltaPayload struct {
	Delta anthropicMessageDeltaShape `json:"delta"`
	Usage *anthropicUsageShape       `json:"usage,omitempty"`
}

type anthropicMessageDeltaShape struct {
	StopReason string `json:"stop_reason,omitempty"`
}

type anthropicUsageShape struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ToAnthropic runs the Chat-dialect-upstream -> Anthropic-Messages-client
// translation table (§4.4, table 2).
func (c *Coalescer) ToAnthropic(ctx context.Context, in <-chan provider.StreamResult) <-chan Event {
	out := make(chan Event)
	go func() {
		if err := acquirePump(ctx); err != nil {
			close(out)
			return
		}
		defer releasePump()
		c.pumpAnthropic(ctx, in, out)
	}()
	return out
}

func (c *Coalescer) pumpAnthropic(ctx context.Context, in <-chan provider.StreamResult, out chan<- Event) {
	defer close(out)

	seq := 0
	messageStarted := false
	calls := trackers{}
	var orderedToolIndexes []int

	nextBlockIndex := 0
	textBlockIndex := -1

	var pendingText strings.Builder
	var flushTimer *time.Timer
	var flushC <-chan time.Time

	openTextBlockIfNeeded := func() bool {
		if textBlockIndex >= 0 {
			return true
		}
		textBlockIndex = nextBlockIndex
		nextBlockIndex++
		return emitCtx(ctx, out, &seq, "content_block_start", anthropicBlockStartPayload{
			Index: textBlockIndex, ContentBlock: anthropicBlockSummary{Type: "text"},
		})
	}

	flushText := func() bool {
		if pendingText.Len() == 0 {
			return true
		}
		if !openTextBlockIfNeeded() {
			return false
		}
		text := pendingText.String()
		pendingText.Reset()
		return emitCtx(ctx, out, &seq, "content_block_delta", anthropicBlockDeltaPayload{
			Index: textBlockIndex, Delta: anthropicDeltaShape{Type: "text_delta", Text: text},
		})
	}

	armTimer := func() {
		if c.textWindow <= 0 {
			flushText()
			return
		}
		if flushTimer == nil {
			flushTimer = time.NewTimer(c.textWindow)
			flushC = flushTimer.C
			return
		}
		if !flushTimer.Stop() {
			select {
			case <-flushTimer.C:
			default:
			}
		}
		flushTimer.Reset(c.textWindow)
	}
	defer func() {
		if flushTimer != nil {
			flushTimer.Stop()
		}
	}()

	var finalFinishReason string
	var finalUsage *anthropicUsageShape
	done := false

	finalize := func() {
		flushText()
		if textBlockIndex >= 0 {
			emitCtx(ctx, out, &seq, "content_block_stop", anthropicBlockStopPayload{Index: textBlockIndex})
		}
		for _, idx := range orderedToolIndexes {
			tr := calls.get(idx)
			emitCtx(ctx, out, &seq, "content_block_stop", anthropicBlockStopPayload{Index: tr.blockIndex})
		}
		emitCtx(ctx, out, &seq, "message_delta", anthropicMessageDeltaPayload{
			Delta: anthropicMessageDeltaShape{StopReason: mapStopReason(finalFinishReason)}, Usage: finalUsage,
		})
		emitCtx(ctx, out, &seq, "message_stop", struct{}{})
	}

	onError := func(err error) {
		emitCtx(ctx, out, &seq, "message_delta", anthropicMessageDeltaPayload{
			Delta: anthropicMessageDeltaShape{StopReason: "error"},
		})
		emitCtx(ctx, out, &seq, "message_stop", struct{}{})
		done = true
	}

	onChunk := func(chunk chatChunk) bool {
		if !messageStarted && chunk.ID != "" {
			messageStarted = true
			if !emitCtx(ctx, out, &seq, "message_start", anthropicMessageStartPayload{
				Message: anthropicMessageStart{ID: chunk.ID, Type: "message", Role: "assistant", Model: chunk.Model},
			}) {
				return false
			}
		}
		if chunk.Usage != nil {
			finalUsage = &anthropicUsageShape{InputTokens: chunk.Usage.PromptTokens, OutputTokens: chunk.Usage.CompletionTokens}
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				pendingText.WriteString(choice.Delta.Content)
				armTimer()
			}
			for _, tc := range choice.Delta.ToolCalls {
				tr := calls.get(tc.Index)
				if tr.state == NotStarted {
					tr.id = assignToolCallID(tc.ID)
					tr.name = tc.Function.Name
					tr.state = Added
					tr.blockIndex = nextBlockIndex
					nextBlockIndex++
					orderedToolIndexes = append(orderedToolIndexes, tc.Index)
					if !emitCtx(ctx, out, &seq, "content_block_start", anthropicBlockStartPayload{
						Index: tr.blockIndex, ContentBlock: anthropicBlockSummary{Type: "tool_use", ID: tr.id, Name: tr.name},
					}) {
						return false
					}
				}
				if tc.Function.Arguments != "" {
					tr.state = Accumulating
					tr.args.WriteString(tc.Function.Arguments)
					if !emitCtx(ctx, out, &seq, "content_block_delta", anthropicBlockDeltaPayload{
						Index: tr.blockIndex, Delta: anthropicDeltaShape{Type: "input_json_delta", PartialJSON: tc.Function.Arguments},
					}) {
						return false
					}
				}
			}
			if choice.FinishReason != "" {
				finalFinishReason = choice.FinishReason
			}
		}
		return true
	}

	pumpInput(ctx, in, func() <-chan time.Time { return flushC }, func() { flushText() }, onChunk, onError)
	if !done {
		finalize()
	}
}

// mapStopReason applies §4.4's stop-reason mapping: length -> max_tokens,
// tool_calls -> tool_use, otherwise passthrough.
func mapStopReason(reason string) string {
	switch reason {
	case "length":
		return "max_tokens"
	case "tool_calls":
		return "tool_use"
	default:
		return reason
	}
}
