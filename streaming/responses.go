package streaming

import (
	"context"
	"strings"
	"time"

	"github.com/BaSui01/llmrouter/provider"
)

type responsesCreatedPayload struct {
	ID        string `json:"id"`
	Object    string `json:"object"`
	CreatedAt int64  `json:"created_at"`
	Model     string `json:"model"`
	Status    string `json:"status"`
}

type responsesTextDeltaPayload struct {
	OutputIndex  int    `json:"output_index"`
	ContentIndex int    `json:"content_index"`
	Delta        string `json:"delta"`
}

type responsesTextDonePayload struct {
	OutputIndex  int    `json:"output_index"`
	ContentIndex int    `json:"content_index"`
	Text         string `json:"text"`
}

type responsesItemAddedPayload struct {
	OutputIndex int                  `json:"output_index"`
	Item        responsesItemSummary `json:"item"`
}

type responsesItemSummary struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	CallID string `json:"call_id,omitempty"`
	Name   string `json:"name,omitempty"`
}

type responsesArgsDeltaPayload struct {
	OutputIndex int    `json:"output_index"`
	CallID      string `json:"call_id"`
	Delta       string `json:"delta"`
}

type responsesArgsDonePayload struct {
	OutputIndex int    `json:"output_index"`
	CallID      string `json:"call_id"`
	Arguments   string `json:"arguments"`
}

type responsesCompletedPayload struct {
	ID           string               `json:"id"`
	Model        string               `json:"model"`
	Status       string               `json:"status"`
	FinishReason string               `json:"finish_reason,omitempty"`
	Usage        *responsesUsageShape `json:"usage,omitempty"`
}

// mapFinishReason applies §4.4's finish-reason mapping: length -> max_tokens,
// tool_calls -> tool_calls (identity), otherwise passthrough.
func mapFinishReason(reason string) string {
	if reason == "length" {
		return "max_tokens"
	}
	return reason
}

type responsesUsageShape struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type responsesErrorPayload struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// ToResponses runs the Chat-dialect-upstream -> Responses-dialect-client
// translation table (§4.4, table 1).
func (c *Coalescer) ToResponses(ctx context.Context, in <-chan provider.StreamResult) <-chan Event {
	out := make(chan Event)
	go func() {
		if err := acquirePump(ctx); err != nil {
			close(out)
			return
		}
		defer releasePump()
		c.pumpResponses(ctx, in, out)
	}()
	return out
}

func (c *Coalescer) pumpResponses(ctx context.Context, in <-chan provider.StreamResult, out chan<- Event) {
	defer close(out)

	seq := 0
	createdSent := false
	calls := trackers{}
	var orderedToolIndexes []int

	var pendingText strings.Builder
	var fullText strings.Builder
	var flushTimer *time.Timer
	var flushC <-chan time.Time

	flushText := func() bool {
		if pendingText.Len() == 0 {
			return true
		}
		text := pendingText.String()
		pendingText.Reset()
		fullText.WriteString(text)
		return emitCtx(ctx, out, &seq, "response.output_text.delta", responsesTextDeltaPayload{
			OutputIndex: 0, ContentIndex: 0, Delta: text,
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

	var finalModel string
	var finalFinishReason string
	var finalUsage *responsesUsageShape
	var firstID string
	done := false

	finalize := func() {
		flushText()
		for _, idx := range orderedToolIndexes {
			tr := calls.get(idx)
			if tr.state == Done {
				continue
			}
			emitCtx(ctx, out, &seq, "response.function_call_arguments.done", responsesArgsDonePayload{
				OutputIndex: 0, CallID: tr.id, Arguments: tr.accumulatedArgs(),
			})
			emitCtx(ctx, out, &seq, "response.output_item.done", responsesItemAddedPayload{
				OutputIndex: 0,
				Item:        responsesItemSummary{Type: "function_call", Status: "completed", CallID: tr.id, Name: tr.name},
			})
			tr.state = Done
		}
		emitCtx(ctx, out, &seq, "response.output_text.done", responsesTextDonePayload{
			OutputIndex: 0, ContentIndex: 0, Text: fullText.String(),
		})
		emitCtx(ctx, out, &seq, "response.completed", responsesCompletedPayload{
			ID: firstID, Model: finalModel, Status: "completed",
			FinishReason: mapFinishReason(finalFinishReason), Usage: finalUsage,
		})
	}

	onError := func(err error) {
		emitCtx(ctx, out, &seq, "response.error", responsesErrorPayload{
			Message: err.Error(), Type: "upstream_error", Code: "",
		})
		done = true
	}

	onChunk := func(chunk chatChunk) bool {
		if chunk.ID != "" {
			firstID = chunk.ID
		}
		if !createdSent && chunk.ID != "" {
			createdSent = true
			if !emitCtx(ctx, out, &seq, "response.created", responsesCreatedPayload{
				ID: chunk.ID, Object: "response", CreatedAt: chunk.Created, Model: chunk.Model, Status: "in_progress",
			}) {
				return false
			}
		}
		if chunk.Model != "" {
			finalModel = chunk.Model
		}
		if chunk.Usage != nil {
			finalUsage = &responsesUsageShape{
				PromptTokens: chunk.Usage.PromptTokens, CompletionTokens: chunk.Usage.CompletionTokens, TotalTokens: chunk.Usage.TotalTokens,
			}
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
					orderedToolIndexes = append(orderedToolIndexes, tc.Index)
					if !emitCtx(ctx, out, &seq, "response.output_item.added", responsesItemAddedPayload{
						OutputIndex: 0,
						Item:        responsesItemSummary{Type: "function_call", Status: "in_progress", CallID: tr.id, Name: tr.name},
					}) {
						return false
					}
				}
				if tc.Function.Arguments != "" {
					tr.state = Accumulating
					tr.args.WriteString(tc.Function.Arguments)
					if !emitCtx(ctx, out, &seq, "response.function_call_arguments.delta", responsesArgsDeltaPayload{
						OutputIndex: 0, CallID: tr.id, Delta: tc.Function.Arguments,
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
