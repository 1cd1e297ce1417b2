package streaming

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/llmrouter/provider"
)

func feed(data ...string) <-chan provider.StreamResult {
	ch := make(chan provider.StreamResult, len(data)+1)
	for _, d := range data {
		ch <- provider.StreamResult{Event: &provider.RawEvent{Data: d}}
	}
	close(ch)
	return ch
}

func drain(t *testing.T, ch <-chan Event, timeout time.Duration) []Event {
	t.Helper()
	var events []Event
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatal("timed out draining coalescer output")
		}
	}
}

func names(events []Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Name
	}
	return out
}

func TestToResponses_TextOnlyStream(t *testing.T) {
	t.Parallel()

	in := feed(
		`{"id":"r1","created":1,"model":"gpt-5","choices":[{"index":0,"delta":{"content":"hel"}}]}`,
		`{"id":"r1","model":"gpt-5","choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":"stop"}]}`,
	)
	c := New(0) // zero window: flush immediately
	out := c.ToResponses(context.Background(), in)
	events := drain(t, out, 2*time.Second)

	gotNames := names(events)
	assert.Equal(t, []string{
		"response.created",
		"response.output_text.delta",
		"response.output_text.delta",
		"response.output_text.done",
		"response.completed",
	}, gotNames)

	var created responsesCreatedPayload
	require.NoError(t, json.Unmarshal(events[0].Data, &created))
	assert.Equal(t, "r1", created.ID)
	assert.Equal(t, "in_progress", created.Status)

	var done responsesTextDonePayload
	require.NoError(t, json.Unmarshal(events[3].Data, &done))
	assert.Equal(t, "hello", done.Text)
}

func TestToResponses_SequenceNumbersAreMonotonic(t *testing.T) {
	t.Parallel()

	in := feed(`{"id":"r1","created":1,"model":"gpt-5","choices":[{"index":0,"delta":{"content":"x"},"finish_reason":"stop"}]}`)
	c := New(0)
	events := drain(t, c.ToResponses(context.Background(), in), 2*time.Second)

	var last int64 = -1
	for _, ev := range events {
		var v struct {
			Seq int64 `json:"sequence_number"`
		}
		require.NoError(t, json.Unmarshal(ev.Data, &v))
		assert.Greater(t, v.Seq, last)
		last = v.Seq
	}
}

func TestToResponses_ToolCallStateMachine(t *testing.T) {
	t.Parallel()

	in := feed(
		`{"id":"r1","created":1,"model":"gpt-5","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"lookup","arguments":""}}]}}]}`,
		`{"id":"r1","model":"gpt-5","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"ci"}}]}}]}`,
		`{"id":"r1","model":"gpt-5","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"ty\":\"sf\"}"}}]},"finish_reason":"tool_calls"}]}`,
	)
	c := New(0)
	events := drain(t, c.ToResponses(context.Background(), in), 2*time.Second)

	gotNames := names(events)
	require.Contains(t, gotNames, "response.output_item.added")
	require.Contains(t, gotNames, "response.function_call_arguments.delta")
	require.Contains(t, gotNames, "response.function_call_arguments.done")
	require.Contains(t, gotNames, "response.output_item.done")

	addedIdx := indexOf(gotNames, "response.output_item.added")
	firstDeltaIdx := indexOf(gotNames, "response.function_call_arguments.delta")
	doneIdx := indexOf(gotNames, "response.function_call_arguments.done")
	itemDoneIdx := indexOf(gotNames, "response.output_item.done")
	assert.Less(t, addedIdx, firstDeltaIdx, "added must precede any delta")
	assert.Less(t, firstDeltaIdx, doneIdx, "delta must precede done")
	assert.Less(t, doneIdx, itemDoneIdx)
	assert.Equal(t, "response.completed", gotNames[len(gotNames)-1], "completed must be last")

	var argsDone responsesArgsDonePayload
	require.NoError(t, json.Unmarshal(events[doneIdx].Data, &argsDone))
	assert.Equal(t, `{"city":"sf"}`, argsDone.Arguments)
}

func indexOf(haystack []string, needle string) int {
	for i, v := range haystack {
		if v == needle {
			return i
		}
	}
	return -1
}

func TestToResponses_UpstreamErrorEmitsErrorEventAndCloses(t *testing.T) {
	t.Parallel()

	ch := make(chan provider.StreamResult, 1)
	ch <- provider.StreamResult{Err: assertErr("boom")}
	close(ch)

	c := New(0)
	events := drain(t, c.ToResponses(context.Background(), ch), 2*time.Second)
	require.Len(t, events, 1)
	assert.Equal(t, "response.error", events[0].Name)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func TestToAnthropic_TextAndToolUse(t *testing.T) {
	t.Parallel()

	in := feed(
		`{"id":"r1","created":1,"model":"claude-4.5","choices":[{"index":0,"delta":{"content":"hi"}}]}`,
		`{"id":"r1","model":"claude-4.5","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"t1","function":{"name":"lookup","arguments":"{}"}}]},"finish_reason":"tool_calls"}]}`,
	)
	c := New(0)
	events := drain(t, c.ToAnthropic(context.Background(), in), 2*time.Second)

	gotNames := names(events)
	assert.Equal(t, "message_start", gotNames[0])
	assert.Equal(t, "message_stop", gotNames[len(gotNames)-1])
	assert.Contains(t, gotNames, "content_block_start")
	assert.Contains(t, gotNames, "content_block_delta")
	assert.Contains(t, gotNames, "content_block_stop")
	assert.Contains(t, gotNames, "message_delta")

	var delta anthropicMessageDeltaPayload
	deltaIdx := indexOf(gotNames, "message_delta")
	require.NoError(t, json.Unmarshal(events[deltaIdx].Data, &delta))
	assert.Equal(t, "tool_use", delta.Delta.StopReason)
}

func TestToResponses_TextWindowCoalescesMultipleDeltas(t *testing.T) {
	t.Parallel()

	in := feed(
		`{"id":"r1","created":1,"model":"gpt-5","choices":[{"index":0,"delta":{"content":"a"}}]}`,
		`{"id":"r1","model":"gpt-5","choices":[{"index":0,"delta":{"content":"b"},"finish_reason":"stop"}]}`,
	)
	c := New(50 * time.Millisecond)
	events := drain(t, c.ToResponses(context.Background(), in), 2*time.Second)

	textDeltas := 0
	var combined string
	for _, ev := range events {
		if ev.Name == "response.output_text.delta" {
			textDeltas++
			var p responsesTextDeltaPayload
			require.NoError(t, json.Unmarshal(ev.Data, &p))
			combined += p.Delta
		}
	}
	assert.Equal(t, 1, textDeltas, "both deltas should coalesce into a single windowed flush")
	assert.Equal(t, "ab", combined)
}
