// Package streaming implements the Streaming Coalescer (§4.4): it consumes
// a lazy sequence of upstream SSE events in the Chat dialect and emits a
// lazy sequence of client-dialect SSE events, coalescing text into windows
// and tracking per-tool-call state until each call completes.
package streaming

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/sjson"

	"github.com/BaSui01/llmrouter/provider"
)

// Event is one client-dialect SSE event ready to be written on the wire.
type Event struct {
	Name string
	Data []byte
}

// DefaultTextWindow is the default text-coalescing window (§4.4); zero is a
// valid configuration meaning "flush every chunk immediately".
const DefaultTextWindow = 1000 * time.Millisecond

// Coalescer holds the configuration shared by both translation tables.
type Coalescer struct {
	textWindow time.Duration
}

// New builds a Coalescer. A non-positive window means no buffering: every
// text delta is flushed as soon as it arrives.
func New(textWindow time.Duration) *Coalescer {
	if textWindow < 0 {
		textWindow = 0
	}
	return &Coalescer{textWindow: textWindow}
}

// emitCtx marshals payload, stamps it with the next monotonic
// sequence_number (§4.4), and sends it on out, aborting if ctx is cancelled
// before the send completes so a stalled consumer never wedges the
// coalescer goroutine forever.
func emitCtx(ctx context.Context, out chan<- Event, seq *int, name string, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	data, err = sjson.SetBytes(data, "sequence_number", *seq)
	if err != nil {
		return false
	}
	*seq++
	select {
	case <-ctx.Done():
		return false
	case out <- Event{Name: name, Data: data}:
		return true
	}
}

func assignToolCallID(upstreamID string) string {
	if upstreamID != "" {
		return upstreamID
	}
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}

// trackers is the per-stream tool-call-index state table shared by both
// translation tables.
type trackers map[int]*toolCallTracker

func (t trackers) get(index int) *toolCallTracker {
	tr, ok := t[index]
	if !ok {
		tr = &toolCallTracker{blockIndex: -1}
		t[index] = tr
	}
	return tr
}

// pumpInput drives the shared event loop: it selects between the next
// upstream item and the text-coalescing timer (via onTick), so a buffered
// timer flush fires even when no further upstream chunk arrives before the
// window elapses. It returns once the input channel closes or a terminal
// (parse or upstream) error is reported through onError.
func pumpInput(ctx context.Context, in <-chan provider.StreamResult, flushC func() <-chan time.Time, onTick func(), onChunk func(chatChunk) bool, onError func(err error)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-flushC():
			onTick()
		case res, ok := <-in:
			if !ok {
				return
			}
			if res.Err != nil {
				onError(res.Err)
				return
			}
			chunk, err := parseChatChunk(res.Event.Data)
			if err != nil {
				onError(err)
				return
			}
			if !onChunk(chunk) {
				return
			}
		}
	}
}
