package provider

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"

	"github.com/BaSui01/llmrouter/types"
)

// Stream implements Adapter. It never buffers the upstream body (§4.2): the
// returned channel is fed line-by-line from the upstream connection and the
// goroutine exits (closing both the channel and the upstream socket) the
// moment ctx is cancelled, the upstream closes, or a parse error occurs.
func (a *HTTPAdapter) Stream(ctx context.Context, req ExchangeRequest) (<-chan StreamResult, error) {
	start := time.Now()
	resp, err := a.doExchange(ctx, req, req.Secret)
	if err != nil {
		return nil, a.classifyTransportError(err, req, start)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, a.mapHTTPError(resp.StatusCode, data, req, time.Since(start).Milliseconds())
	}

	ch := make(chan StreamResult)
	go a.pumpSSE(ctx, resp.Body, req, start, ch)
	return ch, nil
}

// pumpSSE parses a standard text/event-stream body: blank lines delimit
// events, "data:" lines concatenate (newline-joined) into the event's Data,
// "event:" sets EventName. Lines beginning with ":" are comments, skipped.
func (a *HTTPAdapter) pumpSSE(ctx context.Context, body io.ReadCloser, req ExchangeRequest, start time.Time, ch chan<- StreamResult) {
	defer close(ch)
	defer body.Close()

	reader := bufio.NewReader(body)
	var eventName string
	var dataLines []string

	flush := func() (RawEvent, bool) {
		if len(dataLines) == 0 && eventName == "" {
			return RawEvent{}, false
		}
		ev := RawEvent{EventName: eventName, Data: strings.Join(dataLines, "\n")}
		eventName, dataLines = "", nil
		return ev, true
	}

	send := func(r StreamResult) bool {
		select {
		case <-ctx.Done():
			return false
		case ch <- r:
			return true
		}
	}

	for {
		line, err := reader.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")

		switch {
		case trimmed == "" && err == nil:
			if ev, ok := flush(); ok {
				if ev.Data == "[DONE]" {
					return
				}
				if !send(StreamResult{Event: &ev}) {
					return
				}
			}
		case strings.HasPrefix(trimmed, ":"):
			// comment, ignore
		case strings.HasPrefix(trimmed, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(trimmed, "event:"))
		case strings.HasPrefix(trimmed, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(trimmed, "data:"), " "))
		}

		if err != nil {
			if err == io.EOF {
				if ev, ok := flush(); ok && ev.Data != "[DONE]" {
					send(StreamResult{Event: &ev})
				}
				return
			}
			routerErr := a.errFor(types.UpstreamUnavailable, err.Error(), req, time.Since(start).Milliseconds())
			send(StreamResult{Err: routerErr})
			return
		}
	}
}
