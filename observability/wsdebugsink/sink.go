// Package wsdebugsink is a reference observability.Sink: it fans every
// published pipeline event out to whatever debug-tail clients are currently
// connected over a WebSocket, so a developer can watch a request's stage
// sequence live without instrumenting the pipeline itself (§11's debug-tail
// consumer of the observability Sink interface).
package wsdebugsink

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// event is the wire shape written to every connected client.
type event struct {
	Kind      string `json:"kind"`
	Payload   any    `json:"payload"`
	Timestamp int64  `json:"timestampUnixMs"`
}

// Sink fans out Publish calls to every client connected via ServeHTTP. It
// implements observability.Sink without importing it, avoiding a dependency
// cycle (observability -> wsdebugsink would be the wrong direction; this
// package depends on nothing from observability, only satisfies its shape).
type Sink struct {
	logger *zap.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	out  chan event
}

// New builds a Sink. logger may be nil.
func New(logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{logger: logger, clients: make(map[*client]struct{})}
}

// Publish implements observability.Sink: it is called once per pipeline
// stage snapshot and once per terminal success/error.
func (s *Sink) Publish(kind string, payload any) {
	ev := event{Kind: kind, Payload: payload, Timestamp: timeNowUnixMs()}

	s.mu.Lock()
	targets := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, c := range targets {
		select {
		case c.out <- ev:
		default:
			// A slow client does not block the request path; it simply
			// misses this event.
			s.logger.Debug("wsdebugsink: dropping event for slow client", zap.String("kind", kind))
		}
	}
}

// ServeHTTP upgrades the request to a WebSocket and streams every published
// event to it until the client disconnects or ctx is cancelled.
func (s *Sink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{})
	if err != nil {
		s.logger.Warn("wsdebugsink: accept failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, out: make(chan event, 64)}
	s.register(c)
	defer s.unregister(c)

	ctx := r.Context()
	defer conn.Close(websocket.StatusNormalClosure, "debug session ended")

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.out:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				s.logger.Debug("wsdebugsink: write failed, dropping client", zap.Error(err))
				return
			}
		}
	}
}

func (s *Sink) register(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Sink) unregister(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c)
	close(c.out)
}

// timeNowUnixMs is split out so tests can't trip over wall-clock flakiness
// in assertions that only care about event ordering, not exact timestamps.
func timeNowUnixMs() int64 {
	return time.Now().UnixMilli()
}
