package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/BaSui01/llmrouter/pipeline"
)

// Sink fans stage events out to an external consumer — a debug UI, an audit
// log — decoupled from the request path itself. wsdebugsink is the
// reference implementation.
type Sink interface {
	Publish(kind string, payload any)
}

// inflight tracks the one root span and per-stage timers open for a request
// between Record calls and the terminal Flush call.
type inflight struct {
	pipelineID string
	ctx        context.Context
	span       trace.Span
	stageStart time.Time
	lastPhase  pipeline.Phase
}

// MetricsRecorder implements pipeline.Recorder by feeding Prometheus
// counters/histograms and OTel spans from the Snapshot stream, and
// optionally re-publishing every snapshot to a Sink for live debugging.
type MetricsRecorder struct {
	metrics *Metrics
	tracer  *Tracer
	sink    Sink

	mu sync.Mutex
	rq map[string]*inflight // requestId -> inflight
}

// NewMetricsRecorder builds a MetricsRecorder. sink may be nil to skip fan-out.
func NewMetricsRecorder(metrics *Metrics, tracer *Tracer, sink Sink) *MetricsRecorder {
	return &MetricsRecorder{metrics: metrics, tracer: tracer, sink: sink, rq: make(map[string]*inflight)}
}

func (r *MetricsRecorder) Record(snap pipeline.Snapshot) {
	r.mu.Lock()
	fl, ok := r.rq[snap.RequestID]
	if !ok {
		ctx, span := r.tracer.StartRequest(context.Background(), snap.PipelineID, snap.RequestID)
		fl = &inflight{pipelineID: snap.PipelineID, ctx: ctx, span: span, stageStart: time.Now()}
		r.rq[snap.RequestID] = fl
	} else if fl.lastPhase != "" {
		r.metrics.ObserveStage(fl.pipelineID, string(fl.lastPhase), time.Since(fl.stageStart).Seconds())
	}
	fl.stageStart = time.Now()
	fl.lastPhase = snap.Phase
	r.mu.Unlock()

	if r.sink != nil {
		r.sink.Publish("stage", snap)
	}
}

func (r *MetricsRecorder) finish(requestID string, outcome string) {
	r.mu.Lock()
	fl, ok := r.rq[requestID]
	if ok {
		delete(r.rq, requestID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	if fl.lastPhase != "" {
		r.metrics.ObserveStage(fl.pipelineID, string(fl.lastPhase), time.Since(fl.stageStart).Seconds())
	}
	r.metrics.recordOutcome(fl.pipelineID, outcome)

	if outcome == OutcomeError {
		fl.span.SetStatus(codes.Error, "pipeline request failed")
	}
	fl.span.SetAttributes(attribute.String("outcome", outcome))
	fl.span.End()

	if r.sink != nil {
		r.sink.Publish(outcome, requestID)
	}
}

func (r *MetricsRecorder) FlushSuccess(requestID string) { r.finish(requestID, OutcomeSuccess) }
func (r *MetricsRecorder) FlushError(requestID string)   { r.finish(requestID, OutcomeError) }
