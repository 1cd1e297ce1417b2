package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/BaSui01/llmrouter/pipeline"

// Tracer wraps the global OTel tracer provider with the span shape a
// pipeline request needs: one root span per request, one child span per
// stage (§10.1's "per-stage child spans under a per-request root span").
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer builds a Tracer against the globally configured TracerProvider
// (wired at startup via the otlptracegrpc exporter).
func NewTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(instrumentationName)}
}

// StartRequest opens the per-request root span.
func (t *Tracer) StartRequest(ctx context.Context, pipelineID, requestID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "pipeline.process", trace.WithAttributes(
		attribute.String("pipeline.id", pipelineID),
		attribute.String("request.id", requestID),
	))
}

// StartStage opens a child span for one stage of the pipeline (§4.6).
func (t *Tracer) StartStage(ctx context.Context, pipelineID, stage, requestID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "pipeline.stage."+stage, trace.WithAttributes(
		attribute.String("pipeline.id", pipelineID),
		attribute.String("stage", stage),
		attribute.String("request.id", requestID),
	))
}

// AnnotateEstimatedTokens attaches a best-effort input token count to the
// root span, computed by a TokenEstimator (§11.2). It never influences the
// request itself; a caller that skips this call simply gets a span without
// the attribute.
func AnnotateEstimatedTokens(span trace.Span, estimated int) {
	span.SetAttributes(attribute.Int("request.estimated_input_tokens", estimated))
}
