// Package observability wires the Ambient Stack's metrics and tracing
// (§10.1): per-pipeline Prometheus counters and a stage-latency histogram,
// OpenTelemetry spans per request, and a Sink fan-out for debug consumers
// such as wsdebugsink.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the process-wide Prometheus instruments. One Metrics is
// shared by every registered pipeline; the pipeline ID is a label, not a
// separate instrument set, so cardinality stays bounded by the number of
// configured pipelines.
type Metrics struct {
	requestTotal *prometheus.CounterVec
	stageLatency *prometheus.HistogramVec
	circuitOpen  *prometheus.GaugeVec
}

// Outcome labels requestTotal.
const (
	OutcomeSuccess     = "success"
	OutcomeError       = "error"
	OutcomeRateLimited = "rate_limited"
)

// NewMetrics registers the router's instruments against reg. reg == nil uses
// prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmrouter",
			Name:      "pipeline_requests_total",
			Help:      "Requests dispatched through a pipeline, labeled by outcome.",
		}, []string{"pipeline", "outcome"}),
		stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "llmrouter",
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Per-stage latency within one pipeline's Process call.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"pipeline", "stage"}),
		circuitOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "llmrouter",
			Name:      "pipeline_circuit_open",
			Help:      "1 if the pipeline's circuit breaker is open, 0 otherwise.",
		}, []string{"pipeline"}),
	}
	reg.MustRegister(m.requestTotal, m.stageLatency, m.circuitOpen)
	return m
}

func (m *Metrics) recordOutcome(pipelineID, outcome string) {
	m.requestTotal.WithLabelValues(pipelineID, outcome).Inc()
}

// ObserveStage records one stage's latency in seconds.
func (m *Metrics) ObserveStage(pipelineID, stage string, seconds float64) {
	m.stageLatency.WithLabelValues(pipelineID, stage).Observe(seconds)
}

// SetCircuitOpen reflects a circuitbreaker.Breaker's current state.
func (m *Metrics) SetCircuitOpen(pipelineID string, open bool) {
	v := 0.0
	if open {
		v = 1.0
	}
	m.circuitOpen.WithLabelValues(pipelineID).Set(v)
}
