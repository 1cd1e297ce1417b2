package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	io_prometheus_client "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/llmrouter/pipeline"
)

type fakeSink struct {
	events []string
}

func (f *fakeSink) Publish(kind string, payload any) { f.events = append(f.events, kind) }

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}

func TestMetricsRecorder_FlushSuccess_RecordsOutcomeAndStageLatency(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	tracer := NewTracer()
	sink := &fakeSink{}
	rec := NewMetricsRecorder(metrics, tracer, sink)

	rec.Record(pipeline.Snapshot{Phase: pipeline.PhaseSwitchInbound, PipelineID: "pipe-1", RequestID: "req-1", PayloadDigest: "abc"})
	rec.Record(pipeline.Snapshot{Phase: pipeline.PhaseProvider, PipelineID: "pipe-1", RequestID: "req-1", PayloadDigest: "def"})
	rec.FlushSuccess("req-1")

	assert.Equal(t, float64(1), counterValue(t, reg, "llmrouter_pipeline_requests_total"))
	assert.Contains(t, sink.events, "stage")
	assert.Contains(t, sink.events, OutcomeSuccess)
}

func TestMetricsRecorder_FlushError_RecordsErrorOutcome(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	tracer := NewTracer()
	rec := NewMetricsRecorder(metrics, tracer, nil)

	rec.Record(pipeline.Snapshot{Phase: pipeline.PhaseProvider, PipelineID: "pipe-1", RequestID: "req-2"})
	rec.FlushError("req-2")

	families, err := reg.Gather()
	require.NoError(t, err)
	found := false
	for _, fam := range families {
		if fam.GetName() != "llmrouter_pipeline_requests_total" {
			continue
		}
		for _, m := range fam.GetMetric() {
			if labelValue(m, "outcome") == OutcomeError {
				found = true
			}
		}
	}
	assert.True(t, found)
}

func TestMetricsRecorder_FlushWithoutRecordIsANoop(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	rec := NewMetricsRecorder(metrics, NewTracer(), nil)

	assert.NotPanics(t, func() { rec.FlushSuccess("never-recorded") })
}

func labelValue(m *io_prometheus_client.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

func TestMetrics_SetCircuitOpen(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	metrics.SetCircuitOpen("pipe-1", true)

	families, err := reg.Gather()
	require.NoError(t, err)
	var gauge float64
	for _, fam := range families {
		if fam.GetName() != "llmrouter_pipeline_circuit_open" {
			continue
		}
		for _, m := range fam.GetMetric() {
			gauge = m.GetGauge().GetValue()
		}
	}
	assert.Equal(t, 1.0, gauge)
}
