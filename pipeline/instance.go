package pipeline

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/llmrouter/compatibility"
	"github.com/BaSui01/llmrouter/dialect"
	"github.com/BaSui01/llmrouter/provider"
	"github.com/BaSui01/llmrouter/streaming"
	"github.com/BaSui01/llmrouter/types"
	"github.com/BaSui01/llmrouter/vault"
)

// StageTiming is one entry of the Instance's debug timing block (§4.6).
type StageTiming struct {
	Stage     string
	StartedAt time.Time
	Duration  time.Duration
}

// DebugInfo is attached to a Response only when the caller set Request.Debug.
type DebugInfo struct {
	Stages []StageTiming
}

// Request is what a Manager hands an Instance to run.
type Request struct {
	Endpoint     string
	Body         types.DialectBody
	KeyID        string
	RequestID    string
	Model        string
	ModelTimeout time.Duration
	Debug        bool
}

// Response is either a buffered dialect-native body or a lazy event
// sequence, never both. RawStream carries unmodified (compatibility-patched)
// Chat-dialect SSE for a chat-mode or passthrough pipeline; Events carries
// coalesced, client-dialect events for a responses/anthropic pipeline.
type Response struct {
	Buffered   *types.DialectBody
	RawStream  <-chan provider.StreamResult
	Events     <-chan streaming.Event
	StatusCode int
	Debug      *DebugInfo
}

// Instance is one immutable pipeline assembly (§4.2 of the GLOSSARY's
// "Pipeline" entry): built once at startup from a Blueprint plus its four
// stage bindings, never mutated afterward.
type Instance struct {
	id        string
	blueprint Blueprint

	clientCodec dialect.Codec // nil in passthrough mode
	chatCodec   dialect.ChatCodec
	workflow    Workflow
	compat      *compatibility.Chain // nil in passthrough mode
	compatCfg   compatibility.Config
	adapter     provider.Adapter

	recorder Recorder
	logger   *zap.Logger
}

// NewInstance builds an Instance. recorder and logger may be nil; a nil
// recorder behaves as a no-op, a nil logger defaults to zap.NewNop().
func NewInstance(id string, blueprint Blueprint, clientCodec dialect.Codec, workflow Workflow,
	compat *compatibility.Chain, compatCfg compatibility.Config, adapter provider.Adapter,
	recorder Recorder, logger *zap.Logger) *Instance {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Instance{
		id: id, blueprint: blueprint, clientCodec: clientCodec, workflow: workflow,
		compat: compat, compatCfg: compatCfg, adapter: adapter, recorder: recorder, logger: logger,
	}
}

func (p *Instance) ID() string          { return p.id }
func (p *Instance) Blueprint() Blueprint { return p.blueprint }

func (p *Instance) snap(phase Phase, requestID string, body types.DialectBody) {
	p.recorder.Record(Snapshot{Phase: phase, PipelineID: p.id, RequestID: requestID, PayloadDigest: digest(body.Bytes())})
}

// wrapErr tags a stage failure with {pipelineId, stage, requestId} (§4.6)
// without swallowing it.
func wrapErr(err error, pipelineID, stage, requestID string) error {
	if err == nil {
		return nil
	}
	if re, ok := err.(*types.RouterError); ok {
		return re.WithStage(pipelineID, stage, requestID)
	}
	return types.NewRouterError(types.UpstreamMalformed, err.Error()).WithCause(err).WithStage(pipelineID, stage, requestID)
}

// Process runs req through the four stages in order, §4.6's contract:
// Switch(inbound) -> Workflow(inbound) -> Compatibility(inbound) ->
// Provider(HTTP), with the response mirrored in reverse. In passthrough
// mode, Switch and Compatibility are skipped in both directions.
func (p *Instance) Process(ctx context.Context, req Request, secret vault.Secret) (*Response, error) {
	passthrough := p.blueprint.ProcessMode == ModePassthrough

	var collector *stageCollector
	if req.Debug {
		ctx, collector = withDebug(ctx)
	}
	record := func(stage string, start time.Time) {
		publisherFrom(ctx).publish(StageTiming{Stage: stage, StartedAt: start, Duration: time.Since(start)})
	}

	body := req.Body
	var canonical types.CanonicalRequest

	if !passthrough {
		start := time.Now()
		c, err := p.clientCodec.ToCanonical(body)
		record("switch.inbound", start)
		if err != nil {
			p.recorder.FlushError(req.RequestID)
			return nil, wrapErr(err, p.id, "switch.inbound", req.RequestID)
		}
		canonical = c
		p.snap(PhaseSwitchInbound, req.RequestID, body)
	}

	clientStream := canonical.StreamFlag
	if passthrough {
		clientStream, _ = body.Bool("stream")
	}
	effectiveStream := p.workflow.ResolveStream(clientStream)
	p.snap(PhaseWorkflowInbound, req.RequestID, body)

	var chatBody types.DialectBody
	if passthrough {
		chatBody = body
	} else {
		canonical.StreamFlag = effectiveStream
		start := time.Now()
		encoded, err := p.chatCodec.RequestFromCanonical(canonical)
		if err == nil {
			chatBody, err = p.compat.ApplyRequest(encoded, p.compatCfg)
		}
		record("compatibility.inbound", start)
		if err != nil {
			p.recorder.FlushError(req.RequestID)
			return nil, wrapErr(err, p.id, "compatibility.inbound", req.RequestID)
		}
		p.snap(PhaseCompatibilityInbound, req.RequestID, chatBody)
	}

	exReq := provider.ExchangeRequest{
		Endpoint: req.Endpoint, Body: chatBody, Secret: secret, KeyID: req.KeyID,
		RequestID: req.RequestID, Model: req.Model, ModelTimeout: req.ModelTimeout, StreamFlag: effectiveStream,
	}

	if effectiveStream {
		return p.processStream(ctx, req, exReq, passthrough, collector)
	}
	return p.processBuffered(ctx, req, exReq, passthrough, collector)
}

func (p *Instance) processBuffered(ctx context.Context, req Request, exReq provider.ExchangeRequest, passthrough bool, collector *stageCollector) (*Response, error) {
	start := time.Now()
	exResp, err := p.adapter.Exchange(ctx, exReq)
	publisherFrom(ctx).publish(StageTiming{Stage: "provider", StartedAt: start, Duration: time.Since(start)})
	if err != nil {
		p.recorder.FlushError(req.RequestID)
		return nil, wrapErr(err, p.id, "provider", req.RequestID)
	}
	p.snap(PhaseProvider, req.RequestID, exResp.Body)

	outBody := exResp.Body
	if !passthrough {
		patched, err := p.compat.ApplyResponse(outBody, p.compatCfg)
		if err != nil {
			p.recorder.FlushError(req.RequestID)
			return nil, wrapErr(err, p.id, "compatibility.outbound", req.RequestID)
		}
		outBody = patched
		p.snap(PhaseCompatibilityOutbound, req.RequestID, outBody)

		canonResp, err := p.chatCodec.ResponseToCanonical(outBody)
		if err != nil {
			p.recorder.FlushError(req.RequestID)
			return nil, wrapErr(err, p.id, "switch.outbound", req.RequestID)
		}
		clientBody, err := p.clientCodec.FromCanonical(canonResp)
		if err != nil {
			p.recorder.FlushError(req.RequestID)
			return nil, wrapErr(err, p.id, "switch.outbound", req.RequestID)
		}
		outBody = clientBody
	}
	p.snap(PhaseSwitchOutbound, req.RequestID, outBody)

	resp := &Response{Buffered: &outBody, StatusCode: exResp.StatusCode}
	if collector != nil {
		resp.Debug = &DebugInfo{Stages: collector.stages}
	}
	p.recorder.FlushSuccess(req.RequestID)
	return resp, nil
}

func (p *Instance) processStream(ctx context.Context, req Request, exReq provider.ExchangeRequest, passthrough bool, collector *stageCollector) (*Response, error) {
	start := time.Now()
	raw, err := p.adapter.Stream(ctx, exReq)
	publisherFrom(ctx).publish(StageTiming{Stage: "provider", StartedAt: start, Duration: time.Since(start)})
	if err != nil {
		p.recorder.FlushError(req.RequestID)
		return nil, wrapErr(err, p.id, "provider", req.RequestID)
	}

	patched := p.applyCompatToStream(ctx, raw, passthrough)

	resp := &Response{StatusCode: http.StatusOK}
	switch p.blueprint.ProcessMode {
	case ModeResponses:
		resp.Events = streaming.New(p.workflow.TextWindow).ToResponses(ctx, patched)
	case ModeAnthropic:
		resp.Events = streaming.New(p.workflow.TextWindow).ToAnthropic(ctx, patched)
	default: // ModeChat, ModePassthrough: client dialect already equals the upstream wire
		resp.RawStream = patched
	}
	if collector != nil {
		resp.Debug = &DebugInfo{Stages: collector.stages}
	}
	p.recorder.FlushSuccess(req.RequestID)
	return resp, nil
}

// applyCompatToStream runs Compatibility(outbound) over each raw SSE chunk
// before it reaches the Workflow/Coalescer stage — the same rewrite rules a
// buffered response gets, applied per-chunk instead of once.
func (p *Instance) applyCompatToStream(ctx context.Context, in <-chan provider.StreamResult, passthrough bool) <-chan provider.StreamResult {
	if passthrough {
		return in
	}
	out := make(chan provider.StreamResult)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case res, ok := <-in:
				if !ok {
					return
				}
				if res.Err != nil {
					select {
					case out <- res:
					case <-ctx.Done():
					}
					return
				}
				body := types.NewDialectBody([]byte(res.Event.Data))
				rewritten, err := p.compat.ApplyResponse(body, p.compatCfg)
				var next provider.StreamResult
				if err != nil {
					next = provider.StreamResult{Err: wrapErr(err, p.id, "compatibility.outbound", "")}
				} else {
					next = provider.StreamResult{Event: &provider.RawEvent{EventName: res.Event.EventName, Data: string(rewritten.Bytes())}}
				}
				select {
				case out <- next:
				case <-ctx.Done():
					return
				}
				if err != nil {
					return
				}
			}
		}
	}()
	return out
}
