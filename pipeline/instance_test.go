package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/llmrouter/compatibility"
	"github.com/BaSui01/llmrouter/dialect"
	"github.com/BaSui01/llmrouter/provider"
	"github.com/BaSui01/llmrouter/types"
	"github.com/BaSui01/llmrouter/vault"
)

type fakeAdapter struct {
	exchangeResp   *provider.ExchangeResponse
	exchangeErr    error
	streamCh       chan provider.StreamResult
	streamErr      error
	lastStreamFlag bool
	exchangeCalls  int
	streamCalls    int
}

func (f *fakeAdapter) Exchange(ctx context.Context, req provider.ExchangeRequest) (*provider.ExchangeResponse, error) {
	f.exchangeCalls++
	f.lastStreamFlag = req.StreamFlag
	return f.exchangeResp, f.exchangeErr
}

func (f *fakeAdapter) Stream(ctx context.Context, req provider.ExchangeRequest) (<-chan provider.StreamResult, error) {
	f.streamCalls++
	f.lastStreamFlag = req.StreamFlag
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return f.streamCh, nil
}

type fakeRecorder struct {
	records  []Snapshot
	success  []string
	failures []string
}

func (r *fakeRecorder) Record(s Snapshot)          { r.records = append(r.records, s) }
func (r *fakeRecorder) FlushSuccess(id string)     { r.success = append(r.success, id) }
func (r *fakeRecorder) FlushError(id string)       { r.failures = append(r.failures, id) }

func chatBlueprint() Blueprint {
	return Blueprint{SwitchKind: "chat", WorkflowKind: "default", CompatibilityKind: "none", ProviderKind: "http", ProcessMode: ModeChat}
}

func TestInstance_Process_BufferedChatRoundTrip(t *testing.T) {
	t.Parallel()

	respBody := []byte(`{"id":"r1","model":"gpt-5","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`)
	adapter := &fakeAdapter{exchangeResp: &provider.ExchangeResponse{Body: types.NewDialectBody(respBody), StatusCode: 200}}
	recorder := &fakeRecorder{}

	inst := NewInstance("pipe-1", chatBlueprint(), dialect.ChatCodec{}, NewWorkflow(PolicyAuto, 0),
		compatibility.NewChain(), compatibility.Config{}, adapter, recorder, nil)

	reqBody := types.NewDialectBody([]byte(`{"model":"gpt-5","messages":[{"role":"user","content":"hey"}]}`))
	resp, err := inst.Process(context.Background(), Request{Endpoint: types.EntryChatEndpoint, Body: reqBody, RequestID: "req-1"}, vault.Secret("sk-test"))
	require.NoError(t, err)
	require.NotNil(t, resp.Buffered)

	content, ok := resp.Buffered.Get("choices.0.message.content")
	require.True(t, ok)
	assert.Equal(t, "hi", content.String())
	assert.Equal(t, 1, adapter.exchangeCalls)
	assert.False(t, adapter.lastStreamFlag)
	assert.Contains(t, recorder.success, "req-1")
}

func TestInstance_Process_BufferedAnthropicRoundTrip(t *testing.T) {
	t.Parallel()

	respBody := []byte(`{"id":"r1","model":"chat-model","choices":[{"index":0,"message":{"role":"assistant","content":"hola"},"finish_reason":"stop"}]}`)
	adapter := &fakeAdapter{exchangeResp: &provider.ExchangeResponse{Body: types.NewDialectBody(respBody), StatusCode: 200}}

	bp := Blueprint{ProcessMode: ModeAnthropic}
	inst := NewInstance("pipe-anthropic", bp, dialect.AnthropicCodec{}, NewWorkflow(PolicyAuto, 0),
		compatibility.NewChain(), compatibility.Config{}, adapter, nil, nil)

	reqBody := types.NewDialectBody([]byte(`{"model":"claude-4.5","max_tokens":100,"messages":[{"role":"user","content":"hola"}]}`))
	resp, err := inst.Process(context.Background(), Request{Endpoint: types.EntryMessages, Body: reqBody, RequestID: "req-2"}, vault.Secret("sk-test"))
	require.NoError(t, err)
	require.NotNil(t, resp.Buffered)

	typ, _ := resp.Buffered.Get("type")
	assert.Equal(t, "message", typ.String())
	block0Type, _ := resp.Buffered.Get("content.0.type")
	assert.Equal(t, "text", block0Type.String())
	block0Text, _ := resp.Buffered.Get("content.0.text")
	assert.Equal(t, "hola", block0Text.String())
}

func TestInstance_Process_PassthroughSkipsSwitchAndCompatibility(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"anything":"goes","stream":false}`)
	adapter := &fakeAdapter{exchangeResp: &provider.ExchangeResponse{Body: types.NewDialectBody(raw), StatusCode: 200}}

	bp := Blueprint{ProcessMode: ModePassthrough}
	inst := NewInstance("pipe-pt", bp, nil, NewWorkflow(PolicyAuto, 0), nil, compatibility.Config{}, adapter, nil, nil)

	resp, err := inst.Process(context.Background(), Request{Endpoint: "/v1/whatever", Body: types.NewDialectBody(raw), RequestID: "req-3"}, vault.Secret("sk-test"))
	require.NoError(t, err)
	assert.Equal(t, raw, resp.Buffered.Bytes())
}

func TestInstance_Process_WorkflowPolicyOverridesClientStreamFlag(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{exchangeResp: &provider.ExchangeResponse{Body: types.NewDialectBody([]byte(`{"id":"r1","model":"m","choices":[{"index":0,"message":{"role":"assistant","content":"x"}}]}`)), StatusCode: 200}}
	inst := NewInstance("pipe-policy", chatBlueprint(), dialect.ChatCodec{}, NewWorkflow(PolicyNever, 0),
		compatibility.NewChain(), compatibility.Config{}, adapter, nil, nil)

	reqBody := types.NewDialectBody([]byte(`{"model":"gpt-5","stream":true,"messages":[{"role":"user","content":"hey"}]}`))
	_, err := inst.Process(context.Background(), Request{Endpoint: types.EntryChatEndpoint, Body: reqBody, RequestID: "req-4"}, vault.Secret("sk"))
	require.NoError(t, err)

	assert.Equal(t, 1, adapter.exchangeCalls, "PolicyNever must route to the buffered path even for a streaming client request")
	assert.Equal(t, 0, adapter.streamCalls)
	assert.False(t, adapter.lastStreamFlag)
}

func TestInstance_Process_ProviderErrorIsTaggedWithStage(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{exchangeErr: types.NewRouterError(types.UpstreamBadRequest, "bad request")}
	recorder := &fakeRecorder{}
	inst := NewInstance("pipe-err", chatBlueprint(), dialect.ChatCodec{}, NewWorkflow(PolicyAuto, 0),
		compatibility.NewChain(), compatibility.Config{}, adapter, recorder, nil)

	reqBody := types.NewDialectBody([]byte(`{"model":"gpt-5","messages":[{"role":"user","content":"hey"}]}`))
	_, err := inst.Process(context.Background(), Request{Endpoint: types.EntryChatEndpoint, Body: reqBody, RequestID: "req-5"}, vault.Secret("sk"))
	require.Error(t, err)

	re, ok := err.(*types.RouterError)
	require.True(t, ok)
	assert.Equal(t, types.UpstreamBadRequest, re.Kind)
	assert.Equal(t, "provider", re.Stage)
	assert.Equal(t, "pipe-err", re.PipelineID)
	assert.Equal(t, "req-5", re.RequestID)
	assert.Contains(t, recorder.failures, "req-5")
}

func TestInstance_Process_StreamingChatIsPassedThroughRaw(t *testing.T) {
	t.Parallel()

	ch := make(chan provider.StreamResult, 2)
	ch <- provider.StreamResult{Event: &provider.RawEvent{Data: `{"id":"r1","choices":[{"index":0,"delta":{"content":"hi"}}]}`}}
	close(ch)
	adapter := &fakeAdapter{streamCh: ch}

	inst := NewInstance("pipe-stream-chat", chatBlueprint(), dialect.ChatCodec{}, NewWorkflow(PolicyAlways, 0),
		compatibility.NewChain(), compatibility.Config{}, adapter, nil, nil)

	reqBody := types.NewDialectBody([]byte(`{"model":"gpt-5","messages":[{"role":"user","content":"hey"}]}`))
	resp, err := inst.Process(context.Background(), Request{Endpoint: types.EntryChatEndpoint, Body: reqBody, RequestID: "req-6"}, vault.Secret("sk"))
	require.NoError(t, err)
	require.NotNil(t, resp.RawStream)

	var got []provider.StreamResult
	for r := range resp.RawStream {
		got = append(got, r)
	}
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Event.Data, `"content":"hi"`)
	assert.Equal(t, 1, adapter.streamCalls)
}

func TestInstance_Process_StreamingResponsesCoalesces(t *testing.T) {
	t.Parallel()

	ch := make(chan provider.StreamResult, 2)
	ch <- provider.StreamResult{Event: &provider.RawEvent{Data: `{"id":"r1","created":1,"model":"gpt-5","choices":[{"index":0,"delta":{"content":"hi"}}]}`}}
	ch <- provider.StreamResult{Event: &provider.RawEvent{Data: `{"id":"r1","model":"gpt-5","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`}}
	close(ch)
	adapter := &fakeAdapter{streamCh: ch}

	bp := Blueprint{ProcessMode: ModeResponses}
	inst := NewInstance("pipe-stream-resp", bp, dialect.ResponsesCodec{}, NewWorkflow(PolicyAlways, 0),
		compatibility.NewChain(), compatibility.Config{}, adapter, nil, nil)

	reqBody := types.NewDialectBody([]byte(`{"model":"gpt-5","input":[{"role":"user","content":"hey"}]}`))
	resp, err := inst.Process(context.Background(), Request{Endpoint: types.EntryResponses, Body: reqBody, RequestID: "req-7"}, vault.Secret("sk"))
	require.NoError(t, err)
	require.NotNil(t, resp.Events)

	deadline := time.After(2 * time.Second)
	var names []string
	for {
		select {
		case ev, ok := <-resp.Events:
			if !ok {
				goto done
			}
			names = append(names, ev.Name)
		case <-deadline:
			t.Fatal("timed out draining events")
		}
	}
done:
	assert.Contains(t, names, "response.created")
	assert.Contains(t, names, "response.output_text.delta")
	assert.Contains(t, names, "response.completed")
}

func TestInstance_Process_CompatibilityRewritesStreamedChunks(t *testing.T) {
	t.Parallel()

	ch := make(chan provider.StreamResult, 1)
	ch <- provider.StreamResult{Event: &provider.RawEvent{Data: `{"id":"r1","choices":[{"index":0,"message":{"vendor_content":"hi"}}]}`}}
	close(ch)
	adapter := &fakeAdapter{streamCh: ch}

	chain := compatibility.NewChain(compatibility.FieldRename{})
	cfg := compatibility.Config{FieldRenames: map[string]string{"choices.0.message.content": "choices.0.message.vendor_content"}}
	inst := NewInstance("pipe-stream-compat", chatBlueprint(), dialect.ChatCodec{}, NewWorkflow(PolicyAlways, 0),
		chain, cfg, adapter, nil, nil)

	reqBody := types.NewDialectBody([]byte(`{"model":"gpt-5","messages":[{"role":"user","content":"hey"}]}`))
	resp, err := inst.Process(context.Background(), Request{Endpoint: types.EntryChatEndpoint, Body: reqBody, RequestID: "req-8"}, vault.Secret("sk"))
	require.NoError(t, err)

	r := <-resp.RawStream
	require.NoError(t, r.Err)
	assert.Contains(t, r.Event.Data, `"content":"hi"`)
}

func TestInstance_Process_DebugFlagPopulatesStageTimings(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{exchangeResp: &provider.ExchangeResponse{Body: types.NewDialectBody([]byte(`{"id":"r1","model":"m","choices":[{"index":0,"message":{"role":"assistant","content":"x"}}]}`)), StatusCode: 200}}
	inst := NewInstance("pipe-debug", chatBlueprint(), dialect.ChatCodec{}, NewWorkflow(PolicyAuto, 0),
		compatibility.NewChain(), compatibility.Config{}, adapter, nil, nil)

	reqBody := types.NewDialectBody([]byte(`{"model":"gpt-5","messages":[{"role":"user","content":"hey"}]}`))
	resp, err := inst.Process(context.Background(), Request{Endpoint: types.EntryChatEndpoint, Body: reqBody, RequestID: "req-9", Debug: true}, vault.Secret("sk"))
	require.NoError(t, err)
	require.NotNil(t, resp.Debug)
	assert.NotEmpty(t, resp.Debug.Stages)

	var stages []string
	for _, s := range resp.Debug.Stages {
		stages = append(stages, s.Stage)
	}
	assert.Contains(t, stages, "switch.inbound")
	assert.Contains(t, stages, "compatibility.inbound")
	assert.Contains(t, stages, "provider")
}
