package manager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/llmrouter/compatibility"
	"github.com/BaSui01/llmrouter/dialect"
	"github.com/BaSui01/llmrouter/health"
	"github.com/BaSui01/llmrouter/pipeline"
	"github.com/BaSui01/llmrouter/provider"
	"github.com/BaSui01/llmrouter/retry"
	"github.com/BaSui01/llmrouter/types"
	"github.com/BaSui01/llmrouter/vault"
)

func fastBackoff() *retry.Policy {
	return &retry.Policy{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

type scriptedAdapter struct {
	responses []*provider.ExchangeResponse
	errs      []error
	calls     int
}

func (a *scriptedAdapter) Exchange(ctx context.Context, req provider.ExchangeRequest) (*provider.ExchangeResponse, error) {
	i := a.calls
	a.calls++
	if i >= len(a.errs) {
		i = len(a.errs) - 1
	}
	if a.errs[i] != nil {
		return nil, a.errs[i]
	}
	return a.responses[i], nil
}

func (a *scriptedAdapter) Stream(ctx context.Context, req provider.ExchangeRequest) (<-chan provider.StreamResult, error) {
	return nil, nil
}

func okResponse() *provider.ExchangeResponse {
	return &provider.ExchangeResponse{
		Body: types.NewDialectBody([]byte(`{"id":"r1","model":"gpt-5","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}]}`)),
		StatusCode: 200,
	}
}

func buildTestManager(t *testing.T, adapter provider.Adapter, retryBudget int) (*Manager, *vault.Vault) {
	t.Helper()
	v := vault.Build([]vault.CredentialRef{
		{ProviderID: "openai", KeyID: "k1", AuthType: "apiKey", Value: "sk-1", Enabled: true},
		{ProviderID: "openai", KeyID: "k2", AuthType: "apiKey", Value: "sk-2", Enabled: true},
	}, []byte("pepper"))
	tracker := health.New(3, 5, nil)
	m := New(retryBudget, v, tracker, nil).WithBackoff(fastBackoff())

	bp := pipeline.Blueprint{SwitchKind: "chat", WorkflowKind: "default", CompatibilityKind: "none", ProviderKind: "http", ProcessMode: pipeline.ModeChat}
	inst := pipeline.NewInstance("pipe-1", bp, dialect.ChatCodec{}, pipeline.NewWorkflow(pipeline.PolicyAuto, 0),
		compatibility.NewChain(), compatibility.Config{}, adapter, nil, nil)
	m.Register("chat", "pipe-1", inst, "openai", "k1")
	return m, v
}

func testRequest() pipeline.Request {
	return pipeline.Request{
		Endpoint:  types.EntryChatEndpoint,
		Body:      types.NewDialectBody([]byte(`{"model":"gpt-5","messages":[{"role":"user","content":"hey"}]}`)),
		RequestID: "req-1",
	}
}

func TestManager_Dispatch_SuccessOnFirstAttempt(t *testing.T) {
	t.Parallel()

	adapter := &scriptedAdapter{responses: []*provider.ExchangeResponse{okResponse()}, errs: []error{nil}}
	m, _ := buildTestManager(t, adapter, 3)

	resp, pipelineID, err := m.Dispatch(context.Background(), "chat", testRequest(), types.DialectChat)
	require.NoError(t, err)
	assert.Equal(t, "pipe-1", pipelineID)
	require.NotNil(t, resp.Buffered)
	assert.Equal(t, 1, adapter.calls)
}

func TestManager_Dispatch_NoRouteForUnknownCategory(t *testing.T) {
	t.Parallel()

	adapter := &scriptedAdapter{responses: []*provider.ExchangeResponse{okResponse()}, errs: []error{nil}}
	m, _ := buildTestManager(t, adapter, 3)

	_, _, err := m.Dispatch(context.Background(), "embeddings", testRequest(), types.DialectChat)
	require.Error(t, err)
	assert.Equal(t, types.NoRouteAvailable, types.KindOf(err))
}

func TestManager_Dispatch_RetriesOnRateLimitThenSucceeds(t *testing.T) {
	t.Parallel()

	v := vault.Build([]vault.CredentialRef{
		{ProviderID: "openai", KeyID: "k1", AuthType: "apiKey", Value: "sk-1", Enabled: true},
		{ProviderID: "openai", KeyID: "k2", AuthType: "apiKey", Value: "sk-2", Enabled: true},
	}, []byte("pepper"))
	tracker := health.New(3, 5, nil)
	m := New(3, v, tracker, nil).WithBackoff(fastBackoff())

	rateLimited := types.NewRouterError(types.UpstreamRateLimited, "429")
	adapterA := &scriptedAdapter{errs: []error{rateLimited}}
	adapterB := &scriptedAdapter{responses: []*provider.ExchangeResponse{okResponse()}, errs: []error{nil}}

	bp := pipeline.Blueprint{SwitchKind: "chat", WorkflowKind: "default", CompatibilityKind: "none", ProviderKind: "http", ProcessMode: pipeline.ModeChat}
	instA := pipeline.NewInstance("pipe-a", bp, dialect.ChatCodec{}, pipeline.NewWorkflow(pipeline.PolicyAuto, 0), compatibility.NewChain(), compatibility.Config{}, adapterA, nil, nil)
	instB := pipeline.NewInstance("pipe-b", bp, dialect.ChatCodec{}, pipeline.NewWorkflow(pipeline.PolicyAuto, 0), compatibility.NewChain(), compatibility.Config{}, adapterB, nil, nil)
	m.Register("chat", "pipe-a", instA, "openai", "k1")
	m.Register("chat", "pipe-b", instB, "openai", "k2")

	resp, pipelineID, err := m.Dispatch(context.Background(), "chat", testRequest(), types.DialectChat)
	require.NoError(t, err)
	assert.Equal(t, "pipe-b", pipelineID)
	require.NotNil(t, resp.Buffered)
	assert.Equal(t, 1, adapterA.calls)
	assert.Equal(t, 1, adapterB.calls)
}

func TestManager_Dispatch_NonRetryableErrorFailsFast(t *testing.T) {
	t.Parallel()

	badReq := types.NewRouterError(types.UpstreamBadRequest, "bad request")
	adapter := &scriptedAdapter{errs: []error{badReq}}
	m, _ := buildTestManager(t, adapter, 3)

	_, pipelineID, err := m.Dispatch(context.Background(), "chat", testRequest(), types.DialectChat)
	require.Error(t, err)
	assert.Equal(t, "pipe-1", pipelineID)
	assert.Equal(t, types.UpstreamBadRequest, types.KindOf(err))
	assert.Equal(t, 1, adapter.calls, "a non-retryable error must not retry")
}

func TestManager_Dispatch_AnthropicDialectNeverRetries(t *testing.T) {
	t.Parallel()

	rateLimited := types.NewRouterError(types.UpstreamRateLimited, "429")
	adapter := &scriptedAdapter{errs: []error{rateLimited}}
	m, _ := buildTestManager(t, adapter, 3)

	_, _, err := m.Dispatch(context.Background(), "chat", testRequest(), types.DialectAnthropic)
	require.Error(t, err)
	assert.Equal(t, 1, adapter.calls, "anthropic dialect gets zero automatic retries")
}

func TestManager_Dispatch_ExhaustsRetryBudgetOnRepeatedRateLimit(t *testing.T) {
	t.Parallel()

	rateLimited := types.NewRouterError(types.UpstreamRateLimited, "429")
	v := vault.Build([]vault.CredentialRef{
		{ProviderID: "openai", KeyID: "k1", AuthType: "apiKey", Value: "sk-1", Enabled: true},
		{ProviderID: "openai", KeyID: "k2", AuthType: "apiKey", Value: "sk-2", Enabled: true},
		{ProviderID: "openai", KeyID: "k3", AuthType: "apiKey", Value: "sk-3", Enabled: true},
	}, []byte("pepper"))
	tracker := health.New(10, 5, nil)
	m := New(3, v, tracker, nil).WithBackoff(fastBackoff())

	bp := pipeline.Blueprint{SwitchKind: "chat", WorkflowKind: "default", CompatibilityKind: "none", ProviderKind: "http", ProcessMode: pipeline.ModeChat}
	for i, keyID := range []string{"k1", "k2", "k3"} {
		a := &scriptedAdapter{errs: []error{rateLimited}}
		inst := pipeline.NewInstance("pipe-"+keyID, bp, dialect.ChatCodec{}, pipeline.NewWorkflow(pipeline.PolicyAuto, 0), compatibility.NewChain(), compatibility.Config{}, a, nil, nil)
		m.Register("chat", "pipe-"+keyID, inst, "openai", keyID)
		_ = i
	}

	_, _, err := m.Dispatch(context.Background(), "chat", testRequest(), types.DialectChat)
	require.Error(t, err)
	assert.Equal(t, types.RateLimitExhausted, types.KindOf(err))
}
