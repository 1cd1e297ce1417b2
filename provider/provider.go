// Package provider implements the Provider Adapter (§4.2): one HTTP exchange
// against one upstream endpoint for one pipeline, with auth injection,
// timeout resolution, and raw-stream exposure for the Streaming Coalescer.
package provider

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/BaSui01/llmrouter/internal/tlsutil"
	"github.com/BaSui01/llmrouter/types"
	"github.com/BaSui01/llmrouter/vault"
)

// AuthType selects how the credential is attached to the outbound request.
type AuthType string

const (
	AuthAPIKey AuthType = "apiKey"
	AuthOAuth  AuthType = "oauth"
)

// TokenRefresher exchanges an expired OAuth secret for a fresh one. The token
// store itself is out of scope (§4.2); the adapter only knows how to call it.
type TokenRefresher interface {
	Refresh(ctx context.Context, providerID, keyID string) (vault.Secret, error)
}

// Config is the static, per-provider configuration resolved at startup.
type Config struct {
	ProviderID   string
	BaseURL      string
	AuthType     AuthType
	Timeout      time.Duration // zero means DefaultTimeout applies
	ExtraHeaders map[string]string

	// RateLimit caps outbound requests per second to this provider, zero
	// disables shaping. BurstSize of zero defaults to 1.
	RateLimit float64
	BurstSize int
}

// DefaultTimeout is the process-wide fallback used when neither the model
// nor the provider specifies one (§4.2).
const DefaultTimeout = 60 * time.Second

// ExchangeRequest is the Provider Adapter's input: a body already rewritten
// into the dialect the provider expects, plus the credential and call
// metadata needed to issue the exchange.
type ExchangeRequest struct {
	Endpoint     string // path appended to Config.BaseURL, e.g. "/v1/chat/completions"
	Body         types.DialectBody
	Secret       vault.Secret
	KeyID        string
	RequestID    string
	Model        string
	ModelTimeout time.Duration // zero defers to Config.Timeout, then DefaultTimeout
	StreamFlag   bool
}

// ExchangeResponse is a buffered (non-streaming) exchange result.
type ExchangeResponse struct {
	Body       types.DialectBody
	StatusCode int
	ElapsedMS  int64
}

// RawEvent is one SSE event as delivered by the upstream, before any
// dialect-specific interpretation (§4.2: "a lazy sequence of raw SSE
// events"). Data is the concatenation of every "data:" line in the event,
// newline-joined, matching the SSE spec's multi-line data field.
type RawEvent struct {
	EventName string
	Data      string
}

// StreamResult is one item pulled from a streaming exchange: either a raw
// event or a terminal error, never both.
type StreamResult struct {
	Event *RawEvent
	Err   error
}

// Adapter is the Provider Adapter contract.
type Adapter interface {
	// Exchange performs a buffered HTTP exchange and returns the full
	// response body.
	Exchange(ctx context.Context, req ExchangeRequest) (*ExchangeResponse, error)

	// Stream performs the same exchange with streamFlag true; it returns a
	// pull-style channel of raw SSE events, terminated by either channel
	// close (clean EOF) or a final StreamResult carrying Err.
	Stream(ctx context.Context, req ExchangeRequest) (<-chan StreamResult, error)
}

// HTTPAdapter is the concrete, hand-rolled HTTP+SSE implementation.
type HTTPAdapter struct {
	cfg       Config
	client    *http.Client
	refresher TokenRefresher
	logger    *zap.Logger
	limiter   *rate.Limiter // nil when Config.RateLimit is unset
}

// New builds an HTTPAdapter. logger may be nil (defaults to a no-op logger).
func New(cfg Config, refresher TokenRefresher, logger *zap.Logger) *HTTPAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.BurstSize
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return &HTTPAdapter{
		cfg:       cfg,
		client:    tlsutil.SecureHTTPClient(timeout),
		refresher: refresher,
		logger:    logger,
		limiter:   limiter,
	}
}

func (a *HTTPAdapter) resolveTimeout(req ExchangeRequest) time.Duration {
	if req.ModelTimeout > 0 {
		return req.ModelTimeout
	}
	if a.cfg.Timeout > 0 {
		return a.cfg.Timeout
	}
	return DefaultTimeout
}

func (a *HTTPAdapter) endpoint(path string) string {
	return strings.TrimRight(a.cfg.BaseURL, "/") + path
}

func (a *HTTPAdapter) newHTTPRequest(ctx context.Context, req ExchangeRequest, secret vault.Secret) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint(req.Endpoint), bytes.NewReader(req.Body.Bytes()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+string(secret))
	httpReq.Header.Set("X-Request-Id", req.RequestID)
	for k, v := range a.cfg.ExtraHeaders {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

// await blocks until the per-provider rate shaper admits one outbound call,
// standing in for the Workflow/streaming-policy stage's non-streaming
// concerns (§11.2). A nil limiter (no RateLimit configured) never blocks.
func (a *HTTPAdapter) await(ctx context.Context) error {
	if a.limiter == nil {
		return nil
	}
	return a.limiter.Wait(ctx)
}

func (a *HTTPAdapter) doExchange(ctx context.Context, req ExchangeRequest, secret vault.Secret) (*http.Response, error) {
	if err := a.await(ctx); err != nil {
		return nil, err
	}
	httpReq, err := a.newHTTPRequest(ctx, req, secret)
	if err != nil {
		return nil, err
	}
	return a.client.Do(httpReq)
}

// Exchange implements Adapter. On a 401 with AuthOAuth configured, it asks
// the TokenRefresher for a fresh secret and retries the exchange exactly
// once (§4.2).
func (a *HTTPAdapter) Exchange(ctx context.Context, req ExchangeRequest) (*ExchangeResponse, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, a.resolveTimeout(req))
	defer cancel()

	resp, err := a.doExchange(ctx, req, req.Secret)
	if err != nil {
		return nil, a.classifyTransportError(err, req, start)
	}

	if resp.StatusCode == http.StatusUnauthorized && a.cfg.AuthType == AuthOAuth && a.refresher != nil {
		resp.Body.Close()
		// The refresh and the single retried exchange share one cancellable
		// group: a ctx cancellation mid-refresh aborts the whole at-most-once
		// retry instead of racing the retry against a stale parent ctx.
		group, gctx := errgroup.WithContext(ctx)
		var fresh vault.Secret
		group.Go(func() error {
			var refreshErr error
			fresh, refreshErr = a.refresher.Refresh(gctx, a.cfg.ProviderID, req.KeyID)
			return refreshErr
		})
		if refreshErr := group.Wait(); refreshErr == nil {
			resp, err = a.doExchange(ctx, req, fresh)
			if err != nil {
				return nil, a.classifyTransportError(err, req, start)
			}
		}
	}
	defer resp.Body.Close()

	elapsed := time.Since(start).Milliseconds()
	data, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, a.errFor(types.UpstreamMalformed, readErr.Error(), req, elapsed).WithHTTPStatus(resp.StatusCode)
	}

	if resp.StatusCode >= 400 {
		return nil, a.mapHTTPError(resp.StatusCode, data, req, elapsed)
	}

	return &ExchangeResponse{
		Body:       types.NewDialectBody(data),
		StatusCode: resp.StatusCode,
		ElapsedMS:  elapsed,
	}, nil
}

func (a *HTTPAdapter) classifyTransportError(err error, req ExchangeRequest, start time.Time) *types.RouterError {
	elapsed := time.Since(start).Milliseconds()
	kind := types.UpstreamUnavailable
	if isTimeoutErr(err) {
		kind = types.UpstreamTimeout
	}
	return a.errFor(kind, err.Error(), req, elapsed)
}

func isTimeoutErr(err error) bool {
	type timeouter interface{ Timeout() bool }
	for e := err; e != nil; {
		if t, ok := e.(timeouter); ok {
			return t.Timeout()
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		e = u.Unwrap()
	}
	return false
}

func (a *HTTPAdapter) mapHTTPError(status int, body []byte, req ExchangeRequest, elapsedMS int64) *types.RouterError {
	msg := extractErrorMessage(body)
	var kind types.ErrorKind
	switch {
	case status == http.StatusTooManyRequests:
		kind = types.UpstreamRateLimited
	case status >= 500:
		kind = types.UpstreamUnavailable
	default:
		kind = types.UpstreamBadRequest
	}
	return a.errFor(kind, msg, req, elapsedMS).WithHTTPStatus(status)
}

func extractErrorMessage(body []byte) string {
	if len(body) == 0 {
		return "empty error body"
	}
	db := types.NewDialectBody(body)
	if v, present := db.Get("error.message"); present {
		return v.String()
	}
	return string(body)
}

func (a *HTTPAdapter) errFor(kind types.ErrorKind, msg string, req ExchangeRequest, elapsedMS int64) *types.RouterError {
	return types.NewRouterError(kind, msg).
		WithElapsed(elapsedMS).
		WithProviderContext(a.cfg.ProviderID, req.Model, a.cfg.BaseURL)
}
