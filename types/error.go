package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind is the closed taxonomy of §7: every failure observed anywhere in
// the pipeline is mapped onto exactly one of these, once, at the point it is
// first observed.
type ErrorKind string

const (
	DialectTranslationFailed ErrorKind = "DIALECT_TRANSLATION_FAILED"
	NoRouteAvailable         ErrorKind = "NO_ROUTE_AVAILABLE"
	CredentialMissing        ErrorKind = "CREDENTIAL_MISSING"
	UpstreamBadRequest       ErrorKind = "UPSTREAM_BAD_REQUEST"
	UpstreamRateLimited      ErrorKind = "UPSTREAM_RATE_LIMITED"
	UpstreamUnavailable      ErrorKind = "UPSTREAM_UNAVAILABLE"
	UpstreamTimeout          ErrorKind = "UPSTREAM_TIMEOUT"
	UpstreamMalformed        ErrorKind = "UPSTREAM_MALFORMED"
	RateLimitExhausted       ErrorKind = "RATE_LIMIT_EXHAUSTED"
	Cancelled                ErrorKind = "CANCELLED"
	StreamCommitted          ErrorKind = "STREAM_COMMITTED"
)

// defaultHTTPStatus is the §7 mapping used when a caller doesn't override it
// with WithHTTPStatus.
func defaultHTTPStatus(kind ErrorKind) int {
	switch kind {
	case DialectTranslationFailed, UpstreamBadRequest:
		return http.StatusBadRequest
	case NoRouteAvailable:
		return http.StatusServiceUnavailable
	case CredentialMissing:
		return http.StatusInternalServerError
	case UpstreamRateLimited, RateLimitExhausted:
		return http.StatusTooManyRequests
	case UpstreamUnavailable:
		return http.StatusBadGateway
	case UpstreamTimeout:
		return http.StatusGatewayTimeout
	case UpstreamMalformed:
		return http.StatusBadGateway
	case Cancelled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the Manager's retry loop (§4.8) should ever
// consider this kind; it does not account for the Anthropic-dialect
// zero-retry rule or the retry budget, both of which live in manager.
func (k ErrorKind) Retryable() bool {
	switch k {
	case UpstreamRateLimited, UpstreamUnavailable, UpstreamTimeout:
		return true
	default:
		return false
	}
}

// RouterError is the one discriminated error type §9 calls for. Every
// adapter- or stage-level failure is mapped onto it exactly once, at the
// adapter boundary for upstream failures, the Switch for translation
// failures, or the Manager for routing failures.
type RouterError struct {
	Kind       ErrorKind
	Message    string
	HTTPStatus int
	PipelineID string
	Stage      string
	RequestID  string
	Provider   string
	Model      string
	BaseURL    string
	ElapsedMS  int64
	Cause      error
}

// NewRouterError builds a RouterError with the §7 default HTTP status for
// kind; callers refine it with the With* methods.
func NewRouterError(kind ErrorKind, message string) *RouterError {
	return &RouterError{Kind: kind, Message: message, HTTPStatus: defaultHTTPStatus(kind)}
}

func (e *RouterError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *RouterError) Unwrap() error { return e.Cause }

func (e *RouterError) WithCause(cause error) *RouterError {
	e.Cause = cause
	return e
}

func (e *RouterError) WithHTTPStatus(status int) *RouterError {
	e.HTTPStatus = status
	return e
}

// WithStage tags the error with the stage and pipeline it occurred in, per
// §4.6's "per-stage error scope" contract. Call this once, at the Instance
// boundary, before the error is propagated further.
func (e *RouterError) WithStage(pipelineID, stage, requestID string) *RouterError {
	e.PipelineID = pipelineID
	e.Stage = stage
	e.RequestID = requestID
	return e
}

func (e *RouterError) WithProviderContext(provider, model, baseURL string) *RouterError {
	e.Provider = provider
	e.Model = model
	e.BaseURL = baseURL
	return e
}

func (e *RouterError) WithElapsed(ms int64) *RouterError {
	e.ElapsedMS = ms
	return e
}

// Retryable reports whether this instance's kind is retryable in principle.
func (e *RouterError) Retryable() bool {
	return e.Kind.Retryable()
}

// KindOf extracts the ErrorKind from err, or "" if err is not a *RouterError.
func KindOf(err error) ErrorKind {
	var re *RouterError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}
