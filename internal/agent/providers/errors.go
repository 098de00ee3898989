package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FailureReason categorizes why a provider request failed, driving the retry
// decision before a stream opens.
type FailureReason string

const (
	// FailureRateLimit indicates rate limiting (HTTP 429).
	FailureRateLimit FailureReason = "rate_limit"

	// FailureAuth indicates authentication failure (HTTP 401, 403).
	FailureAuth FailureReason = "auth"

	// FailureBilling indicates payment or quota issues (HTTP 402).
	FailureBilling FailureReason = "billing"

	// FailureTimeout indicates a request timeout.
	FailureTimeout FailureReason = "timeout"

	// FailureServerError indicates provider-side issues (HTTP 5xx).
	FailureServerError FailureReason = "server_error"

	// FailureInvalidRequest indicates client-side issues (HTTP 400).
	FailureInvalidRequest FailureReason = "invalid_request"

	// FailureModelUnavailable indicates the requested model does not exist
	// or is not accessible to the key.
	FailureModelUnavailable FailureReason = "model_unavailable"

	// FailureUnknown indicates an unclassified error.
	FailureUnknown FailureReason = "unknown"
)

// IsRetryable reports whether retrying the request may succeed.
func (r FailureReason) IsRetryable() bool {
	switch r {
	case FailureRateLimit, FailureTimeout, FailureServerError:
		return true
	default:
		return false
	}
}

// ProviderError is a structured error from an LLM provider with the context
// retry logic and logs need.
type ProviderError struct {
	// Reason categorizes the error.
	Reason FailureReason

	// Provider names the adapter ("openai", "anthropic").
	Provider string

	// Model is the model that was requested.
	Model string

	// Status is the HTTP status code when one applies.
	Status int

	// Message is the human-readable error message.
	Message string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Reason)}
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError wraps a raw provider failure, classifying it from the
// error text.
func NewProviderError(provider, model string, cause error) *ProviderError {
	err := &ProviderError{
		Provider: provider,
		Model:    model,
		Cause:    cause,
		Reason:   FailureUnknown,
	}
	if cause != nil {
		err.Message = cause.Error()
		err.Reason = ClassifyError(cause)
	}
	return err
}

// WithStatus attaches an HTTP status and reclassifies from it.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	if reason := classifyStatus(status); reason != FailureUnknown {
		e.Reason = reason
	}
	return e
}

// ClassifyError inspects an error's text and returns the closest reason.
// Vendor SDKs flatten HTTP failures into opaque error strings, so matching on
// text is the only classification both SDKs support.
func ClassifyError(err error) FailureReason {
	if err == nil {
		return FailureUnknown
	}
	text := strings.ToLower(err.Error())

	switch {
	case strings.Contains(text, "timeout"),
		strings.Contains(text, "deadline exceeded"),
		strings.Contains(text, "context deadline"):
		return FailureTimeout
	case strings.Contains(text, "rate limit"),
		strings.Contains(text, "rate_limit"),
		strings.Contains(text, "too many requests"),
		strings.Contains(text, "429"):
		return FailureRateLimit
	case strings.Contains(text, "unauthorized"),
		strings.Contains(text, "invalid api key"),
		strings.Contains(text, "invalid_api_key"),
		strings.Contains(text, "authentication"),
		strings.Contains(text, "401"),
		strings.Contains(text, "403"):
		return FailureAuth
	case strings.Contains(text, "billing"),
		strings.Contains(text, "payment"),
		strings.Contains(text, "quota"),
		strings.Contains(text, "402"):
		return FailureBilling
	case strings.Contains(text, "model not found"),
		strings.Contains(text, "model_not_found"),
		strings.Contains(text, "does not exist"):
		return FailureModelUnavailable
	case strings.Contains(text, "internal server"),
		strings.Contains(text, "server error"),
		strings.Contains(text, "500"),
		strings.Contains(text, "502"),
		strings.Contains(text, "503"),
		strings.Contains(text, "504"):
		return FailureServerError
	}
	return FailureUnknown
}

func classifyStatus(status int) FailureReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FailureAuth
	case status == http.StatusPaymentRequired:
		return FailureBilling
	case status == http.StatusTooManyRequests:
		return FailureRateLimit
	case status == http.StatusBadRequest:
		return FailureInvalidRequest
	case status == http.StatusNotFound:
		return FailureModelUnavailable
	case status >= 500:
		return FailureServerError
	default:
		return FailureUnknown
	}
}

// IsRetryable reports whether an error, structured or raw, is worth retrying.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Reason.IsRetryable()
	}
	return ClassifyError(err).IsRetryable()
}
