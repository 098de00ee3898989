package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureReason
	}{
		{"nil", nil, FailureUnknown},
		{"rate limit text", errors.New("429 Too Many Requests"), FailureRateLimit},
		{"rate limit underscore", errors.New("rate_limit_error: slow down"), FailureRateLimit},
		{"timeout", errors.New("request timeout"), FailureTimeout},
		{"deadline", errors.New("context deadline exceeded"), FailureTimeout},
		{"auth", errors.New("401 Unauthorized"), FailureAuth},
		{"invalid key", errors.New("invalid api key provided"), FailureAuth},
		{"billing", errors.New("quota exceeded for this month"), FailureBilling},
		{"model", errors.New("model not found: gpt-99"), FailureModelUnavailable},
		{"server", errors.New("502 Bad Gateway"), FailureServerError},
		{"internal", errors.New("internal server error"), FailureServerError},
		{"unknown", errors.New("something odd happened"), FailureUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestFailureReasonIsRetryable(t *testing.T) {
	retryable := []FailureReason{FailureRateLimit, FailureTimeout, FailureServerError}
	for _, r := range retryable {
		if !r.IsRetryable() {
			t.Errorf("%s should be retryable", r)
		}
	}

	terminal := []FailureReason{FailureAuth, FailureBilling, FailureInvalidRequest, FailureModelUnavailable, FailureUnknown}
	for _, r := range terminal {
		if r.IsRetryable() {
			t.Errorf("%s should not be retryable", r)
		}
	}
}

func TestProviderErrorFormat(t *testing.T) {
	err := NewProviderError("openai", "gpt-4o", errors.New("429 Too Many Requests")).WithStatus(429)

	msg := err.Error()
	for _, want := range []string{"[rate_limit]", "openai", "model=gpt-4o", "status=429", "429 Too Many Requests"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q missing %q", msg, want)
		}
	}
}

func TestProviderErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewProviderError("anthropic", "claude-sonnet-4-20250514", cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
}

func TestWithStatusReclassifies(t *testing.T) {
	err := NewProviderError("openai", "gpt-4o", errors.New("opaque failure"))
	if err.Reason != FailureUnknown {
		t.Fatalf("expected unknown before status, got %s", err.Reason)
	}

	err.WithStatus(503)
	if err.Reason != FailureServerError {
		t.Errorf("expected server_error after 503, got %s", err.Reason)
	}

	// An unmapped status must not clobber an existing classification.
	limited := NewProviderError("openai", "gpt-4o", errors.New("rate limit hit")).WithStatus(418)
	if limited.Reason != FailureRateLimit {
		t.Errorf("expected rate_limit to survive unmapped status, got %s", limited.Reason)
	}
}

func TestIsRetryableUnwrapsProviderError(t *testing.T) {
	inner := NewProviderError("openai", "gpt-4o", errors.New("500 internal server error"))
	wrapped := fmt.Errorf("request failed: %w", inner)

	if !IsRetryable(wrapped) {
		t.Error("expected wrapped server error to be retryable")
	}

	auth := fmt.Errorf("request failed: %w", NewProviderError("openai", "gpt-4o", errors.New("401 Unauthorized")))
	if IsRetryable(auth) {
		t.Error("expected wrapped auth error to not be retryable")
	}
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	b := newBaseProvider(3, time.Millisecond)

	calls := 0
	err := b.retry(context.Background(), func() error {
		calls++
		return errors.New("invalid api key")
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 attempt for non-retryable error, got %d", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	b := newBaseProvider(3, time.Millisecond)

	calls := 0
	err := b.retry(context.Background(), func() error {
		calls++
		return errors.New("429 Too Many Requests")
	})

	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	b := newBaseProvider(3, time.Millisecond)

	calls := 0
	err := b.retry(context.Background(), func() error {
		calls++
		if calls < 2 {
			return errors.New("503 Service Unavailable")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 attempts, got %d", calls)
	}
}

func TestRetryHonorsContextDuringBackoff(t *testing.T) {
	b := newBaseProvider(3, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- b.retry(ctx, func() error {
			return errors.New("rate limit")
		})
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("retry did not return after context cancellation")
	}
}
