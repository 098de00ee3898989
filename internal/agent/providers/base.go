// Package providers contains the LLM provider adapters. Each adapter speaks
// one vendor's streaming API and normalizes it to the provider-neutral chunk
// contract: text deltas, raw indexed tool-call fragments, and a finish
// reason. Adapters never assemble tool calls; reassembly belongs to the
// response processor's accumulator.
package providers

import (
	"context"
	"time"
)

// baseProvider holds the retry configuration shared by the adapters. Retries
// cover request creation only: once the first byte streams, errors surface as
// terminal chunk errors instead.
type baseProvider struct {
	maxRetries int
	retryDelay time.Duration
}

func newBaseProvider(maxRetries int, retryDelay time.Duration) baseProvider {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return baseProvider{maxRetries: maxRetries, retryDelay: retryDelay}
}

// retry runs op with linear backoff while the error stays retryable.
func (b baseProvider) retry(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 0; attempt < b.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.retryDelay * time.Duration(attempt)):
			}
		}
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
