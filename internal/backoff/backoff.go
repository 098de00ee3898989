// Package backoff computes exponential retry delays and sleeps through them
// under context control.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy shapes a delay curve. The wait before attempt n is
// Initial·Factor^(n-1), spread upward by Jitter and capped at Max.
type Policy struct {
	// Initial is the wait before the first retry.
	Initial time.Duration

	// Max caps the computed wait. Zero means no cap.
	Max time.Duration

	// Factor multiplies the wait per attempt. Values <= 0 default to 2.
	Factor float64

	// Jitter in [0,1] randomizes each wait upward by that fraction, so
	// concurrent retriers spread out. Zero keeps the curve deterministic.
	Jitter float64
}

// Delay returns the wait before attempt n. Attempts count from 1; earlier
// values behave like 1.
func (p Policy) Delay(attempt int) time.Duration {
	return p.delay(attempt, rand.Float64())
}

func (p Policy) delay(attempt int, random float64) time.Duration {
	factor := p.Factor
	if factor <= 0 {
		factor = 2
	}
	exp := math.Max(float64(attempt-1), 0)
	wait := float64(p.Initial) * math.Pow(factor, exp)
	wait += wait * p.Jitter * random
	if p.Max > 0 && wait > float64(p.Max) {
		wait = float64(p.Max)
	}
	return time.Duration(wait)
}

// Sleep waits out the delay before attempt n, returning ctx.Err() when the
// context ends first.
func (p Policy) Sleep(ctx context.Context, attempt int) error {
	return Sleep(ctx, p.Delay(attempt))
}

// Sleep blocks for d under context control. Non-positive durations return
// immediately.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
