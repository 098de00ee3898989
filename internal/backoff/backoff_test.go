package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDelayDoublesFromInitial(t *testing.T) {
	p := Policy{Initial: 500 * time.Millisecond, Factor: 2}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 500 * time.Millisecond},
		{attempt: 1, want: 500 * time.Millisecond},
		{attempt: 2, want: time.Second},
		{attempt: 3, want: 2 * time.Second},
		{attempt: 4, want: 4 * time.Second},
	}
	for _, tc := range cases {
		if got := p.Delay(tc.attempt); got != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestDelayDefaultsFactor(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond}
	if got := p.Delay(3); got != 400*time.Millisecond {
		t.Errorf("Delay(3) = %v, want 400ms", got)
	}
}

func TestDelayCapsAtMax(t *testing.T) {
	p := Policy{Initial: time.Second, Factor: 3, Max: 5 * time.Second}
	if got := p.Delay(4); got != 5*time.Second {
		t.Errorf("Delay(4) = %v, want the 5s cap", got)
	}
}

func TestDelayJitterSpreadsUpward(t *testing.T) {
	p := Policy{Initial: time.Second, Factor: 2, Jitter: 0.5}

	if got := p.delay(1, 0); got != time.Second {
		t.Errorf("delay with zero random = %v, want 1s", got)
	}
	if got := p.delay(1, 1); got != 1500*time.Millisecond {
		t.Errorf("delay with max random = %v, want 1.5s", got)
	}
}

func TestSleepReturnsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Sleep blocked %v after cancellation", elapsed)
	}
}

func TestSleepZeroDuration(t *testing.T) {
	if err := Sleep(context.Background(), 0); err != nil {
		t.Fatalf("Sleep(0) = %v, want nil", err)
	}
}

func TestPolicySleepCompletes(t *testing.T) {
	p := Policy{Initial: time.Millisecond, Factor: 2}
	if err := p.Sleep(context.Background(), 1); err != nil {
		t.Fatalf("Sleep = %v, want nil", err)
	}
}
