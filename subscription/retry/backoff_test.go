package retry

import (
	"testing"
	"time"
)

func TestFixedBackoffDelay(t *testing.T) {
	b := Fixed(200 * time.Millisecond)
	for attempt := 1; attempt <= 3; attempt++ {
		if got := b.(fixedBackoff).delay(attempt); got != 200*time.Millisecond {
			t.Errorf("attempt %d: got %v, want 200ms", attempt, got)
		}
	}
}

func TestExponentialBackoffDelayGrowsAndCaps(t *testing.T) {
	b := Exponential(100*time.Millisecond, time.Second, 2).(exponentialBackoff)

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second}, // capped
		{10, time.Second},
	}
	for _, tc := range cases {
		if got := b.delay(tc.attempt); got != tc.want {
			t.Errorf("attempt %d: got %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestWithJitterStaysWithinBound(t *testing.T) {
	b := WithJitter(Exponential(100*time.Millisecond, time.Second, 2))
	for i := 0; i < 50; i++ {
		got := b.delay(3)
		if got < 0 || got > 400*time.Millisecond {
			t.Fatalf("jittered delay %v out of [0, 400ms]", got)
		}
	}
}

func TestWithJitterPanicsOnNonExponential(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for WithJitter on a non-Exponential backoff")
		}
	}()
	WithJitter(Fixed(time.Second))
}

func TestNoneBackoffHasZeroDelay(t *testing.T) {
	if got := None().(noneBackoff).delay(1); got != 0 {
		t.Errorf("got %v, want 0", got)
	}
}
