package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func TestDoSucceedsWithoutRetry(t *testing.T) {
	s := NewStrategy(None())
	calls := 0
	err := s.Do(context.Background(), nil, func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls: got %d want 1", calls)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	s := NewStrategy(Fixed(time.Millisecond))
	calls := 0
	err := s.Do(context.Background(), nil, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls: got %d want 3", calls)
	}
}

func TestDoStopsAfterMaxAttempts(t *testing.T) {
	s := NewStrategy(Fixed(time.Millisecond)).MaxAttempts(2)
	calls := 0
	err := s.Do(context.Background(), nil, func(ctx context.Context) error {
		calls++
		return errBoom
	})
	if err != errBoom {
		t.Fatalf("Do: got %v want errBoom", err)
	}
	if calls != 2 {
		t.Fatalf("calls: got %d want 2", calls)
	}
}

func TestDoNeverRetriesWithNoneBackoff(t *testing.T) {
	s := NewStrategy(None())
	calls := 0
	err := s.Do(context.Background(), nil, func(ctx context.Context) error {
		calls++
		return errBoom
	})
	if err != errBoom {
		t.Fatalf("Do: got %v want errBoom", err)
	}
	if calls != 1 {
		t.Fatalf("calls: got %d want 1", calls)
	}
}

func TestDoHonorsPredicate(t *testing.T) {
	var errNonRetryable = errors.New("non-retryable")
	s := NewStrategy(Fixed(time.Millisecond)).Retryable(func(err error) bool {
		return err != errNonRetryable
	})
	calls := 0
	err := s.Do(context.Background(), nil, func(ctx context.Context) error {
		calls++
		return errNonRetryable
	})
	if err != errNonRetryable {
		t.Fatalf("Do: got %v want errNonRetryable", err)
	}
	if calls != 1 {
		t.Fatalf("calls: got %d want 1 (predicate should stop immediately)", calls)
	}
}

func TestDoHonorsShouldStop(t *testing.T) {
	s := NewStrategy(Fixed(time.Millisecond))
	calls := 0
	stopped := false
	err := s.Do(context.Background(), func() bool { return stopped }, func(ctx context.Context) error {
		calls++
		stopped = true
		return errBoom
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if calls != 1 {
		t.Fatalf("calls: got %d want 1", calls)
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	s := NewStrategy(Fixed(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := s.Do(ctx, nil, func(ctx context.Context) error {
		return errBoom
	})
	if err != context.Canceled {
		t.Fatalf("Do: got %v want context.Canceled", err)
	}
}

func TestIsZero(t *testing.T) {
	if !(Strategy{}).IsZero() {
		t.Fatal("zero value Strategy should report IsZero")
	}
	if NewStrategy(None()).IsZero() {
		t.Fatal("NewStrategy(None()) should not report IsZero")
	}
}

func TestHasPredicate(t *testing.T) {
	if NewStrategy(None()).HasPredicate() {
		t.Fatal("a Strategy that never called Retryable should not report HasPredicate")
	}
	if !NewStrategy(None()).Retryable(nil).HasPredicate() {
		t.Fatal("Retryable(nil) should still report HasPredicate, to distinguish it from never having been called")
	}
	if !NewStrategy(None()).Retryable(func(error) bool { return true }).HasPredicate() {
		t.Fatal("Retryable(predicate) should report HasPredicate")
	}
}

func TestRetryableNilStillRetriesEveryError(t *testing.T) {
	s := NewStrategy(Fixed(time.Millisecond)).Retryable(nil)
	calls := 0
	err := s.Do(context.Background(), nil, func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return errBoom
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls: got %d want 2", calls)
	}
}
