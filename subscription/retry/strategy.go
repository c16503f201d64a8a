package retry

import (
	"context"
	"time"
)

// Predicate decides whether an error is worth retrying. A nil
// predicate retries every error.
type Predicate func(error) bool

// Strategy wraps an action with a Backoff, an optional attempt cap,
// and an optional Predicate, following the source's
// org.occurrent.retry.RetryStrategy.
type Strategy struct {
	backoff      Backoff
	maxAttempts  int // 0 means unlimited
	predicate    Predicate
	predicateSet bool
}

// NewStrategy builds a Strategy from backoff. Use MaxAttempts and
// Retryable to further restrict it.
func NewStrategy(backoff Backoff) Strategy {
	return Strategy{backoff: backoff}
}

// MaxAttempts returns a copy of s that gives up after n total
// attempts (n <= 0 means unlimited).
func (s Strategy) MaxAttempts(n int) Strategy {
	s.maxAttempts = n
	return s
}

// Retryable returns a copy of s that only retries errors for which
// predicate returns true; any other error propagates immediately. A
// nil predicate explicitly requests "retry every error," the same as
// never calling Retryable.
func (s Strategy) Retryable(predicate Predicate) Strategy {
	s.predicate = predicate
	s.predicateSet = true
	return s
}

// HasPredicate reports whether Retryable has been called on s, as
// opposed to a Predicate that is nil because it was never set.
func (s Strategy) HasPredicate() bool {
	return s.predicateSet
}

// IsZero reports whether s is the unconfigured zero value, which
// callers should treat the same as NewStrategy(None()).
func (s Strategy) IsZero() bool {
	return s.backoff == nil
}

// Do runs action, retrying per the strategy until it succeeds, the
// attempt cap is reached, the predicate rejects an error, or ctx is
// done. shouldStop is consulted before every attempt (including the
// first) so a cooperative shutdown flag observed mid-retry stops
// further attempts without a context cancellation; Do then returns the
// last attempt's error, or ctx.Err() if no attempt was made.
func (s Strategy) Do(ctx context.Context, shouldStop func() bool, action func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; ; attempt++ {
		if shouldStop != nil && shouldStop() {
			if lastErr != nil {
				return lastErr
			}
			return ctx.Err()
		}

		err := action(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if s.predicate != nil && !s.predicate(err) {
			return err
		}
		if s.maxAttempts > 0 && attempt >= s.maxAttempts {
			return err
		}
		if s.backoff == nil {
			return err
		}
		if _, ok := s.backoff.(noneBackoff); ok {
			return err
		}

		delay := s.backoff.delay(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
