package subscriptiontest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/johanhaleby/occurrent-go/subscription"
)

func newTestEvent(id string) subscription.CloudEvent {
	event := cloudevents.NewEvent()
	event.SetID(id)
	event.SetSource("subscriptiontest")
	event.SetType("test.event")
	return event
}

// TestResumeWithoutRedelivery covers S7: cancelling a subscription
// after it has processed some events and resubscribing with
// startAt=AtPosition(last delivered) must not redeliver them.
func TestResumeWithoutRedelivery(t *testing.T) {
	m := New()

	var mu sync.Mutex
	var received []string
	done := make(chan struct{}, 1)

	handle, err := m.Subscribe(context.Background(), "sub-1", nil, subscription.Now(), func(ctx context.Context, event subscription.PositionAwareCloudEvent) error {
		mu.Lock()
		received = append(received, event.Event.ID())
		n := len(received)
		mu.Unlock()
		if n == 2 {
			done <- struct{}{}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	m.Publish(newTestEvent("1"))
	m.Publish(newTestEvent("2"))
	if !handle.WaitUntilStarted(context.Background(), time.Second) {
		t.Fatalf("subscription never started")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for both events")
	}

	if err := m.CancelSubscription(context.Background(), "sub-1"); err != nil {
		t.Fatalf("CancelSubscription: %v", err)
	}

	mu.Lock()
	if len(received) != 2 {
		t.Fatalf("got %d events before cancel, want 2", len(received))
	}
	mu.Unlock()

	// Resubscribing at the position the first subscription had reached
	// must pick up exactly where it left off: event 3 delivered, 1 and
	// 2 not redelivered.
	resumeFrom := currentEnd(m)
	m.Publish(newTestEvent("3"))

	var mu2 sync.Mutex
	var receivedAgain []string
	_, err = m.Subscribe(context.Background(), "sub-1", nil, subscription.AtPosition(resumeFrom), func(ctx context.Context, event subscription.PositionAwareCloudEvent) error {
		mu2.Lock()
		receivedAgain = append(receivedAgain, event.Event.ID())
		mu2.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe after cancel: %v", err)
	}
	defer m.CancelSubscription(context.Background(), "sub-1")

	time.Sleep(50 * time.Millisecond)

	mu2.Lock()
	defer mu2.Unlock()
	if len(receivedAgain) != 1 || receivedAgain[0] != "3" {
		t.Fatalf("got %v after resume, want exactly [3]", receivedAgain)
	}
}

// currentEnd resolves a Position at the current end of the log, the
// same "pick up from here" semantics Subscribe gives a fresh
// subscriptionID, exercised explicitly via AtPosition instead of Now
// to cover the AtPosition branch.
func currentEnd(m *Model) subscription.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cursorToPosition(int64(len(m.log)))
}

// TestAtMostOneConcurrentHandlerInvocation covers S8: a subscription
// never runs two handler invocations for the same subscriptionID
// concurrently, even when the handler is slow relative to the publish
// rate.
func TestAtMostOneConcurrentHandlerInvocation(t *testing.T) {
	m := New()

	var inFlight int32
	var maxObserved int32
	var processed int32
	done := make(chan struct{})

	_, err := m.Subscribe(context.Background(), "sub-1", nil, subscription.Now(), func(ctx context.Context, event subscription.PositionAwareCloudEvent) error {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			max := atomic.LoadInt32(&maxObserved)
			if n <= max || atomic.CompareAndSwapInt32(&maxObserved, max, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		if atomic.AddInt32(&processed, 1) == 10 {
			close(done)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	for i := 0; i < 10; i++ {
		m.Publish(newTestEvent(string(rune('a' + i))))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out, processed %d/10", atomic.LoadInt32(&processed))
	}

	if got := atomic.LoadInt32(&maxObserved); got != 1 {
		t.Fatalf("observed %d concurrent handler invocations, want at most 1", got)
	}
}
