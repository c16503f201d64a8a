package subscription

import (
	"context"
	"time"
)

// Filter decides whether an event is admitted to a subscription. The
// query DSL for building filters is out of scope for this module
// (callers can compose any predicate they like); this is the
// semantic contract a handler's delivery is filtered through.
type Filter func(event CloudEvent) bool

// Handler processes one delivered event. Returning an error causes
// the retry strategy to be consulted; once retries are exhausted the
// error propagates and the subscription's position is not advanced
// past this event.
type Handler func(ctx context.Context, event PositionAwareCloudEvent) error

// Subscription is the handle returned by Subscribe.
type Subscription interface {
	// ID returns the subscription id this handle was created for.
	ID() string
	// WaitUntilStarted blocks until the subscription has started, or
	// timeout elapses, or ctx is done, and reports whether it started
	// in time. subscription/mongodb counts a subscription as started
	// once its change stream is open; the subscriptiontest fake once
	// it has taken its first event.
	WaitUntilStarted(ctx context.Context, timeout time.Duration) bool
}

// Model is the abstract subscription model: a durable, position-aware,
// pausable/cancelable consumer over an event store's change stream,
// with competing-consumers coordination across replicas of the same
// subscriptionID.
type Model interface {
	// Start brings the model up: it is a no-op if already running.
	Start(ctx context.Context) error

	// Stop halts delivery for all subscriptions without forgetting
	// their registrations, as opposed to Shutdown which is terminal.
	Stop(ctx context.Context) error

	// Subscribe registers handler to receive events admitted by
	// filter (nil admits everything), starting at startAt. Calling
	// Subscribe twice for the same subscriptionID without an
	// intervening cancel fails with ErrSubscriptionAlreadyExists.
	Subscribe(ctx context.Context, subscriptionID string, filter Filter, startAt StartAt, handler Handler) (Subscription, error)

	// CancelSubscription detaches the subscription, removes its
	// registration and stored position/lease. A no-op for an unknown
	// subscriptionID.
	CancelSubscription(ctx context.Context, subscriptionID string) error

	// PauseSubscription stops delivery without forgetting the stored
	// position. Fails with ErrSubscriptionNotRunning for an unknown
	// or already-paused subscriptionID.
	PauseSubscription(ctx context.Context, subscriptionID string) error

	// ResumeSubscription resumes a paused subscription, re-reading
	// its stored position.
	ResumeSubscription(ctx context.Context, subscriptionID string) error

	// Shutdown stops all subscriptions cooperatively and is terminal:
	// a Model cannot be started again after Shutdown.
	Shutdown(ctx context.Context) error
}
