package mongodb

import (
	"time"

	"github.com/google/uuid"

	"github.com/johanhaleby/occurrent-go/eventstore"
	"github.com/johanhaleby/occurrent-go/subscription/retry"
)

// Options configures a Model backed by MongoDB change streams.
type Options struct {
	// EventCollection is the collection whose change stream is
	// observed. Required.
	EventCollection string
	// PositionCollection stores one document per subscription id (see
	// positionDocument) so a subscription can resume after a restart.
	// Defaults to
	// "subscriptionPositions".
	PositionCollection string
	// LeaseCollection stores {_id: subscriptionId, holder, expiresAt}
	// for competing-consumers coordination. Defaults to
	// "subscriptionLeases".
	LeaseCollection string
	// LeaseTTL is how long a lease is held before it may be taken
	// over by another replica that observes it expired. Renewed on a
	// heartbeat interval below LeaseTTL/2. Defaults to 10s.
	LeaseTTL time.Duration
	// ReplicaID identifies this process as a lease holder. Defaults
	// to a random UUID, which is fine for a single process instance
	// but should be set explicitly (e.g. to a pod name) when replicas
	// are expected to restart and you want lease ownership to be
	// attributable in logs across restarts.
	ReplicaID string
	// RetryStrategy wraps handler invocation and position
	// persistence. Defaults to retry.NewStrategy(retry.None()).
	RetryStrategy retry.Strategy
	// RestartOnChangeStreamHistoryLost, when true, restarts a
	// subscription from Now instead of failing with
	// CatchupImpossibleError when the change stream's history is no
	// longer available.
	RestartOnChangeStreamHistoryLost bool
	// TimeRepresentation must match the value the event store was
	// configured with, since it governs how the embedded CloudEvent's
	// "time" field is decoded off the change stream's fullDocument.
	TimeRepresentation eventstore.TimeRepresentation
	// MaxConcurrentSubscriptions bounds how many of this Model
	// instance's registered subscriptions may hold the supervisor
	// semaphore at once — which includes ones currently polling for
	// the lease, not only ones actively delivering, since the slot is
	// held for a supervisor's entire lifetime rather than acquired
	// only while leased. Defaults to 64 when unset.
	MaxConcurrentSubscriptions int64
	// LeasePollInterval is how often a replica that doesn't hold the
	// lease retries acquisition. Defaults to LeaseTTL/4.
	LeasePollInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.PositionCollection == "" {
		o.PositionCollection = "subscriptionPositions"
	}
	if o.LeaseCollection == "" {
		o.LeaseCollection = "subscriptionLeases"
	}
	if o.LeaseTTL <= 0 {
		o.LeaseTTL = 10 * time.Second
	}
	if o.ReplicaID == "" {
		o.ReplicaID = uuid.NewString()
	}
	if o.MaxConcurrentSubscriptions == 0 {
		o.MaxConcurrentSubscriptions = 64
	}
	if o.LeasePollInterval <= 0 {
		o.LeasePollInterval = o.LeaseTTL / 4
	}
	if o.RetryStrategy.IsZero() {
		o.RetryStrategy = retry.NewStrategy(retry.None())
	}
	if !o.RetryStrategy.HasPredicate() {
		// Dormant with the default None backoff (Do returns the first
		// error whatever the predicate says), but takes
		// effect the moment a caller configures a real backoff without
		// also calling Retryable themselves: only the storage errors
		// the storage layer has classified as transient get retried.
		o.RetryStrategy = o.RetryStrategy.Retryable(eventstore.IsTransientStorageError)
	}
	return o
}

func (o Options) heartbeatInterval() time.Duration {
	// Strictly less than ttl/2 per the lease election algorithm, with
	// headroom so a slow heartbeat round-trip doesn't itself expire
	// the lease.
	return (o.LeaseTTL / 2) - (o.LeaseTTL / 10)
}
