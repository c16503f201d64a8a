package eventstore

import "context"

// EventStore is the write-optimistic, stream-scoped append-only log
// described by the event store component of occurrent-go. It is
// implemented by eventstore/mongodb.EventStore; a second,
// non-persistent implementation lives in eventstore/eventstoretest for
// use in tests that don't need a live Mongo deployment.
type EventStore interface {
	// Write materializes events and appends them to streamID. An
	// empty events slice is a no-op: no condition check, no version
	// bump. See None and Transactional for how batch isolation and
	// the version differ per guarantee.
	Write(ctx context.Context, streamID string, condition WriteCondition, events ...CloudEvent) error

	// Read returns streamID's current version and its events in
	// stream order, applying skip and limit server-side where
	// possible. limit <= 0 means unbounded. A nonexistent stream
	// returns version 0 and an empty sequence, never an error.
	Read(ctx context.Context, streamID string, skip, limit int64) (EventStream, error)

	// Exists reports whether at least one event has been persisted
	// for streamID.
	Exists(ctx context.Context, streamID string) (bool, error)

	// DeleteAllEventsInEventStream removes every event envelope for
	// streamID. Under Transactional the metadata version is
	// preserved so the next write continues from the prior version.
	DeleteAllEventsInEventStream(ctx context.Context, streamID string) error

	// DeleteEventStream removes both the events and, under
	// Transactional, the metadata document for streamID.
	DeleteEventStream(ctx context.Context, streamID string) error

	// DeleteEvent removes the single envelope identified by (id,
	// source). It never alters metadata version and leaves a
	// permanent gap in streamOrder.
	DeleteEvent(ctx context.Context, id, source string) error
}
