package eventstore

import cloudevents "github.com/cloudevents/sdk-go/v2"

// CloudEvent is the wire/domain representation of one event, exactly
// as defined by the CloudEvents spec. occurrent-go does not extend this
// type; streamOrder is carried alongside it in the envelope. The
// MongoDB store also denormalizes the stream id onto each stored event
// as a "streamid" extension, so an event read back carries that
// extension in addition to the attributes it was written with.
type CloudEvent = cloudevents.Event

// EventEnvelope is the immutable record stored per event: a
// CloudEvent plus the stream bookkeeping fields that are specific to
// this store.
type EventEnvelope struct {
	// StreamID is the stream this event belongs to.
	StreamID string
	// StreamOrder is the 1-based, dense position of this event
	// within its stream under the Transactional guarantee. Under
	// None it is not assigned (stored as 0); events are ordered by
	// insertion instead.
	StreamOrder int64
	// Event is the CloudEvent payload.
	Event CloudEvent
}
