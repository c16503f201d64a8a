package eventstore

import "context"

// EventIterator is a lazy, forward-only sequence of CloudEvents read
// from a stream, modeled the same way the driver's own mongo.Cursor
// is: call Next to advance, Event to read the current item, and Close
// when done. Implementations must support early abandonment: a caller
// that stops calling Next before EOF and then calls Close must not
// leak resources.
type EventIterator interface {
	// Next advances the iterator and reports whether an event is
	// available. It returns false both at end-of-stream and on error;
	// callers must check Err after Next returns false.
	Next(ctx context.Context) bool
	// Event returns the event at the iterator's current position. It
	// is only valid after a call to Next that returned true.
	Event() CloudEvent
	// Err returns the first error encountered by Next, if any.
	Err() error
	// Close releases resources held by the iterator.
	Close(ctx context.Context) error
}

// EventStream is the result of a Read: the stream's version at read
// time and a lazy sequence of its events in stream order.
type EventStream struct {
	StreamID string
	Version  int64
	Events   EventIterator
}

// Slice drains the stream's iterator into a slice, closing it
// afterwards. It is a convenience for callers that don't need
// streaming semantics and are willing to materialize the whole read.
func (s EventStream) Slice(ctx context.Context) ([]CloudEvent, error) {
	defer s.Events.Close(ctx)

	events := make([]CloudEvent, 0)
	for s.Events.Next(ctx) {
		events = append(events, s.Events.Event())
	}
	if err := s.Events.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// sliceIterator is an EventIterator over an already materialized
// slice, used by implementations (and the in-memory test fake) that
// have no cheaper way to stream results.
type sliceIterator struct {
	events []CloudEvent
	pos    int
}

// NewSliceIterator builds an EventIterator that simply walks events.
func NewSliceIterator(events []CloudEvent) EventIterator {
	return &sliceIterator{events: events, pos: -1}
}

func (s *sliceIterator) Next(ctx context.Context) bool {
	s.pos++
	return s.pos < len(s.events)
}

func (s *sliceIterator) Event() CloudEvent {
	return s.events[s.pos]
}

func (s *sliceIterator) Err() error { return nil }

func (s *sliceIterator) Close(ctx context.Context) error { return nil }
