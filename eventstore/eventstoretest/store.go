// Package eventstoretest provides an in-memory eventstore.EventStore
// fake for tests that exercise write/read/delete semantics without a
// live MongoDB deployment. It is adapted from the teacher's
// es/basic/memorystore.go in-memory data store, generalized to
// occurrent-go's richer write-condition and duplicate-detection
// contract instead of the teacher's plain version check.
package eventstoretest

import (
	"context"
	"sync"

	"github.com/johanhaleby/occurrent-go/eventstore"
)

// Store is an in-memory EventStore whose writes behave as under the
// Transactional guarantee: batches are all-or-nothing and any version
// condition is accepted. A stream's version is the number of events it
// currently holds, so DeleteAllEventsInEventStream and DeleteEvent
// lower it; the version is not preserved across deletions, and
// DeleteEventStream does the same as DeleteAllEventsInEventStream.
type Store struct {
	mu      sync.Mutex
	streams map[string][]eventstore.CloudEvent
	ids     map[string]struct{} // (id, source) seen globally
}

var _ eventstore.EventStore = (*Store)(nil)

// New returns an empty in-memory Store.
func New() *Store {
	return &Store{
		streams: make(map[string][]eventstore.CloudEvent),
		ids:     make(map[string]struct{}),
	}
}

func key(id, source string) string { return source + "\x00" + id }

// Write implements eventstore.EventStore.
func (s *Store) Write(ctx context.Context, streamID string, condition eventstore.WriteCondition, events ...eventstore.CloudEvent) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	currentVersion := int64(len(s.streams[streamID]))
	if !condition.IsFulfilled(currentVersion) {
		versionCondition, _ := condition.Condition()
		return &eventstore.WriteConditionNotFulfilledError{
			StreamID: streamID,
			Expected: versionCondition,
			Actual:   currentVersion,
		}
	}

	seen := make(map[string]struct{}, len(events))
	for _, event := range events {
		k := key(event.ID(), event.Source())
		if _, exists := s.ids[k]; exists {
			return eventstore.NewDuplicateCloudEventError(streamID, duplicateError{id: event.ID(), source: event.Source()})
		}
		if _, exists := seen[k]; exists {
			return eventstore.NewDuplicateCloudEventError(streamID, duplicateError{id: event.ID(), source: event.Source()})
		}
		seen[k] = struct{}{}
	}

	for k := range seen {
		s.ids[k] = struct{}{}
	}
	s.streams[streamID] = append(s.streams[streamID], events...)
	return nil
}

// Read implements eventstore.EventStore.
func (s *Store) Read(ctx context.Context, streamID string, skip, limit int64) (eventstore.EventStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.streams[streamID]
	version := int64(len(all))

	from := skip
	if from > int64(len(all)) {
		from = int64(len(all))
	}
	sliced := all[from:]
	if limit > 0 && int64(len(sliced)) > limit {
		sliced = sliced[:limit]
	}

	events := make([]eventstore.CloudEvent, len(sliced))
	copy(events, sliced)

	return eventstore.EventStream{
		StreamID: streamID,
		Version:  version,
		Events:   eventstore.NewSliceIterator(events),
	}, nil
}

// Exists implements eventstore.EventStore.
func (s *Store) Exists(ctx context.Context, streamID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams[streamID]) > 0, nil
}

// DeleteAllEventsInEventStream implements eventstore.EventStore.
func (s *Store) DeleteAllEventsInEventStream(ctx context.Context, streamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, event := range s.streams[streamID] {
		delete(s.ids, key(event.ID(), event.Source()))
	}
	delete(s.streams, streamID)
	return nil
}

// DeleteEventStream implements eventstore.EventStore.
func (s *Store) DeleteEventStream(ctx context.Context, streamID string) error {
	return s.DeleteAllEventsInEventStream(ctx, streamID)
}

// DeleteEvent implements eventstore.EventStore.
func (s *Store) DeleteEvent(ctx context.Context, id, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.ids, key(id, source))
	for streamID, events := range s.streams {
		for i, event := range events {
			if event.ID() == id && event.Source() == source {
				s.streams[streamID] = append(events[:i], events[i+1:]...)
				return nil
			}
		}
	}
	return nil
}

type duplicateError struct {
	id     string
	source string
}

func (e duplicateError) Error() string {
	return "duplicate event id=" + e.id + " source=" + e.source
}
