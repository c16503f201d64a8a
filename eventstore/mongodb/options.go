package mongodb

import "github.com/johanhaleby/occurrent-go/eventstore"

// Options configures an EventStore backed by a MongoDB collection.
type Options struct {
	// EventCollection is the name of the collection events are stored
	// in. Required.
	EventCollection string
	// Guarantee selects None or Transactional consistency. Defaults
	// to None (derived version, non-isolated batches) if left nil.
	Guarantee eventstore.StreamConsistencyGuarantee
	// TimeRepresentation governs how the CloudEvent "time" attribute
	// is persisted. Defaults to RFC3339String.
	TimeRepresentation eventstore.TimeRepresentation
}

func (o Options) guarantee() eventstore.StreamConsistencyGuarantee {
	if o.Guarantee == nil {
		return eventstore.None()
	}
	return o.Guarantee
}
