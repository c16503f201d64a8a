package mongodb

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/johanhaleby/occurrent-go/subscription"
)

// changeFeed wraps the MongoDB change stream of an event collection
// into an observable sequence of subscription.PositionAwareCloudEvent,
// the position-aware change feed described as C6: every delivered
// item carries the change stream's resume token, and the "now" start
// position is the server's current operation time advanced by one
// increment so replays never duplicate a just-persisted event.
type changeFeed struct {
	collection *eventDB
}

// eventDB is the subset of *mongo.Collection / *mongo.Database the
// change feed needs, named separately from the eventstore/mongodb
// collection handle so this package stays decoupled from exactly how
// the event store constructs its collection.
type eventDB struct {
	events   *mongo.Collection
	database *mongo.Database
}

func newChangeFeed(events *mongo.Collection, database *mongo.Database) *changeFeed {
	return &changeFeed{collection: &eventDB{events: events, database: database}}
}

// now asks the server for its current operation time and returns it
// advanced by one increment.
func (c *changeFeed) now(ctx context.Context) (subscription.Position, error) {
	result := c.collection.database.RunCommand(ctx, bson.D{{Key: "ping", Value: 1}})
	var reply bson.Raw
	reply, err := result.Raw()
	if err != nil {
		return nil, errors.Wrap(err, "mongodb: pinging server for operation time")
	}

	opTimeValue, err := reply.LookupErr("operationTime")
	if err != nil {
		return nil, errors.Wrap(err, "mongodb: server reply had no operationTime")
	}
	t, i := opTimeValue.Timestamp()

	return subscription.OperationTime(primitive.Timestamp{T: t, I: i + 1}), nil
}

// resolve turns a subscription.StartAt into a concrete Position,
// delegating Default to fallback (the durable subscription model's
// stored-position lookup) and Dynamic to its supplier.
func (c *changeFeed) resolve(ctx context.Context, startAt subscription.StartAt, fallback func(ctx context.Context) (subscription.Position, error)) (subscription.Position, error) {
	switch {
	case subscription.IsNow(startAt):
		return c.now(ctx)
	case subscription.IsDefault(startAt):
		return fallback(ctx)
	default:
	}
	if position, ok := subscription.PositionOf(startAt); ok {
		return position, nil
	}
	if supplier, ok := subscription.SupplierOf(startAt); ok {
		return supplier(ctx)
	}
	return c.now(ctx)
}

// open starts a change stream at position and returns a lazy iterator
// over admitted events. Only insert operations are observed: the
// event store never updates or upserts an event document in place.
func (c *changeFeed) open(ctx context.Context, position subscription.Position, filter subscription.Filter) (*changeFeedStream, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{{Key: "operationType", Value: "insert"}}}},
	}

	streamOptions := options.ChangeStream().SetFullDocument(options.Default)
	switch p := position.(type) {
	case subscription.ResumeTokenPosition:
		streamOptions.SetResumeAfter(p.Token)
	case subscription.OperationTimePosition:
		streamOptions.SetStartAtOperationTime(&p.Time)
	}

	cs, err := c.collection.events.Watch(ctx, pipeline, streamOptions)
	if err != nil {
		return nil, errors.Wrap(err, "mongodb: opening change stream")
	}

	return &changeFeedStream{changeStream: cs, filter: filter}, nil
}

// changeFeedStream is a lazy sequence of PositionAwareCloudEvent,
// filtering out events the subscription's filter does not admit
// before Next returns true for them.
type changeFeedStream struct {
	changeStream *mongo.ChangeStream
	filter       subscription.Filter
	current      subscription.PositionAwareCloudEvent
	err          error
}

// next advances past events the filter rejects and decodes the next
// admitted one. It reports false at end-of-stream or on error.
func (s *changeFeedStream) next(ctx context.Context, decode func(bson.Raw) (subscription.CloudEvent, error)) bool {
	for s.changeStream.Next(ctx) {
		var raw struct {
			FullDocument bson.Raw `bson:"fullDocument"`
		}
		if err := s.changeStream.Decode(&raw); err != nil {
			s.err = errors.Wrap(err, "mongodb: decoding change stream event")
			return false
		}

		event, err := decode(raw.FullDocument)
		if err != nil {
			s.err = errors.Wrap(err, "mongodb: decoding cloud event from change stream")
			return false
		}

		if s.filter != nil && !s.filter(event) {
			continue
		}

		s.current = subscription.PositionAwareCloudEvent{
			Event:    event,
			Position: subscription.ResumeToken(s.changeStream.ResumeToken()),
		}
		return true
	}
	if err := s.changeStream.Err(); err != nil {
		s.err = err
	}
	return false
}

func (s *changeFeedStream) event() subscription.PositionAwareCloudEvent { return s.current }

func (s *changeFeedStream) lastErr() error { return s.err }

func (s *changeFeedStream) close(ctx context.Context) error {
	return s.changeStream.Close(ctx)
}
