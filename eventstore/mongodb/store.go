// Package mongodb implements the occurrent-go event store on top of
// a MongoDB collection, following the write/read/delete contract of
// eventstore.EventStore under either the None or Transactional
// consistency guarantee.
package mongodb

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/johanhaleby/occurrent-go/condition"
	"github.com/johanhaleby/occurrent-go/eventstore"
)

// EventStore is the MongoDB-backed implementation of eventstore.EventStore.
type EventStore struct {
	client             *mongo.Client
	db                 *mongo.Database
	eventCollection    *mongo.Collection
	guarantee          eventstore.StreamConsistencyGuarantee
	timeRepresentation eventstore.TimeRepresentation
}

var _ eventstore.EventStore = (*EventStore)(nil)

// NewEventStore creates the event collection indexes (unique on
// (id, source), non-unique on (streamId, streamOrder)) and returns a
// ready-to-use EventStore.
func NewEventStore(ctx context.Context, client *mongo.Client, database string, opts Options) (*EventStore, error) {
	if opts.EventCollection == "" {
		return nil, errors.New("mongodb: EventCollection is required")
	}

	db := client.Database(database)
	eventCollection := db.Collection(opts.EventCollection)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}, {Key: "source", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("occurrent_id_source_unique"),
		},
		{
			Keys:    bson.D{{Key: "streamId", Value: 1}, {Key: "streamOrder", Value: 1}},
			Options: options.Index().SetName("occurrent_streamId_streamOrder"),
		},
	}
	if _, err := eventCollection.Indexes().CreateMany(ctx, indexes); err != nil {
		return nil, errors.Wrap(err, "mongodb: creating event collection indexes")
	}

	return &EventStore{
		client:             client,
		db:                 db,
		eventCollection:    eventCollection,
		guarantee:          opts.guarantee(),
		timeRepresentation: opts.TimeRepresentation,
	}, nil
}

// Write implements eventstore.EventStore.
func (s *EventStore) Write(ctx context.Context, streamID string, writeCondition eventstore.WriteCondition, events ...eventstore.CloudEvent) error {
	logger := log.With().Str("streamId", streamID).Int("eventCount", len(events)).Logger()

	if len(events) == 0 {
		logger.Debug().Msg("write called with no events, nothing to do")
		return nil
	}

	if eventstore.IsTransactional(s.guarantee) {
		return s.writeTransactional(ctx, streamID, writeCondition, events, logger)
	}
	return s.writeNone(ctx, streamID, writeCondition, events, logger)
}

func (s *EventStore) writeTransactional(ctx context.Context, streamID string, writeCondition eventstore.WriteCondition, events []eventstore.CloudEvent, logger zerolog.Logger) error {
	session, err := s.client.StartSession()
	if err != nil {
		return errors.Wrap(err, "mongodb: starting session")
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		currentVersion, err := s.currentVersionTx(sessCtx, streamID)
		if err != nil {
			return nil, err
		}

		fulfilled, versionCondition, err := s.checkWriteCondition(sessCtx, streamID, writeCondition)
		if err != nil {
			return nil, err
		}
		if !fulfilled {
			logger.Debug().Int64("currentVersion", currentVersion).Msg("write condition not fulfilled")
			return nil, &eventstore.WriteConditionNotFulfilledError{
				StreamID: streamID,
				Expected: versionCondition,
				Actual:   currentVersion,
			}
		}

		docs := make([]interface{}, len(events))
		for i, event := range events {
			doc, err := toDocument(streamID, currentVersion+1+int64(i), event, s.timeRepresentation)
			if err != nil {
				return nil, errors.Wrap(err, "mongodb: encoding event")
			}
			docs[i] = doc
		}

		insertOptions := options.InsertMany().SetOrdered(true)
		if _, err := s.eventCollection.InsertMany(sessCtx, docs, insertOptions); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, eventstore.NewDuplicateCloudEventError(streamID, err)
			}
			return nil, errors.Wrap(err, "mongodb: inserting events")
		}

		newVersion := currentVersion + int64(len(events))
		metadataCollection, _ := eventstore.MetadataCollection(s.guarantee)
		_, err = s.db.Collection(metadataCollection).UpdateOne(
			sessCtx,
			bson.M{"_id": streamID},
			bson.M{"$set": bson.M{"version": newVersion}},
			options.Update().SetUpsert(true),
		)
		if err != nil {
			return nil, errors.Wrap(err, "mongodb: upserting stream metadata")
		}

		logger.Debug().Int64("newVersion", newVersion).Msg("write committed")
		return nil, nil
	})

	if err != nil {
		logger.Error().Err(err).Msg("transactional write failed")
	}
	return err
}

func (s *EventStore) writeNone(ctx context.Context, streamID string, writeCondition eventstore.WriteCondition, events []eventstore.CloudEvent, logger zerolog.Logger) error {
	if !writeCondition.IsAnyStreamVersion() {
		return eventstore.ErrWriteConditionNotSupported
	}

	docs := make([]interface{}, len(events))
	for i, event := range events {
		// streamOrder has no authoritative meaning under None; events
		// are read back in insertion (_id) order instead.
		doc, err := toDocument(streamID, 0, event, s.timeRepresentation)
		if err != nil {
			return errors.Wrap(err, "mongodb: encoding event")
		}
		docs[i] = doc
	}

	insertOptions := options.InsertMany().SetOrdered(true)
	if _, err := s.eventCollection.InsertMany(ctx, docs, insertOptions); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			logger.Debug().Msg("duplicate cloud event, events before the duplicate remain persisted")
			return eventstore.NewDuplicateCloudEventError(streamID, err)
		}
		return errors.Wrap(err, "mongodb: inserting events")
	}
	return nil
}

// Read implements eventstore.EventStore.
func (s *EventStore) Read(ctx context.Context, streamID string, skip, limit int64) (eventstore.EventStream, error) {
	if eventstore.IsTransactional(s.guarantee) {
		return s.readTransactional(ctx, streamID, skip, limit)
	}
	return s.readNone(ctx, streamID, skip, limit)
}

func (s *EventStore) readTransactional(ctx context.Context, streamID string, skip, limit int64) (eventstore.EventStream, error) {
	session, err := s.client.StartSession()
	if err != nil {
		return eventstore.EventStream{}, errors.Wrap(err, "mongodb: starting session")
	}
	defer session.EndSession(ctx)

	var version int64
	var docs []eventDocument

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		v, err := s.currentVersionTx(sessCtx, streamID)
		if err != nil {
			return nil, err
		}
		version = v

		found, err := s.findEvents(sessCtx, streamID, bson.D{{Key: "streamOrder", Value: 1}}, skip, limit)
		if err != nil {
			return nil, err
		}
		docs = found
		return nil, nil
	})
	if err != nil {
		return eventstore.EventStream{}, err
	}

	events, err := decodeAll(docs, s.timeRepresentation)
	if err != nil {
		return eventstore.EventStream{}, err
	}
	return eventstore.EventStream{StreamID: streamID, Version: version, Events: eventstore.NewSliceIterator(events)}, nil
}

func (s *EventStore) readNone(ctx context.Context, streamID string, skip, limit int64) (eventstore.EventStream, error) {
	version, err := s.eventCollection.CountDocuments(ctx, bson.M{"streamId": streamID})
	if err != nil {
		return eventstore.EventStream{}, errors.Wrap(err, "mongodb: counting events")
	}

	docs, err := s.findEvents(ctx, streamID, bson.D{{Key: "_id", Value: 1}}, skip, limit)
	if err != nil {
		return eventstore.EventStream{}, err
	}

	events, err := decodeAll(docs, s.timeRepresentation)
	if err != nil {
		return eventstore.EventStream{}, err
	}
	return eventstore.EventStream{StreamID: streamID, Version: version, Events: eventstore.NewSliceIterator(events)}, nil
}

func (s *EventStore) findEvents(ctx context.Context, streamID string, sort bson.D, skip, limit int64) ([]eventDocument, error) {
	findOptions := options.Find().SetSort(sort).SetSkip(skip)
	if limit > 0 {
		findOptions.SetLimit(limit)
	}

	cursor, err := s.eventCollection.Find(ctx, bson.M{"streamId": streamID}, findOptions)
	if err != nil {
		return nil, errors.Wrap(err, "mongodb: finding events")
	}
	defer cursor.Close(ctx)

	docs := make([]eventDocument, 0)
	for cursor.Next(ctx) {
		var doc eventDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "mongodb: decoding event")
		}
		docs = append(docs, doc)
	}
	if err := cursor.Err(); err != nil {
		return nil, errors.Wrap(err, "mongodb: iterating events")
	}
	return docs, nil
}

func decodeAll(docs []eventDocument, timeRep eventstore.TimeRepresentation) ([]eventstore.CloudEvent, error) {
	events := make([]eventstore.CloudEvent, len(docs))
	for i, doc := range docs {
		event, err := toCloudEvent(doc, timeRep)
		if err != nil {
			return nil, errors.Wrap(err, "mongodb: decoding cloud event")
		}
		events[i] = event
	}
	return events, nil
}

func (s *EventStore) currentVersionTx(ctx context.Context, streamID string) (int64, error) {
	metadataCollection, ok := eventstore.MetadataCollection(s.guarantee)
	if !ok {
		return 0, errors.New("mongodb: currentVersionTx requires the Transactional guarantee")
	}

	var meta metadataDocument
	err := s.db.Collection(metadataCollection).FindOne(ctx, bson.M{"_id": streamID}).Decode(&meta)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "mongodb: loading stream metadata")
	}
	return meta.Version, nil
}

// checkWriteCondition verifies writeCondition against streamID's
// metadata document server-side, by compiling the version condition
// to a MongoDB filter with condition.ToFilter and running it as a
// CountDocuments query scoped to the stream's metadata document,
// rather than fetching the version and evaluating the condition
// in-process. AnyStreamVersion is always fulfilled without a query.
// Returns the condition (for error reporting) alongside the result.
func (s *EventStore) checkWriteCondition(ctx context.Context, streamID string, writeCondition eventstore.WriteCondition) (bool, condition.Condition[int64], error) {
	versionCondition, ok := writeCondition.Condition()
	if !ok {
		return true, versionCondition, nil
	}

	metadataCollection, _ := eventstore.MetadataCollection(s.guarantee)
	collection := s.db.Collection(metadataCollection)

	filter := bson.M{"_id": streamID}
	for k, v := range condition.ToFilter("version", versionCondition) {
		filter[k] = v
	}

	count, err := collection.CountDocuments(ctx, filter)
	if err != nil {
		return false, versionCondition, errors.Wrap(err, "mongodb: verifying write condition")
	}
	if count > 0 {
		return true, versionCondition, nil
	}

	// A brand-new stream has no metadata document at all yet, which the
	// filter above can't distinguish from "version present but
	// mismatched" since there is no document for it to match against.
	// Fall back to evaluating the condition in-process against the
	// implicit version 0 for that one case.
	docExists, err := collection.CountDocuments(ctx, bson.M{"_id": streamID})
	if err != nil {
		return false, versionCondition, errors.Wrap(err, "mongodb: verifying write condition")
	}
	if docExists == 0 {
		return versionCondition.Evaluate(0), versionCondition, nil
	}
	return false, versionCondition, nil
}

// Exists implements eventstore.EventStore.
func (s *EventStore) Exists(ctx context.Context, streamID string) (bool, error) {
	count, err := s.eventCollection.CountDocuments(ctx, bson.M{"streamId": streamID}, options.Count().SetLimit(1))
	if err != nil {
		return false, errors.Wrap(err, "mongodb: checking stream existence")
	}
	return count > 0, nil
}

// DeleteAllEventsInEventStream implements eventstore.EventStore.
func (s *EventStore) DeleteAllEventsInEventStream(ctx context.Context, streamID string) error {
	if _, err := s.eventCollection.DeleteMany(ctx, bson.M{"streamId": streamID}); err != nil {
		return errors.Wrap(err, "mongodb: deleting events")
	}
	return nil
}

// DeleteEventStream implements eventstore.EventStore.
func (s *EventStore) DeleteEventStream(ctx context.Context, streamID string) error {
	if err := s.DeleteAllEventsInEventStream(ctx, streamID); err != nil {
		return err
	}
	if metadataCollection, ok := eventstore.MetadataCollection(s.guarantee); ok {
		if _, err := s.db.Collection(metadataCollection).DeleteOne(ctx, bson.M{"_id": streamID}); err != nil {
			return errors.Wrap(err, "mongodb: deleting stream metadata")
		}
	}
	return nil
}

// DeleteEvent implements eventstore.EventStore.
func (s *EventStore) DeleteEvent(ctx context.Context, id, source string) error {
	if _, err := s.eventCollection.DeleteOne(ctx, bson.M{"id": id, "source": source}); err != nil {
		return errors.Wrap(err, "mongodb: deleting event")
	}
	return nil
}
