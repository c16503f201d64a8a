package mongodb

import (
	"context"
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"

	"github.com/johanhaleby/occurrent-go/condition"
	"github.com/johanhaleby/occurrent-go/eventstore"
)

// requireMongo connects to MONGODB_URI, skipping the test if it is
// not set, since these exercise real write-concern and transaction
// behavior that an in-memory fake cannot stand in for.
func requireMongo(t *testing.T) *mongo.Client {
	t.Helper()
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set, skipping MongoDB-backed event store test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, mongooptions.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("connecting to mongo: %v", err)
	}
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })
	return client
}

func newStoreForTest(t *testing.T, guarantee eventstore.StreamConsistencyGuarantee) *EventStore {
	t.Helper()
	client := requireMongo(t)
	ctx := context.Background()

	store, err := NewEventStore(ctx, client, "occurrent_test", Options{
		EventCollection: "events",
		Guarantee:       guarantee,
	})
	if err != nil {
		t.Fatalf("NewEventStore: %v", err)
	}
	return store
}

// S1 — append and read.
func TestWriteThenRead(t *testing.T) {
	store := newStoreForTest(t, eventstore.Transactional("streamVersion"))
	ctx := context.Background()
	streamID := "name"

	event := newTestEvent("u1")
	if err := store.Write(ctx, streamID, eventstore.AnyStreamVersion(), event); err != nil {
		t.Fatalf("Write: %v", err)
	}

	stream, err := store.Read(ctx, streamID, 0, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if stream.Version != 1 {
		t.Fatalf("version: got %d want 1", stream.Version)
	}
	events, err := stream.Slice(ctx)
	if err != nil {
		t.Fatalf("Slice: %v", err)
	}
	if len(events) != 1 || events[0].ID() != "u1" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

// S2 — conditional rejection.
func TestWriteConditionNotFulfilled(t *testing.T) {
	store := newStoreForTest(t, eventstore.Transactional("streamVersion"))
	ctx := context.Background()
	streamID := "name"

	if err := store.Write(ctx, streamID, eventstore.AnyStreamVersion(), newTestEvent("u1")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	err := store.Write(ctx, streamID, eventstore.StreamVersionEq(10), newTestEvent("u2"))
	var notFulfilled *eventstore.WriteConditionNotFulfilledError
	if err == nil {
		t.Fatal("expected WriteConditionNotFulfilledError, got nil")
	}
	if !asWriteConditionNotFulfilled(err, &notFulfilled) {
		t.Fatalf("expected WriteConditionNotFulfilledError, got %v", err)
	}
	want := "WriteCondition was not fulfilled. Expected version to be equal to 10 but was 1."
	if notFulfilled.Error() != want {
		t.Errorf("message: got %q want %q", notFulfilled.Error(), want)
	}

	stream, err := store.Read(ctx, streamID, 0, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if stream.Version != 1 {
		t.Errorf("version should be unchanged: got %d want 1", stream.Version)
	}
}

func asWriteConditionNotFulfilled(err error, target **eventstore.WriteConditionNotFulfilledError) bool {
	if e, ok := err.(*eventstore.WriteConditionNotFulfilledError); ok {
		*target = e
		return true
	}
	return false
}

// S3 — and/or/not rendering.
func TestWriteConditionAndRendering(t *testing.T) {
	store := newStoreForTest(t, eventstore.Transactional("streamVersion"))
	ctx := context.Background()
	streamID := "name"

	if err := store.Write(ctx, streamID, eventstore.AnyStreamVersion(), newTestEvent("u1")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	cond := eventstore.StreamVersion(condition.And(condition.Gte[int64](0), condition.Lt[int64](100), condition.Ne[int64](1)))
	err := store.Write(ctx, streamID, cond, newTestEvent("u2"))
	want := "WriteCondition was not fulfilled. Expected version to be greater than or equal to 0 and to be less than 100 and to not be equal to 1 but was 1."
	if err == nil || err.Error() != want {
		t.Fatalf("got %v, want %q", err, want)
	}
}

// S4 — duplicate inside batch (transactional).
func TestDuplicateInBatchTransactional(t *testing.T) {
	store := newStoreForTest(t, eventstore.Transactional("streamVersion"))
	ctx := context.Background()
	streamID := "name"

	b := newTestEvent("b")
	err := store.Write(ctx, streamID, eventstore.StreamVersionEq(0), newTestEvent("a"), b, b, newTestEvent("c"))
	if err == nil {
		t.Fatal("expected DuplicateCloudEventError")
	}

	stream, err := store.Read(ctx, streamID, 0, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if stream.Version != 0 {
		t.Errorf("version: got %d want 0", stream.Version)
	}
	events, err := stream.Slice(ctx)
	if err != nil {
		t.Fatalf("Slice: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events: got %d want 0", len(events))
	}
}

// S5 — duplicate inside batch (none).
func TestDuplicateInBatchNone(t *testing.T) {
	store := newStoreForTest(t, eventstore.None())
	ctx := context.Background()
	streamID := "name-none"

	b := newTestEvent("b2")
	err := store.Write(ctx, streamID, eventstore.AnyStreamVersion(), newTestEvent("a2"), b, b, newTestEvent("c2"))
	if err == nil {
		t.Fatal("expected DuplicateCloudEventError")
	}

	stream, err := store.Read(ctx, streamID, 0, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	events, err := stream.Slice(ctx)
	if err != nil {
		t.Fatalf("Slice: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events: got %d want 2 (a2, b2)", len(events))
	}
	if events[0].ID() != "a2" || events[1].ID() != "b2" {
		t.Errorf("unexpected events: %+v", events)
	}
}

// S6 — skip/limit.
func TestReadSkipLimit(t *testing.T) {
	store := newStoreForTest(t, eventstore.Transactional("streamVersion"))
	ctx := context.Background()
	streamID := "name-skip"

	if err := store.Write(ctx, streamID, eventstore.AnyStreamVersion(), newTestEvent("e1"), newTestEvent("e2"), newTestEvent("e3")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	stream, err := store.Read(ctx, streamID, 1, 1)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if stream.Version != 3 {
		t.Errorf("version: got %d want 3", stream.Version)
	}
	events, err := stream.Slice(ctx)
	if err != nil {
		t.Fatalf("Slice: %v", err)
	}
	if len(events) != 1 || events[0].ID() != "e2" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestWriteConditionNotSupportedUnderNone(t *testing.T) {
	store := newStoreForTest(t, eventstore.None())
	ctx := context.Background()

	err := store.Write(ctx, "s", eventstore.StreamVersionEq(0), newTestEvent("x"))
	if err != eventstore.ErrWriteConditionNotSupported {
		t.Fatalf("got %v, want ErrWriteConditionNotSupported", err)
	}
}

func TestDeleteAllEventsPreservesVersionUnderTransactional(t *testing.T) {
	store := newStoreForTest(t, eventstore.Transactional("streamVersion"))
	ctx := context.Background()
	streamID := "name-delete"

	if err := store.Write(ctx, streamID, eventstore.AnyStreamVersion(), newTestEvent("d1"), newTestEvent("d2")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := store.DeleteAllEventsInEventStream(ctx, streamID); err != nil {
		t.Fatalf("DeleteAllEventsInEventStream: %v", err)
	}

	stream, err := store.Read(ctx, streamID, 0, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if stream.Version != 2 {
		t.Errorf("version should be preserved: got %d want 2", stream.Version)
	}
	events, err := stream.Slice(ctx)
	if err != nil {
		t.Fatalf("Slice: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events should be gone: got %d", len(events))
	}

	// continuing from the preserved version
	if err := store.Write(ctx, streamID, eventstore.StreamVersionEq(2), newTestEvent("d3")); err != nil {
		t.Fatalf("Write after delete: %v", err)
	}
}
