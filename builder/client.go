// Package builder wires a *mongo.Client, an EventStore and a
// SubscriptionModel into one Client, mirroring the teacher's
// builder.Client / config.Client split between a plain composition
// helper (this package) and config-driven construction (config).
package builder

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/johanhaleby/occurrent-go/eventstore"
	"github.com/johanhaleby/occurrent-go/subscription"
)

// Client has all the info/services for the event-sourcing platform.
type Client struct {
	Mongo             *mongo.Client
	EventStore        eventstore.EventStore
	SubscriptionModel subscription.Model
}

// NewClient composes an already-connected Mongo client, event store
// and subscription model into one handle. SubscriptionModel may be
// nil for a process that only ever writes/reads streams and never
// subscribes.
func NewClient(mongoClient *mongo.Client, eventStore eventstore.EventStore, subscriptionModel subscription.Model) *Client {
	return &Client{
		Mongo:             mongoClient,
		EventStore:        eventStore,
		SubscriptionModel: subscriptionModel,
	}
}

// Close shuts the subscription model down before disconnecting the
// Mongo client, so in-flight handler invocations get a chance to
// finish persisting their position on a connection that is still
// alive.
func (c *Client) Close(ctx context.Context) error {
	if c.SubscriptionModel != nil {
		if err := c.SubscriptionModel.Shutdown(ctx); err != nil {
			return errors.Wrap(err, "builder: shutting down subscription model")
		}
	}
	if c.Mongo != nil {
		if err := c.Mongo.Disconnect(ctx); err != nil {
			return errors.Wrap(err, "builder: disconnecting mongo client")
		}
	}
	return nil
}

// NewMongoClient connects to uri with zstd/snappy wire compression
// negotiated for the change-stream and bulk-write traffic this module
// produces, the highest-volume traffic of the two.
func NewMongoClient(ctx context.Context, uri string) (*mongo.Client, error) {
	clientOptions := options.Client().
		ApplyURI(uri).
		SetCompressors([]string{"zstd", "snappy"})

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, errors.Wrap(err, "builder: connecting to mongodb")
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, errors.Wrap(err, "builder: pinging mongodb")
	}
	return client, nil
}
