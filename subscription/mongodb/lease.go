package mongodb

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// leaseManager implements the competing-consumers coordination
// described as C8: at most one replica holds subscriptionID's lease
// at a time, a held lease is renewed on a heartbeat well inside its
// TTL, and an expired lease may be taken over by any replica that
// observes it, following the same conditional-update idiom the event
// store uses to enforce its write condition.
type leaseManager struct {
	leases       *mongo.Collection
	replicaID    string
	ttl          time.Duration
	pollInterval time.Duration
}

func newLeaseManager(leases *mongo.Collection, opts Options) *leaseManager {
	return &leaseManager{
		leases:       leases,
		replicaID:    opts.ReplicaID,
		ttl:          opts.LeaseTTL,
		pollInterval: opts.LeasePollInterval,
	}
}

// acquireOrRenew is the single primitive both initial acquisition and
// heartbeat renewal use: both are "take the lease if I already hold
// it or it is expired, extending expiresAt by ttl".
func (m *leaseManager) acquireOrRenew(ctx context.Context, subscriptionID string) (bool, error) {
	now := time.Now()
	filter := bson.M{
		"_id": subscriptionID,
		"$or": bson.A{
			bson.M{"holder": m.replicaID},
			bson.M{"expiresAt": bson.M{"$lt": now}},
		},
	}
	update := bson.M{
		"$set": bson.M{
			"holder":    m.replicaID,
			"expiresAt": now.Add(m.ttl),
		},
	}

	result, err := m.leases.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// Lost the upsert race to another replica acquiring the
			// same not-yet-existing lease concurrently.
			return false, nil
		}
		return false, errors.Wrap(err, "mongodb: acquiring or renewing lease")
	}
	return result.MatchedCount > 0 || result.UpsertedCount > 0, nil
}

// release gives up the lease if this replica still holds it, letting
// another replica acquire it immediately instead of waiting out the
// TTL. It is a no-op, not an error, if the lease was already taken
// over by someone else.
func (m *leaseManager) release(ctx context.Context, subscriptionID string) error {
	_, err := m.leases.DeleteOne(ctx, bson.M{"_id": subscriptionID, "holder": m.replicaID})
	if err != nil {
		return errors.Wrap(err, "mongodb: releasing lease")
	}
	return nil
}

// forget deletes the lease document outright, called by
// CancelSubscription so no stale holder/expiresAt survives for a
// subscriptionID that might be reused later.
func (m *leaseManager) forget(ctx context.Context, subscriptionID string) error {
	_, err := m.leases.DeleteOne(ctx, bson.M{"_id": subscriptionID})
	if err != nil {
		return errors.Wrap(err, "mongodb: forgetting lease")
	}
	return nil
}
