package mongodb

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/johanhaleby/occurrent-go/eventstore"
	eventstoremongo "github.com/johanhaleby/occurrent-go/eventstore/mongodb"
	"github.com/johanhaleby/occurrent-go/subscription"
	"github.com/johanhaleby/occurrent-go/subscription/retry"
)

// changeStreamHistoryLostCode is the MongoDB server error code raised
// when a change stream's resume token falls outside the oplog's
// retention window.
const changeStreamHistoryLostCode = 286

// subscriptionHandle is the Subscription returned from Subscribe. It
// is closed over by the consumer loop, which marks it started once the
// underlying change stream is open and position resolved.
type subscriptionHandle struct {
	id        string
	startedCh chan struct{}
	once      sync.Once
}

func newSubscriptionHandle(id string) *subscriptionHandle {
	return &subscriptionHandle{id: id, startedCh: make(chan struct{})}
}

func (h *subscriptionHandle) ID() string { return h.id }

func (h *subscriptionHandle) markStarted() {
	h.once.Do(func() { close(h.startedCh) })
}

func (h *subscriptionHandle) WaitUntilStarted(ctx context.Context, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-h.startedCh:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// durableSubscription runs the consumer loop for a single
// subscriptionID: it resolves a starting position (falling back to a
// stored one under Default), opens the change feed, invokes handler
// for each admitted event wrapped in a retry strategy, and persists
// position only after the handler returns successfully, so a
// crash-and-resume never silently skips an event.
type durableSubscription struct {
	subscriptionID     string
	feed               *changeFeed
	positions          *mongo.Collection
	timeRepresentation eventstore.TimeRepresentation
	retryStrategy      retry.Strategy
	restartOnHistoryLost bool
	logger             zerolog.Logger
}

func newDurableSubscription(subscriptionID string, feed *changeFeed, positions *mongo.Collection, opts Options) *durableSubscription {
	return &durableSubscription{
		subscriptionID:       subscriptionID,
		feed:                 feed,
		positions:            positions,
		timeRepresentation:   opts.TimeRepresentation,
		retryStrategy:        opts.RetryStrategy,
		restartOnHistoryLost: opts.RestartOnChangeStreamHistoryLost,
		logger:               zerolog.Nop(),
	}
}

// run blocks until ctx is cancelled, shouldStop reports true between
// events, or an unrecoverable error occurs (handler exhausted its
// retries, or the change stream's history was lost and restart on loss
// is disabled). It is safe to call run again with a fresh ctx after it
// returns; with startAt Default that resumes from the last persisted
// position.
func (d *durableSubscription) run(ctx context.Context, filter subscription.Filter, startAt subscription.StartAt, handler subscription.Handler, handle *subscriptionHandle, shouldStop func() bool) error {
	for {
		position, err := d.feed.resolve(ctx, startAt, d.loadOrNow)
		if err != nil {
			return errors.Wrap(err, "mongodb: resolving start position")
		}

		stream, err := d.feed.open(ctx, position, filter)
		if err != nil {
			return errors.Wrap(err, "mongodb: opening change feed")
		}
		handle.markStarted()

		restart, err := d.drain(ctx, stream, handler, shouldStop)
		// Close with a detached context: ctx may already be cancelled
		// (a pause or shutdown is exactly what stopped drain), and
		// that must not prevent the change stream from being closed.
		closeErr := stream.close(context.Background())
		if err != nil {
			if closeErr != nil {
				d.logger.Warn().Err(closeErr).Msg("closing change stream after error")
			}
			if !restart {
				return err
			}
			d.logger.Warn().Err(err).Msg("change stream history lost, restarting from now")
			startAt = subscription.Now()
			continue
		}
		if closeErr != nil {
			return errors.Wrap(closeErr, "mongodb: closing change stream")
		}
		return nil
	}
}

// drain consumes stream until it ends, shouldStop reports true, or ctx
// is done. The bool return reports whether the caller should reopen
// the stream from Now because its history was lost.
func (d *durableSubscription) drain(ctx context.Context, stream *changeFeedStream, handler subscription.Handler, shouldStop func() bool) (bool, error) {
	for {
		if shouldStop != nil && shouldStop() {
			return false, nil
		}

		if !stream.next(ctx, d.decode) {
			err := stream.lastErr()
			if err == nil {
				return false, nil
			}
			if isChangeStreamHistoryLost(err) {
				if d.restartOnHistoryLost {
					return true, err
				}
				return false, &subscription.CatchupImpossibleError{SubscriptionID: d.subscriptionID, Cause: err}
			}
			return false, errors.Wrap(err, "mongodb: reading change stream")
		}

		event := stream.event()
		if err := d.retryStrategy.Do(ctx, shouldStop, func(ctx context.Context) error {
			if err := handler(ctx, event); err != nil {
				return err
			}
			return d.storePosition(ctx, event.Position)
		}); err != nil {
			return false, errors.Wrap(err, "mongodb: handler or position persistence failed, giving up after retries")
		}
	}
}

func (d *durableSubscription) decode(raw bson.Raw) (subscription.CloudEvent, error) {
	return eventstoremongo.DecodeCloudEvent(raw, d.timeRepresentation)
}

func (d *durableSubscription) loadOrNow(ctx context.Context) (subscription.Position, error) {
	position, found, err := d.loadPosition(ctx)
	if err != nil {
		return nil, err
	}
	if found {
		return position, nil
	}
	return d.feed.now(ctx)
}

func (d *durableSubscription) loadPosition(ctx context.Context) (subscription.Position, bool, error) {
	var doc positionDocument
	err := d.positions.FindOne(ctx, bson.M{"_id": d.subscriptionID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(eventstoremongo.ClassifyTransientError(err), "mongodb: loading subscription position")
	}
	if doc.ResumeToken != nil {
		return subscription.ResumeToken(doc.ResumeToken), true, nil
	}
	if doc.OperationTime != nil {
		return subscription.OperationTime(*doc.OperationTime), true, nil
	}
	return nil, false, nil
}

func (d *durableSubscription) storePosition(ctx context.Context, position subscription.Position) error {
	doc := positionDocument{ID: d.subscriptionID}
	switch p := position.(type) {
	case subscription.ResumeTokenPosition:
		doc.ResumeToken = p.Token
	case subscription.OperationTimePosition:
		doc.OperationTime = &p.Time
	}

	_, err := d.positions.ReplaceOne(ctx, bson.M{"_id": d.subscriptionID}, doc, options.Replace().SetUpsert(true))
	return eventstoremongo.ClassifyTransientError(err)
}

// deletePosition removes the stored position, called by
// CancelSubscription so a later Subscribe under the same id starts
// clean.
func (d *durableSubscription) deletePosition(ctx context.Context) error {
	_, err := d.positions.DeleteOne(ctx, bson.M{"_id": d.subscriptionID})
	return err
}

func isChangeStreamHistoryLost(err error) bool {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code == changeStreamHistoryLostCode
	}
	var serverErr mongo.ServerError
	if errors.As(err, &serverErr) {
		return serverErr.HasErrorCode(changeStreamHistoryLostCode)
	}
	return false
}
