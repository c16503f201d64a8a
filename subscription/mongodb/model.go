package mongodb

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/johanhaleby/occurrent-go/subscription"
)

// errLeaseLost is returned by heartbeat when another replica has
// taken over the lease, so the errgroup running it alongside the
// durable consumer cancels the consumer's context too.
var errLeaseLost = errors.New("mongodb: lease lost to another replica")

// Model is the MongoDB-backed subscription.Model: it observes the
// event store's change stream through a changeFeed, persists each
// subscription's position durably, and coordinates which replica of
// a multi-instance deployment is allowed to deliver a given
// subscriptionID at a time through a lease.
type Model struct {
	positions *mongo.Collection
	leases    *leaseManager
	feed      *changeFeed
	opts      Options

	sem *semaphore.Weighted

	mu            sync.Mutex
	running       bool
	shutDown      bool
	subscriptions map[string]*registration
}

// registration tracks everything Model needs to run, pause, resume
// and cancel one subscriptionID's supervisor goroutine.
type registration struct {
	filter  subscription.Filter
	startAt subscription.StartAt
	handler subscription.Handler
	handle  *subscriptionHandle

	cancel context.CancelFunc
	done   chan struct{}
	paused bool
}

var _ subscription.Model = (*Model)(nil)

// NewModel creates the lease collection's TTL index (so an abandoned
// lease is eventually reaped even if no replica ever takes it over)
// and returns a Model ready for Start.
func NewModel(ctx context.Context, client *mongo.Client, database string, opts Options) (*Model, error) {
	if opts.EventCollection == "" {
		return nil, errors.New("mongodb: EventCollection is required")
	}
	opts = opts.withDefaults()

	db := client.Database(database)
	leaseCollection := db.Collection(opts.LeaseCollection)
	ttlIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "expiresAt", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0).SetName("occurrent_lease_ttl"),
	}
	if _, err := leaseCollection.Indexes().CreateOne(ctx, ttlIndex); err != nil {
		return nil, errors.Wrap(err, "mongodb: creating lease TTL index")
	}

	return &Model{
		positions:     db.Collection(opts.PositionCollection),
		leases:        newLeaseManager(leaseCollection, opts),
		feed:          newChangeFeed(db.Collection(opts.EventCollection), db),
		opts:          opts,
		sem:           semaphore.NewWeighted(maxInt64(opts.MaxConcurrentSubscriptions, 1)),
		subscriptions: make(map[string]*registration),
	}, nil
}

func maxInt64(n, floor int64) int64 {
	if n <= 0 {
		return floor
	}
	return n
}

// Start implements subscription.Model.
func (m *Model) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutDown {
		return subscription.ErrModelShutDown
	}
	if m.running {
		return nil
	}
	m.running = true
	for id, reg := range m.subscriptions {
		if !reg.paused {
			m.startSupervisor(id, reg)
		}
	}
	return nil
}

// Stop implements subscription.Model.
func (m *Model) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.shutDown {
		m.mu.Unlock()
		return subscription.ErrModelShutDown
	}
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	dones := m.cancelAllLocked()
	m.mu.Unlock()

	for _, done := range dones {
		<-done
	}
	return nil
}

// cancelAllLocked cancels every non-paused running supervisor and
// returns their done channels to wait on, without touching
// m.subscriptions so registrations survive for a later Start.
func (m *Model) cancelAllLocked() []chan struct{} {
	dones := make([]chan struct{}, 0, len(m.subscriptions))
	for _, reg := range m.subscriptions {
		if reg.cancel != nil {
			reg.cancel()
			dones = append(dones, reg.done)
		}
	}
	return dones
}

// Subscribe implements subscription.Model.
func (m *Model) Subscribe(ctx context.Context, subscriptionID string, filter subscription.Filter, startAt subscription.StartAt, handler subscription.Handler) (subscription.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutDown {
		return nil, subscription.ErrModelShutDown
	}
	if _, exists := m.subscriptions[subscriptionID]; exists {
		return nil, subscription.ErrSubscriptionAlreadyExists
	}

	reg := &registration{
		filter:  filter,
		startAt: startAt,
		handler: handler,
		handle:  newSubscriptionHandle(subscriptionID),
	}
	m.subscriptions[subscriptionID] = reg
	if m.running {
		m.startSupervisor(subscriptionID, reg)
	}
	return reg.handle, nil
}

// startSupervisor spawns the goroutine that alternates between trying
// to acquire subscriptionID's lease and, once held, running the
// durable consumer loop until the lease is lost, the subscription is
// paused/cancelled, or the Model stops.
func (m *Model) startSupervisor(subscriptionID string, reg *registration) {
	ctx, cancel := context.WithCancel(context.Background())
	reg.cancel = cancel
	reg.done = make(chan struct{})

	go func() {
		defer close(reg.done)
		m.supervise(ctx, subscriptionID, reg)
	}()
}

func (m *Model) supervise(ctx context.Context, subscriptionID string, reg *registration) {
	logger := log.With().Str("subscriptionId", subscriptionID).Str("replicaId", m.opts.ReplicaID).Logger()

	if err := m.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer m.sem.Release(1)

	poll := m.opts.LeasePollInterval
	for {
		acquired, err := m.leases.acquireOrRenew(ctx, subscriptionID)
		if err != nil {
			logger.Error().Err(err).Msg("acquiring lease")
		}
		if acquired {
			m.runWhileLeased(ctx, subscriptionID, reg, logger)
			if ctx.Err() != nil {
				return
			}
			continue
		}

		timer := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// runWhileLeased fans the durable subscription's consumer loop and
// the lease heartbeat into one errgroup: whichever returns first
// (the heartbeat observing the lease taken over, or the consumer
// exhausting its retries) cancels the other's context, so the pair
// always winds down together instead of leaking one goroutine.
func (m *Model) runWhileLeased(ctx context.Context, subscriptionID string, reg *registration, logger zerolog.Logger) {
	group, groupCtx := errgroup.WithContext(ctx)

	durable := newDurableSubscription(subscriptionID, m.feed, m.positions, m.opts)
	durable.logger = logger

	shouldStop := func() bool { return groupCtx.Err() != nil }

	group.Go(func() error {
		return durable.run(groupCtx, reg.filter, reg.startAt, reg.handler, reg.handle, shouldStop)
	})
	group.Go(func() error {
		return m.heartbeat(groupCtx, subscriptionID, logger)
	})

	if err := group.Wait(); err != nil && ctx.Err() == nil && !errors.Is(err, errLeaseLost) {
		logger.Error().Err(err).Msg("subscription consumer stopped")
	}

	if ctx.Err() == nil {
		if err := m.leases.release(ctx, subscriptionID); err != nil {
			logger.Warn().Err(err).Msg("releasing lease")
		}
	}
}

func (m *Model) heartbeat(ctx context.Context, subscriptionID string, logger zerolog.Logger) error {
	interval := m.opts.heartbeatInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			renewed, err := m.leases.acquireOrRenew(ctx, subscriptionID)
			if err != nil {
				logger.Warn().Err(err).Msg("renewing lease")
				continue
			}
			if !renewed {
				return errLeaseLost
			}
		}
	}
}

// CancelSubscription implements subscription.Model.
func (m *Model) CancelSubscription(ctx context.Context, subscriptionID string) error {
	m.mu.Lock()
	reg, exists := m.subscriptions[subscriptionID]
	if !exists {
		m.mu.Unlock()
		return nil
	}
	delete(m.subscriptions, subscriptionID)
	if reg.cancel != nil {
		reg.cancel()
	}
	done := reg.done
	m.mu.Unlock()

	if done != nil {
		<-done
	}

	durable := &durableSubscription{subscriptionID: subscriptionID, positions: m.positions}
	if err := durable.deletePosition(ctx); err != nil {
		return errors.Wrap(err, "mongodb: deleting subscription position")
	}
	return m.leases.forget(ctx, subscriptionID)
}

// PauseSubscription implements subscription.Model.
func (m *Model) PauseSubscription(ctx context.Context, subscriptionID string) error {
	m.mu.Lock()
	reg, exists := m.subscriptions[subscriptionID]
	if !exists || reg.paused {
		m.mu.Unlock()
		return subscription.ErrSubscriptionNotRunning
	}
	reg.paused = true
	if reg.cancel != nil {
		reg.cancel()
	}
	done := reg.done
	m.mu.Unlock()

	if done != nil {
		<-done
	}
	return nil
}

// ResumeSubscription implements subscription.Model.
func (m *Model) ResumeSubscription(ctx context.Context, subscriptionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, exists := m.subscriptions[subscriptionID]
	if !exists || !reg.paused {
		return subscription.ErrSubscriptionNotRunning
	}
	reg.paused = false
	reg.handle = newSubscriptionHandle(subscriptionID)
	// Re-resolve position on resume rather than reusing whatever
	// startAt the subscription was originally registered with, so a
	// paused-and-resumed subscription always continues from its last
	// persisted position.
	reg.startAt = subscription.Default()
	if m.running {
		m.startSupervisor(subscriptionID, reg)
	}
	return nil
}

// Shutdown implements subscription.Model.
func (m *Model) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.shutDown {
		m.mu.Unlock()
		return nil
	}
	m.shutDown = true
	m.running = false
	dones := m.cancelAllLocked()
	m.subscriptions = make(map[string]*registration)
	m.mu.Unlock()

	for _, done := range dones {
		<-done
	}
	return nil
}
