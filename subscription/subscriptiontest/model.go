// Package subscriptiontest provides an in-memory subscription.Model
// fake for tests that exercise resume-without-redelivery and
// at-most-one-concurrent-handler semantics without a live MongoDB
// change stream. It is adapted from eventstore/eventstoretest's
// in-memory store in the same spirit: exercise the real interface
// contract, not a live backend.
package subscriptiontest

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/johanhaleby/occurrent-go/subscription"
)

// Model is an in-memory subscription.Model. Published events are
// appended to a shared, ever-growing log; each subscription's own
// goroutine tracks a cursor into that log and invokes its handler one
// event at a time, never overlapping invocations for the same
// subscriptionID, and advances its cursor only after the handler
// returns successfully so a cancel-and-resume never skips an event.
type Model struct {
	mu       sync.Mutex
	cond     *sync.Cond
	log      []subscription.CloudEvent
	shutDown bool

	subs map[string]*subscriptionState
}

type subscriptionState struct {
	filter   subscription.Filter
	handler  subscription.Handler
	handle   *handle
	cursor   int64
	paused   bool
	cancel   context.CancelFunc
	done     chan struct{}
}

var _ subscription.Model = (*Model)(nil)

// New returns an empty Model. It starts running immediately; Start is
// a no-op, matching a fake that has no external connection to bring up.
func New() *Model {
	m := &Model{subs: make(map[string]*subscriptionState)}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Publish appends event to the shared log and wakes every
// subscription's dispatcher so it can consider delivering it.
func (m *Model) Publish(event subscription.CloudEvent) {
	m.mu.Lock()
	m.log = append(m.log, event)
	m.mu.Unlock()
	m.cond.Broadcast()
}

func (m *Model) Start(ctx context.Context) error { return nil }

func (m *Model) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.cancel != nil {
			s.cancel()
		}
	}
	return nil
}

func (m *Model) Subscribe(ctx context.Context, subscriptionID string, filter subscription.Filter, startAt subscription.StartAt, handler subscription.Handler) (subscription.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutDown {
		return nil, subscription.ErrModelShutDown
	}
	if _, exists := m.subs[subscriptionID]; exists {
		return nil, subscription.ErrSubscriptionAlreadyExists
	}

	// Default and Now both mean "start from here" for a subscriptionID
	// this fake has never seen before; only AtPosition overrides that.
	cursor := int64(len(m.log))
	if position, ok := subscription.PositionOf(startAt); ok {
		cursor = positionToCursor(position)
	}

	h := newHandle(subscriptionID)
	state := &subscriptionState{filter: filter, handler: handler, handle: h, cursor: cursor}
	m.subs[subscriptionID] = state
	m.startDispatcher(subscriptionID, state)
	return h, nil
}

func (m *Model) startDispatcher(subscriptionID string, state *subscriptionState) {
	dispatchCtx, cancel := context.WithCancel(context.Background())
	state.cancel = cancel
	state.done = make(chan struct{})

	go func() {
		defer close(state.done)
		m.dispatch(dispatchCtx, subscriptionID, state)
	}()
}

func (m *Model) dispatch(ctx context.Context, subscriptionID string, state *subscriptionState) {
	for {
		m.mu.Lock()
		for int64(len(m.log)) <= state.cursor && ctx.Err() == nil {
			m.cond.Wait()
		}
		if ctx.Err() != nil {
			m.mu.Unlock()
			return
		}
		event := m.log[state.cursor]
		cursor := state.cursor
		state.cursor++
		m.mu.Unlock()

		state.handle.markStarted()

		if state.filter != nil && !state.filter(event) {
			continue
		}

		positioned := subscription.PositionAwareCloudEvent{
			Event:    event,
			Position: cursorToPosition(cursor + 1),
		}
		if err := state.handler(ctx, positioned); err != nil {
			// This fake has no retry strategy of its own: a failing
			// handler simply stops the dispatcher, the same terminal
			// behavior a real Model has once its retry budget is
			// exhausted.
			m.mu.Lock()
			state.cursor = cursor
			m.mu.Unlock()
			return
		}
	}
}

func (m *Model) CancelSubscription(ctx context.Context, subscriptionID string) error {
	m.mu.Lock()
	state, exists := m.subs[subscriptionID]
	if !exists {
		m.mu.Unlock()
		return nil
	}
	delete(m.subs, subscriptionID)
	if state.cancel != nil {
		state.cancel()
	}
	m.mu.Unlock()
	m.cond.Broadcast()
	<-state.done
	return nil
}

func (m *Model) PauseSubscription(ctx context.Context, subscriptionID string) error {
	m.mu.Lock()
	state, exists := m.subs[subscriptionID]
	if !exists || state.paused {
		m.mu.Unlock()
		return subscription.ErrSubscriptionNotRunning
	}
	state.paused = true
	if state.cancel != nil {
		state.cancel()
	}
	m.mu.Unlock()
	m.cond.Broadcast()
	<-state.done
	return nil
}

func (m *Model) ResumeSubscription(ctx context.Context, subscriptionID string) error {
	m.mu.Lock()
	state, exists := m.subs[subscriptionID]
	if !exists || !state.paused {
		m.mu.Unlock()
		return subscription.ErrSubscriptionNotRunning
	}
	state.paused = false
	state.handle = newHandle(subscriptionID)
	m.startDispatcher(subscriptionID, state)
	m.mu.Unlock()
	return nil
}

func (m *Model) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shutDown = true
	for _, s := range m.subs {
		if s.cancel != nil {
			s.cancel()
		}
	}
	m.subs = make(map[string]*subscriptionState)
	m.mu.Unlock()
	m.cond.Broadcast()
	return nil
}

// handle is the Subscription returned from Subscribe.
type handle struct {
	id        string
	startedCh chan struct{}
	once      sync.Once
}

func newHandle(id string) *handle {
	return &handle{id: id, startedCh: make(chan struct{})}
}

func (h *handle) ID() string { return h.id }

func (h *handle) markStarted() { h.once.Do(func() { close(h.startedCh) }) }

func (h *handle) WaitUntilStarted(ctx context.Context, timeout time.Duration) bool {
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

// cursorToPosition/positionToCursor round-trip a log index through
// subscription.OperationTime, reusing the real Position variant built
// on primitive.Timestamp as an opaque sequence counter instead of
// introducing a fake-only Position implementation (Position's marker
// method is unexported, so only this package's constructors can
// produce one anyway).
func cursorToPosition(cursor int64) subscription.Position {
	return subscription.OperationTime(primitive.Timestamp{T: uint32(cursor)})
}

func positionToCursor(position subscription.Position) int64 {
	if p, ok := position.(subscription.OperationTimePosition); ok {
		return int64(p.Time.T)
	}
	return 0
}
