package subscription

import "github.com/pkg/errors"

// Sentinel errors, tested with errors.Is.
var (
	// ErrSubscriptionNotRunning is returned by PauseSubscription for
	// an unknown or already-paused subscription id.
	ErrSubscriptionNotRunning = errors.New("subscription is not running")
	// ErrSubscriptionAlreadyExists is returned by Subscribe when
	// subscriptionID is already registered.
	ErrSubscriptionAlreadyExists = errors.New("subscription already exists")
	// ErrModelShutDown is returned by Subscribe, and in
	// subscription/mongodb also by Start and Stop, once Shutdown has
	// been called.
	ErrModelShutDown = errors.New("subscription model has been shut down")
)

// CatchupImpossibleError is raised when the change stream loses
// history (its resume token falls out of the oplog/pre-image
// retention window) and restartOnChangeStreamHistoryLost is false.
// When that option is true the subscription restarts from Now
// instead of returning this error.
type CatchupImpossibleError struct {
	SubscriptionID string
	Cause          error
}

func (e *CatchupImpossibleError) Error() string {
	return "change stream history lost for subscription " + e.SubscriptionID + ": " + e.Cause.Error()
}

func (e *CatchupImpossibleError) Unwrap() error { return e.Cause }
