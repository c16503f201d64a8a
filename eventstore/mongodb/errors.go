package mongodb

import (
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/johanhaleby/occurrent-go/eventstore"
)

// ClassifyTransientError wraps err in an eventstore.TransientStorageError
// when the driver reports it as a condition worth retrying — a
// transient transaction error or retryable write error label on a
// CommandError, or a network-level failure — and returns err unchanged
// otherwise. It is exported so subscription/mongodb can classify
// storage errors observed outside this package the same way the event
// store itself does.
func ClassifyTransientError(err error) error {
	if err == nil {
		return nil
	}

	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		if cmdErr.HasErrorLabel("TransientTransactionError") || cmdErr.HasErrorLabel("RetryableWriteError") {
			return eventstore.NewTransientStorageError(err)
		}
	}
	if mongo.IsNetworkError(err) {
		return eventstore.NewTransientStorageError(err)
	}
	return err
}
