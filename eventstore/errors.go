package eventstore

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/johanhaleby/occurrent-go/condition"
)

// Sentinel errors with no payload of their own. Use errors.Is to test for them.
var (
	// ErrWriteConditionNotSupported is returned when a WriteCondition
	// other than AnyStreamVersion is supplied while the store's
	// consistency guarantee is None.
	ErrWriteConditionNotSupported = errors.New("write condition is not supported when the stream consistency guarantee is none")
)

// WriteConditionNotFulfilledError is returned when the write condition
// supplied to Write did not hold against the stream's current version.
type WriteConditionNotFulfilledError struct {
	StreamID string
	Expected condition.Condition[int64]
	Actual   int64
}

func (e *WriteConditionNotFulfilledError) Error() string {
	return fmt.Sprintf("WriteCondition was not fulfilled. Expected version %s but was %d.", e.Expected.Render(), e.Actual)
}

// DuplicateCloudEventError is returned when a batch contains an event
// whose (id, source) pair already exists, either elsewhere in the
// store or earlier in the same batch. It always wraps the underlying
// error that reported the duplicate (in eventstore/mongodb, the
// driver's bulk-write error).
type DuplicateCloudEventError struct {
	StreamID string
	Cause    error
}

func (e *DuplicateCloudEventError) Error() string {
	return fmt.Sprintf("duplicate cloud event detected while writing to stream %q: %s", e.StreamID, e.Cause)
}

func (e *DuplicateCloudEventError) Unwrap() error { return e.Cause }

// NewDuplicateCloudEventError wraps cause with stream context, adding a
// stack trace via pkg/errors so the originating call site is visible
// in logs even though the bulk-write error itself carries none.
func NewDuplicateCloudEventError(streamID string, cause error) *DuplicateCloudEventError {
	return &DuplicateCloudEventError{StreamID: streamID, Cause: errors.WithStack(cause)}
}

// TransientStorageError wraps a storage error that the retry strategy
// considers worth retrying (network blips, not-primary, write
// conflicts under transactions).
type TransientStorageError struct {
	Cause error
}

func (e *TransientStorageError) Error() string { return "transient storage error: " + e.Cause.Error() }
func (e *TransientStorageError) Unwrap() error  { return e.Cause }

// NewTransientStorageError wraps cause, attaching a stack trace.
func NewTransientStorageError(cause error) *TransientStorageError {
	return &TransientStorageError{Cause: errors.WithStack(cause)}
}

// IsTransientStorageError reports whether err is, or wraps, a
// TransientStorageError. It is the default retry.Predicate used by
// subscription/mongodb so that a configured backoff retries storage
// errors the storage layer has classified as transient and gives up
// immediately on anything else.
func IsTransientStorageError(err error) bool {
	var transient *TransientStorageError
	return errors.As(err, &transient)
}
