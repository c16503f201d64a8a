package eventstore

import (
	"errors"
	"testing"
)

func TestIsTransientStorageError(t *testing.T) {
	cause := errors.New("connection reset")
	if IsTransientStorageError(cause) {
		t.Fatal("a plain error should not be reported as transient")
	}
	if !IsTransientStorageError(NewTransientStorageError(cause)) {
		t.Fatal("a TransientStorageError should be reported as transient")
	}
	if IsTransientStorageError(NewDuplicateCloudEventError("s1", cause)) {
		t.Fatal("a DuplicateCloudEventError wrapping a non-transient cause should not be reported as transient")
	}
}
