package eventstore

import "github.com/johanhaleby/occurrent-go/condition"

// WriteCondition gates a Write call against the stream's current
// version. It is either AnyStreamVersion, accepted under both
// consistency guarantees and the only condition accepted under None,
// or a condition.Condition[int64] evaluated against the current
// version, accepted only under the Transactional guarantee.
type WriteCondition struct {
	anyVersion bool
	condition  condition.Condition[int64]
}

// AnyStreamVersion returns a write condition that accepts any current
// version. It is the only write condition supported when the store's
// consistency guarantee is None.
func AnyStreamVersion() WriteCondition {
	return WriteCondition{anyVersion: true}
}

// StreamVersion builds a write condition from an arbitrary condition
// over the current stream version.
func StreamVersion(c condition.Condition[int64]) WriteCondition {
	return WriteCondition{condition: c}
}

// StreamVersionEq is sugar for StreamVersion(condition.Eq(v)).
func StreamVersionEq(v int64) WriteCondition {
	return StreamVersion(condition.Eq(v))
}

// IsAnyStreamVersion reports whether this is the AnyStreamVersion condition.
func (w WriteCondition) IsAnyStreamVersion() bool {
	return w.anyVersion
}

// Condition returns the underlying version condition and true, or the
// zero condition and false if this is AnyStreamVersion.
func (w WriteCondition) Condition() (condition.Condition[int64], bool) {
	if w.anyVersion {
		return condition.Condition[int64]{}, false
	}
	return w.condition, true
}

// IsFulfilled evaluates the condition against the current version.
// AnyStreamVersion is always fulfilled.
func (w WriteCondition) IsFulfilled(currentVersion int64) bool {
	if w.anyVersion {
		return true
	}
	return w.condition.Evaluate(currentVersion)
}
