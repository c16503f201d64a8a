package subscription

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/johanhaleby/occurrent-go/eventstore"
)

// CloudEvent re-exports eventstore.CloudEvent so callers of this
// package don't need to import eventstore just to name the type.
type CloudEvent = eventstore.CloudEvent

// Position is an opaque token describing where in the change stream a
// subscription is. It is a sealed variant: ResumeToken or
// OperationTime, each built through its constructor.
type Position interface {
	isPosition()
}

// ResumeTokenPosition wraps the change stream's own resume token.
type ResumeTokenPosition struct {
	Token bson.Raw
}

func (ResumeTokenPosition) isPosition() {}

// ResumeToken builds a Position from a change stream resume token.
func ResumeToken(token bson.Raw) Position { return ResumeTokenPosition{Token: token} }

// OperationTimePosition wraps a server logical timestamp, used to
// start "now" before any event has been observed.
type OperationTimePosition struct {
	Time primitive.Timestamp
}

func (OperationTimePosition) isPosition() {}

// OperationTime builds a Position from a server logical timestamp.
func OperationTime(t primitive.Timestamp) Position { return OperationTimePosition{Time: t} }

// PositionAwareCloudEvent is one item delivered off the change feed:
// the CloudEvent itself, plus the position to resume from after it.
type PositionAwareCloudEvent struct {
	Event    CloudEvent
	Position Position
}
