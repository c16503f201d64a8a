package mongodb

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// positionDocument is the on-disk shape of the subscription position
// collection: {_id, resumeToken} holding the embedded resume token
// document, or {_id, operationTime} holding a BSON timestamp, never
// both. There is no single "position" field.
type positionDocument struct {
	ID            string               `bson:"_id"`
	ResumeToken   bson.Raw             `bson:"resumeToken,omitempty"`
	OperationTime *primitive.Timestamp `bson:"operationTime,omitempty"`
}

// leaseDocument is the on-disk shape of the lease collection:
// {_id, holder, expiresAt}. expiresAt carries a TTL index so expired
// leases are eventually reaped even if no replica ever takes over.
type leaseDocument struct {
	ID        string    `bson:"_id"`
	Holder    string    `bson:"holder"`
	ExpiresAt time.Time `bson:"expiresAt"`
}
