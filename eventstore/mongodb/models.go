package mongodb

import (
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/johanhaleby/occurrent-go/eventstore"
)

// eventDocument is the on-disk shape of one event envelope, matching
// spec §6's event collection document.
type eventDocument struct {
	ID              primitive.ObjectID `bson:"_id,omitempty"`
	StreamID        string             `bson:"streamId"`
	StreamOrder     int64              `bson:"streamOrder"`
	EventID         string             `bson:"id"`
	Source          string             `bson:"source"`
	Type            string             `bson:"type"`
	Time            any                `bson:"time"`
	Subject         string             `bson:"subject,omitempty"`
	DataContentType string             `bson:"datacontenttype,omitempty"`
	DataSchema      string             `bson:"dataschema,omitempty"`
	Data            []byte             `bson:"data,omitempty"`
	Extensions      bson.M             `bson:"extensions,omitempty"`
}

// metadataDocument is the on-disk shape of one stream's version
// bookkeeping document, present only under the Transactional guarantee.
type metadataDocument struct {
	ID      string `bson:"_id"`
	Version int64  `bson:"version"`
}

// toDocument converts a CloudEvent into its on-disk envelope
// representation. timeRep governs whether "time" is stored as an
// RFC3339 string or a native BSON date; every writer and reader in a
// deployment must agree on this value.
func toDocument(streamID string, streamOrder int64, event eventstore.CloudEvent, timeRep eventstore.TimeRepresentation) (eventDocument, error) {
	data := event.Data()

	doc := eventDocument{
		StreamID:        streamID,
		StreamOrder:     streamOrder,
		EventID:         event.ID(),
		Source:          event.Source(),
		Type:            event.Type(),
		Time:            encodeTime(event.Time(), timeRep),
		Subject:         event.Subject(),
		DataContentType: event.DataContentType(),
		DataSchema:      event.DataSchema(),
		Data:            data,
	}
	doc.Extensions = bson.M{}
	for k, v := range event.Extensions() {
		doc.Extensions[k] = v
	}
	// streamId is denormalized onto the CloudEvent itself per the data
	// model so a change-stream consumer can filter by stream without
	// joining back to the envelope.
	doc.Extensions["streamid"] = streamID
	return doc, nil
}

// toCloudEvent converts an on-disk envelope back into a CloudEvent,
// the inverse of toDocument. timeRep must match the value used to
// write doc.
func toCloudEvent(doc eventDocument, timeRep eventstore.TimeRepresentation) (eventstore.CloudEvent, error) {
	event := cloudevents.NewEvent()
	event.SetID(doc.EventID)
	event.SetSource(doc.Source)
	event.SetType(doc.Type)
	event.SetTime(decodeTime(doc.Time, timeRep))
	if doc.Subject != "" {
		event.SetSubject(doc.Subject)
	}
	if doc.DataSchema != "" {
		event.SetDataSchema(doc.DataSchema)
	}
	for k, v := range doc.Extensions {
		event.SetExtension(k, v)
	}
	if len(doc.Data) > 0 {
		contentType := doc.DataContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		if err := event.SetData(contentType, doc.Data); err != nil {
			return eventstore.CloudEvent{}, err
		}
	}
	return event, nil
}

// DecodeCloudEvent unmarshals a raw BSON event envelope document (as
// observed via a change stream's fullDocument, or fetched any other
// way) into a CloudEvent. It is exported so subscription/mongodb can
// decode change-stream documents without duplicating the envelope
// shape.
func DecodeCloudEvent(raw bson.Raw, timeRep eventstore.TimeRepresentation) (eventstore.CloudEvent, error) {
	var doc eventDocument
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return eventstore.CloudEvent{}, err
	}
	return toCloudEvent(doc, timeRep)
}

func encodeTime(t time.Time, timeRep eventstore.TimeRepresentation) any {
	switch timeRep {
	case eventstore.Date:
		return primitive.NewDateTimeFromTime(t)
	default:
		return t.UTC().Format(time.RFC3339Nano)
	}
}

func decodeTime(v any, timeRep eventstore.TimeRepresentation) time.Time {
	switch timeRep {
	case eventstore.Date:
		if dt, ok := v.(primitive.DateTime); ok {
			return dt.Time()
		}
		if t, ok := v.(time.Time); ok {
			return t
		}
	default:
		if s, ok := v.(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}
