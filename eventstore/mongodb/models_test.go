package mongodb

import (
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/johanhaleby/occurrent-go/eventstore"
)

func newTestEvent(id string) eventstore.CloudEvent {
	e := cloudevents.NewEvent()
	e.SetID(id)
	e.SetSource("https://example.com/name")
	e.SetType("NameDefined")
	e.SetTime(time.Date(2021, 5, 3, 10, 0, 0, 0, time.UTC))
	e.SetSubject("name")
	e.SetExtension("streamid", "name")
	_ = e.SetData("application/json", []byte(`{"name":"John Doe"}`))
	return e
}

func TestToDocumentAndBackRoundTrips(t *testing.T) {
	data := []struct {
		name   string
		timRep eventstore.TimeRepresentation
	}{
		{"rfc3339", eventstore.RFC3339String},
		{"date", eventstore.Date},
	}

	for _, tt := range data {
		t.Run(tt.name, func(t *testing.T) {
			original := newTestEvent("e1")

			doc, err := toDocument("name", 1, original, tt.timRep)
			if err != nil {
				t.Fatalf("toDocument: %v", err)
			}
			if doc.StreamID != "name" || doc.StreamOrder != 1 {
				t.Fatalf("unexpected envelope fields: %+v", doc)
			}

			roundTripped, err := toCloudEvent(doc, tt.timRep)
			if err != nil {
				t.Fatalf("toCloudEvent: %v", err)
			}

			if roundTripped.ID() != original.ID() {
				t.Errorf("id: got %q want %q", roundTripped.ID(), original.ID())
			}
			if roundTripped.Source() != original.Source() {
				t.Errorf("source: got %q want %q", roundTripped.Source(), original.Source())
			}
			if roundTripped.Type() != original.Type() {
				t.Errorf("type: got %q want %q", roundTripped.Type(), original.Type())
			}
			if !roundTripped.Time().Equal(original.Time()) {
				t.Errorf("time: got %v want %v", roundTripped.Time(), original.Time())
			}
			if roundTripped.Subject() != original.Subject() {
				t.Errorf("subject: got %q want %q", roundTripped.Subject(), original.Subject())
			}
			if string(roundTripped.Data()) != string(original.Data()) {
				t.Errorf("data: got %q want %q", roundTripped.Data(), original.Data())
			}
		})
	}
}
