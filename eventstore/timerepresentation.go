package eventstore

// TimeRepresentation selects how the CloudEvent "time" attribute is
// persisted and compared in filters. All components that persist or
// query by time within one deployment must use the same value.
type TimeRepresentation int

const (
	// RFC3339String stores time as an RFC3339 string. Portable across
	// drivers and human-readable in the collection, at the cost of
	// string comparison rather than native date range queries.
	RFC3339String TimeRepresentation = iota
	// Date stores time as a BSON date, enabling native date range
	// queries and correct chronological sort order.
	Date
)

func (t TimeRepresentation) String() string {
	switch t {
	case RFC3339String:
		return "RFC3339String"
	case Date:
		return "Date"
	default:
		return "unknown"
	}
}
