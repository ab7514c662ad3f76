// Package typedvalue converts text-format pgoutput tuple columns into typed
// Go values, using the schema cached from Relation messages. It is
// deliberately a separate layer from the raw-text representation in
// internal/pgoutput so that sinks wanting raw fidelity (generic HTTP JSON)
// and sinks needing typed fields (webhook) can both consume the wire data
// without re-parsing it twice.
package typedvalue

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind tags a decoded Value's underlying type.
type Kind int

const (
	KindString Kind = iota
	KindUUID
	KindInteger
	KindBoolean
	KindJSON
	KindDate
	KindTimestamp
	KindTimestampTZ
	KindDecimal
)

// Value is a tagged union over the decoded forms a tuple column can take.
// Only one of the typed fields is meaningful, selected by Kind; String is
// always populated with the original wire text so a parse failure can fall
// back to it without losing the raw representation.
type Value struct {
	Kind Kind

	String       string
	UUID         uuid.UUID
	Integer      int64
	Boolean      bool
	JSON         any
	Date         time.Time
	Timestamp    time.Time
	TimestampTZ  time.Time
	Decimal      decimal.Decimal
}

// AsString returns the original wire text the Value was decoded from, for
// every Value kind.
func (v Value) AsString() string {
	return v.String
}

func stringValue(raw string) Value {
	return Value{Kind: KindString, String: raw}
}
