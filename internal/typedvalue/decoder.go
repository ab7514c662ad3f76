package typedvalue

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/cdcstream/pgoutputcdc/internal/pgoutput"
)

// columnSchema pairs a column name with the PgType the decoder should apply
// when interpreting its wire text.
type columnSchema struct {
	name string
	typ  PgType
	known bool
}

// Decoder is a session-scoped typed-value layer. It consumes Relation
// messages to build a schema cache and Insert/Update messages to produce a
// column-name-to-Value mapping. It never emits rows for any other message
// kind.
type Decoder struct {
	logger  zerolog.Logger
	schemas map[uint32][]columnSchema
}

// NewDecoder creates a Decoder. logger is used only to warn on parse
// fallbacks; it never causes a decode to fail.
func NewDecoder(logger zerolog.Logger) *Decoder {
	return &Decoder{
		logger:  logger.With().Str("component", "typedvalue").Logger(),
		schemas: make(map[uint32][]columnSchema),
	}
}

// HandleRelation records (or replaces) the column schema for a Relation
// message's oid.
func (d *Decoder) HandleRelation(rel *pgoutput.Relation) {
	cols := make([]columnSchema, len(rel.Info.Columns))
	for i, c := range rel.Info.Columns {
		pt, known := fromOID(c.TypeOID)
		cols[i] = columnSchema{name: c.Name, typ: pt, known: known}
	}
	d.schemas[rel.Info.OID] = cols
}

// DecodeRow converts an Insert's new tuple or an Update's new tuple into a
// column-name-keyed map of typed values. Every other message kind returns
// ok=false. A relation id with no cached schema returns an error — the
// session is expected to apply Relation messages before any data message
// referencing them arrives (the pgoutput decoder already enforces this
// invariant, so this is a defensive double-check).
func (d *Decoder) DecodeRow(msg pgoutput.Message) (row map[string]Value, ok bool, err error) {
	var relationID uint32
	var tuple pgoutput.TupleData

	switch m := msg.(type) {
	case *pgoutput.Insert:
		relationID = m.RelationID
		tuple = m.New
	case *pgoutput.Update:
		relationID = m.RelationID
		tuple = m.New
	default:
		return nil, false, nil
	}

	schema, found := d.schemas[relationID]
	if !found {
		return nil, false, &pgoutput.ProtocolError{Reason: "typedvalue: no cached schema for relation id"}
	}

	row = make(map[string]Value, len(tuple.Columns))
	for i, col := range tuple.Columns {
		if i >= len(schema) {
			break
		}
		if col.Kind != pgoutput.ColumnText {
			continue
		}
		name := schema[i].name
		row[name] = d.decodeCell(schema[i], string(col.Data))
	}
	return row, true, nil
}

func (d *Decoder) decodeCell(schema columnSchema, raw string) Value {
	if !schema.known {
		return stringValue(raw)
	}

	switch schema.typ {
	case TypeBool:
		b, err := parseBool(raw)
		if err != nil {
			d.warnFallback(schema.name, "bool", err)
			return stringValue(raw)
		}
		return Value{Kind: KindBoolean, Boolean: b, String: raw}

	case TypeInt2, TypeInt4, TypeInt8:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			d.warnFallback(schema.name, "integer", err)
			return stringValue(raw)
		}
		return Value{Kind: KindInteger, Integer: n, String: raw}

	case TypeUUID:
		u, err := uuid.Parse(raw)
		if err != nil {
			d.warnFallback(schema.name, "uuid", err)
			return stringValue(raw)
		}
		return Value{Kind: KindUUID, UUID: u, String: raw}

	case TypeJSON, TypeJSONB:
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			d.warnFallback(schema.name, "json", err)
			return stringValue(raw)
		}
		return Value{Kind: KindJSON, JSON: v, String: raw}

	case TypeDate:
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			d.warnFallback(schema.name, "date", err)
			return stringValue(raw)
		}
		return Value{Kind: KindDate, Date: t, String: raw}

	case TypeTimestamp:
		t, err := parseTimestamp(raw)
		if err != nil {
			d.warnFallback(schema.name, "timestamp", err)
			return stringValue(raw)
		}
		return Value{Kind: KindTimestamp, Timestamp: t, String: raw}

	case TypeTimestamptz:
		t, err := parseTimestamptz(raw)
		if err != nil {
			d.warnFallback(schema.name, "timestamptz", err)
			return stringValue(raw)
		}
		return Value{Kind: KindTimestampTZ, TimestampTZ: t, String: raw}

	case TypeNumeric, TypeMoney:
		n, err := decimal.NewFromString(raw)
		if err != nil {
			d.warnFallback(schema.name, "numeric", err)
			return stringValue(raw)
		}
		return Value{Kind: KindDecimal, Decimal: n, String: raw}

	default:
		return stringValue(raw)
	}
}

func (d *Decoder) warnFallback(column, kind string, err error) {
	d.logger.Warn().Err(err).Str("column", column).Str("pg_type", kind).Msg("falling back to raw string")
}

func parseBool(raw string) (bool, error) {
	switch raw {
	case "t", "true", "TRUE", "T":
		return true, nil
	case "f", "false", "FALSE", "F":
		return false, nil
	default:
		return strconv.ParseBool(raw)
	}
}

// timestamptzLayouts are tried in order; PostgreSQL's default text output
// uses a two-digit zone offset ("+00") but some locales and extensions emit
// a colon-separated one ("+00:00").
var timestamptzLayouts = []string{
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05-07",
	"2006-01-02 15:04:05-07:00",
}

func parseTimestamptz(raw string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestamptzLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func parseTimestamp(raw string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}
