package sink

import (
	"github.com/cdcstream/pgoutputcdc/internal/pgoutput"
)

// wireColumn is the JSON rendering of one ColumnData: kind, length, and
// data, preserving per-column fidelity ('n'/'u'/'t') for the generic HTTP
// sink's raw payload.
type wireColumn struct {
	Kind   string `json:"kind"`
	Length int32  `json:"length,omitempty"`
	Data   string `json:"data,omitempty"`
}

func renderColumn(c pgoutput.ColumnData) wireColumn {
	switch c.Kind {
	case pgoutput.ColumnNull:
		return wireColumn{Kind: "n"}
	case pgoutput.ColumnUnchangedToast:
		return wireColumn{Kind: "u"}
	default:
		return wireColumn{Kind: "t", Length: c.Length, Data: string(c.Data)}
	}
}

func renderTuple(t pgoutput.TupleData) map[string]wireColumn {
	out := make(map[string]wireColumn, len(t.Columns))
	for i, c := range t.Columns {
		out[indexKey(i)] = renderColumn(c)
	}
	return out
}

func indexKey(i int) string {
	// Positional key; the relation schema (if the consumer has it) supplies
	// real column names. The wire layer does not have names available.
	const digits = "0123456789"
	if i < 10 {
		return string(digits[i])
	}
	buf := make([]byte, 0, 4)
	for i > 0 {
		buf = append([]byte{digits[i%10]}, buf...)
		i /= 10
	}
	return string(buf)
}

// httpPayload is the §6 "Sink payload (HTTP)" JSON rendering of a single
// pgoutput message.
type httpPayload struct {
	Type         string                `json:"type"`
	RelationID   *uint32               `json:"relation_id,omitempty"`
	Xid          *uint32               `json:"xid,omitempty"`
	IsStream     bool                  `json:"is_stream,omitempty"`
	TupleData    map[string]wireColumn `json:"tuple_data,omitempty"`
	OldTupleData map[string]wireColumn `json:"old_tuple_data,omitempty"`
	NewTupleData map[string]wireColumn `json:"new_tuple_data,omitempty"`
}

func renderHTTPPayload(msg pgoutput.Message) httpPayload {
	switch m := msg.(type) {
	case *pgoutput.Begin:
		return httpPayload{Type: "begin"}
	case *pgoutput.Commit:
		return httpPayload{Type: "commit"}
	case *pgoutput.Relation:
		return httpPayload{Type: "relation", RelationID: ptrU32(m.Info.OID)}
	case *pgoutput.Insert:
		p := httpPayload{Type: "insert", RelationID: ptrU32(m.RelationID), IsStream: m.Streaming, TupleData: renderTuple(m.New)}
		if m.Streaming {
			p.Xid = ptrU32(m.Xid)
		}
		return p
	case *pgoutput.Update:
		p := httpPayload{Type: "update", RelationID: ptrU32(m.RelationID), IsStream: m.Streaming, NewTupleData: renderTuple(m.New)}
		if len(m.Old.Columns) > 0 {
			p.OldTupleData = renderTuple(m.Old)
		}
		if m.Streaming {
			p.Xid = ptrU32(m.Xid)
		}
		return p
	case *pgoutput.Delete:
		p := httpPayload{Type: "delete", RelationID: ptrU32(m.RelationID), IsStream: m.Streaming, OldTupleData: renderTuple(m.Old)}
		if m.Streaming {
			p.Xid = ptrU32(m.Xid)
		}
		return p
	case *pgoutput.Truncate:
		p := httpPayload{Type: "truncate", IsStream: m.Streaming}
		if m.Streaming {
			p.Xid = ptrU32(m.Xid)
		}
		return p
	case *pgoutput.StreamStart:
		return httpPayload{Type: "stream_start", Xid: ptrU32(m.Xid)}
	case *pgoutput.StreamStop:
		return httpPayload{Type: "stream_stop"}
	case *pgoutput.StreamCommit:
		return httpPayload{Type: "stream_commit", Xid: ptrU32(m.Xid)}
	case *pgoutput.StreamAbort:
		return httpPayload{Type: "stream_abort", Xid: ptrU32(m.Xid)}
	default:
		return httpPayload{Type: "unknown"}
	}
}

func ptrU32(v uint32) *uint32 { return &v }
