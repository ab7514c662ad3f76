package pgoutput

import (
	"fmt"

	"github.com/cdcstream/pgoutputcdc/internal/binary"
)

// ProtocolError reports an unknown message tag, a malformed tuple-section
// marker, or a reference to an undeclared relation id.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "protocol error: " + e.Reason }

func protoErr(format string, args ...any) *ProtocolError {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

const (
	tagBegin        byte = 'B'
	tagCommit       byte = 'C'
	tagRelation     byte = 'R'
	tagInsert       byte = 'I'
	tagUpdate       byte = 'U'
	tagDelete       byte = 'D'
	tagTruncate     byte = 'T'
	tagStreamStart  byte = 'S'
	tagStreamStop   byte = 'E'
	tagStreamCommit byte = 'c'
	tagStreamAbort  byte = 'A'
)

// RelationLookup is the read-only view of the relation cache (component E)
// that the decoder consults to validate relation ids referenced by
// Insert/Update/Delete/Truncate. The decoder never mutates the cache; the
// caller applies Relation messages to it.
type RelationLookup interface {
	GetRelation(oid uint32) (RelationInfo, bool)
}

// Decode dispatches on the first byte of payload (a full XLogData payload,
// tag included) and parses the corresponding pgoutput message.
func Decode(payload []byte, relations RelationLookup) (Message, error) {
	if len(payload) == 0 {
		return nil, protoErr("empty message payload")
	}
	tag := payload[0]
	body := payload[1:]
	r := binary.NewReader(body)

	switch tag {
	case tagBegin:
		return decodeBegin(r)
	case tagCommit:
		return decodeCommit(r)
	case tagRelation:
		return decodeRelation(r)
	case tagInsert:
		return decodeInsert(r, relations)
	case tagUpdate:
		return decodeUpdate(r, relations)
	case tagDelete:
		return decodeDelete(r, relations)
	case tagTruncate:
		return decodeTruncate(body, relations)
	case tagStreamStart:
		return decodeStreamStart(r)
	case tagStreamStop:
		return &StreamStop{}, nil
	case tagStreamCommit:
		return decodeStreamCommit(r)
	case tagStreamAbort:
		return decodeStreamAbort(r)
	default:
		return nil, protoErr("unknown message tag %q (0x%02x)", tag, tag)
	}
}

func decodeBegin(r *binary.Reader) (*Begin, error) {
	finalLSN, err := r.U64()
	if err != nil {
		return nil, err
	}
	ts, err := r.I64()
	if err != nil {
		return nil, err
	}
	xid, err := r.U32()
	if err != nil {
		return nil, err
	}
	return &Begin{FinalLSN: finalLSN, Timestamp: ts, Xid: xid}, nil
}

func decodeCommit(r *binary.Reader) (*Commit, error) {
	flags, err := r.U8()
	if err != nil {
		return nil, err
	}
	commitLSN, err := r.U64()
	if err != nil {
		return nil, err
	}
	endLSN, err := r.U64()
	if err != nil {
		return nil, err
	}
	ts, err := r.I64()
	if err != nil {
		return nil, err
	}
	return &Commit{Flags: flags, CommitLSN: commitLSN, EndLSN: endLSN, Timestamp: ts}, nil
}

func decodeRelation(r *binary.Reader) (*Relation, error) {
	oid, err := r.U32()
	if err != nil {
		return nil, err
	}
	namespace, err := r.CString()
	if err != nil {
		return nil, err
	}
	name, err := r.CString()
	if err != nil {
		return nil, err
	}
	identity, err := r.U8()
	if err != nil {
		return nil, err
	}
	ncols, err := r.I16()
	if err != nil {
		return nil, err
	}
	if ncols < 0 {
		return nil, protoErr("relation %d: negative column count %d", oid, ncols)
	}
	cols := make([]RelationColumn, 0, ncols)
	for i := 0; i < int(ncols); i++ {
		keyFlag, err := r.I8()
		if err != nil {
			return nil, err
		}
		colName, err := r.CString()
		if err != nil {
			return nil, err
		}
		typeOID, err := r.U32()
		if err != nil {
			return nil, err
		}
		typeMod, err := r.I32()
		if err != nil {
			return nil, err
		}
		cols = append(cols, RelationColumn{
			IsKey:   keyFlag != 0,
			Name:    colName,
			TypeOID: typeOID,
			TypeMod: typeMod,
		})
	}
	return &Relation{Info: RelationInfo{
		OID:             oid,
		Namespace:       namespace,
		Name:            name,
		ReplicaIdentity: ReplicaIdentity(identity),
		Columns:         cols,
	}}, nil
}

// decodeTupleData reads an i16 column count followed by that many tagged
// cells from r, leaving r positioned just past the tuple so the caller can
// continue parsing the enclosing message.
func decodeTupleData(r *binary.Reader) (TupleData, error) {
	ncols, err := r.I16()
	if err != nil {
		return TupleData{}, err
	}
	if ncols < 0 {
		return TupleData{}, protoErr("negative tuple column count %d", ncols)
	}
	cols := make([]ColumnData, 0, ncols)
	for i := 0; i < int(ncols); i++ {
		kindByte, err := r.U8()
		if err != nil {
			return TupleData{}, err
		}
		switch ColumnKind(kindByte) {
		case ColumnNull:
			cols = append(cols, ColumnData{Kind: ColumnNull})
		case ColumnUnchangedToast:
			cols = append(cols, ColumnData{Kind: ColumnUnchangedToast})
		case ColumnText:
			length, err := r.I32()
			if err != nil {
				return TupleData{}, err
			}
			if length < 0 {
				return TupleData{}, protoErr("negative text column length %d", length)
			}
			data, err := r.Bytes(int(length))
			if err != nil {
				return TupleData{}, err
			}
			cols = append(cols, ColumnData{Kind: ColumnText, Length: length, Data: data})
		default:
			return TupleData{}, protoErr("unknown tuple column kind %q (0x%02x)", kindByte, kindByte)
		}
	}
	return TupleData{Columns: cols}, nil
}

func checkRelationKnown(relations RelationLookup, oid uint32) error {
	if relations == nil {
		return nil
	}
	if _, ok := relations.GetRelation(oid); !ok {
		return protoErr("relation id %d referenced before being announced by a Relation message", oid)
	}
	return nil
}

func decodeInsert(r *binary.Reader, relations RelationLookup) (*Insert, error) {
	first, err := r.U32()
	if err != nil {
		return nil, err
	}
	peeked, err := peekByte(r)
	if err != nil {
		return nil, err
	}

	var relationID, xid uint32
	var streaming bool
	if peeked == 'N' {
		relationID = first
	} else {
		streaming = true
		xid = first
		relationID, err = r.U32()
		if err != nil {
			return nil, err
		}
	}

	if err := expectByte(r, 'N'); err != nil {
		return nil, err
	}
	if err := checkRelationKnown(relations, relationID); err != nil {
		return nil, err
	}
	new, err := decodeTupleData(r)
	if err != nil {
		return nil, err
	}
	return &Insert{RelationID: relationID, New: new, Streaming: streaming, Xid: xid}, nil
}

func decodeUpdate(r *binary.Reader, relations RelationLookup) (*Update, error) {
	first, err := r.U32()
	if err != nil {
		return nil, err
	}
	peeked, err := peekByte(r)
	if err != nil {
		return nil, err
	}

	var relationID, xid uint32
	var streaming bool
	if isUpdateMarker(peeked) {
		relationID = first
	} else {
		streaming = true
		xid = first
		relationID, err = r.U32()
		if err != nil {
			return nil, err
		}
	}
	if err := checkRelationKnown(relations, relationID); err != nil {
		return nil, err
	}

	marker, err := r.U8()
	if err != nil {
		return nil, err
	}

	u := &Update{RelationID: relationID, Streaming: streaming, Xid: xid}
	switch marker {
	case byte(KeyKindKey), byte(KeyKindOld):
		u.KeyKind = KeyKind(marker)
		old, err := decodeTupleData(r)
		if err != nil {
			return nil, err
		}
		u.Old = old
		if err := expectByte(r, 'N'); err != nil {
			return nil, err
		}
		new, err := decodeTupleData(r)
		if err != nil {
			return nil, err
		}
		u.New = new
	case 'N':
		u.KeyKind = KeyKindNone
		new, err := decodeTupleData(r)
		if err != nil {
			return nil, err
		}
		u.New = new
	default:
		return nil, protoErr("update: unexpected marker %q (0x%02x)", marker, marker)
	}
	return u, nil
}

func isUpdateMarker(b byte) bool {
	return b == byte(KeyKindKey) || b == byte(KeyKindOld) || b == 'N'
}

func decodeDelete(r *binary.Reader, relations RelationLookup) (*Delete, error) {
	first, err := r.U32()
	if err != nil {
		return nil, err
	}
	peeked, err := peekByte(r)
	if err != nil {
		return nil, err
	}

	var relationID, xid uint32
	var streaming bool
	if peeked == byte(KeyKindKey) || peeked == byte(KeyKindOld) {
		relationID = first
	} else {
		streaming = true
		xid = first
		relationID, err = r.U32()
		if err != nil {
			return nil, err
		}
	}
	if err := checkRelationKnown(relations, relationID); err != nil {
		return nil, err
	}

	marker, err := r.U8()
	if err != nil {
		return nil, err
	}
	if marker != byte(KeyKindKey) && marker != byte(KeyKindOld) {
		return nil, protoErr("delete: unexpected marker %q (0x%02x)", marker, marker)
	}
	old, err := decodeTupleData(r)
	if err != nil {
		return nil, err
	}
	return &Delete{RelationID: relationID, KeyKind: KeyKind(marker), Old: old, Streaming: streaming, Xid: xid}, nil
}

// decodeTruncate disambiguates streamed from non-streamed Truncate framing by
// a remaining-byte-equality tie-break: try the non-streaming framing first
// (first u32 is the relation count) and accept it only if the remaining bytes
// exactly fit "flags + n relation ids"; otherwise the first u32 was a
// streaming xid.
func decodeTruncate(body []byte, relations RelationLookup) (*Truncate, error) {
	r := binary.NewReader(body)
	first, err := r.U32()
	if err != nil {
		return nil, err
	}

	var xid uint32
	var streaming bool
	var n uint32

	remainingAfterFirst := r.Remaining()
	if remainingAfterFirst == int(1+4*first) {
		n = first
	} else {
		streaming = true
		xid = first
		n, err = r.U32()
		if err != nil {
			return nil, err
		}
		if r.Remaining() != int(1+4*n) {
			return nil, protoErr("truncate: framing does not fit either streaming or non-streaming layout")
		}
	}

	flags, err := r.I8()
	if err != nil {
		return nil, err
	}
	ids := make([]uint32, 0, n)
	for i := uint32(0); i < n; i++ {
		oid, err := r.U32()
		if err != nil {
			return nil, err
		}
		if err := checkRelationKnown(relations, oid); err != nil {
			return nil, err
		}
		ids = append(ids, oid)
	}
	return &Truncate{RelationIDs: ids, Flags: flags, Streaming: streaming, Xid: xid}, nil
}

func decodeStreamStart(r *binary.Reader) (*StreamStart, error) {
	xid, err := r.U32()
	if err != nil {
		return nil, err
	}
	first, err := r.U8()
	if err != nil {
		return nil, err
	}
	return &StreamStart{Xid: xid, FirstSegment: first != 0}, nil
}

func decodeStreamCommit(r *binary.Reader) (*StreamCommit, error) {
	xid, err := r.U32()
	if err != nil {
		return nil, err
	}
	flags, err := r.U8()
	if err != nil {
		return nil, err
	}
	commitLSN, err := r.U64()
	if err != nil {
		return nil, err
	}
	endLSN, err := r.U64()
	if err != nil {
		return nil, err
	}
	ts, err := r.I64()
	if err != nil {
		return nil, err
	}
	return &StreamCommit{Xid: xid, Flags: flags, CommitLSN: commitLSN, EndLSN: endLSN, Timestamp: ts}, nil
}

func decodeStreamAbort(r *binary.Reader) (*StreamAbort, error) {
	xid, err := r.U32()
	if err != nil {
		return nil, err
	}
	subXid, err := r.U32()
	if err != nil {
		return nil, err
	}
	return &StreamAbort{Xid: xid, SubXid: subXid}, nil
}

// peekByte returns the next byte without consuming it.
func peekByte(r *binary.Reader) (byte, error) {
	b, err := r.U8()
	if err != nil {
		return 0, err
	}
	rewind(r)
	return b, nil
}

// expectByte consumes one byte and fails if it does not equal want.
func expectByte(r *binary.Reader, want byte) error {
	b, err := r.U8()
	if err != nil {
		return err
	}
	if b != want {
		return protoErr("expected marker %q, got %q (0x%02x)", want, b, b)
	}
	return nil
}

// rewind steps the reader's cursor back by one byte. It exists solely to
// support the single-byte lookahead peekByte needs; it can never underflow
// because it is only ever called immediately after a successful U8 read.
func rewind(r *binary.Reader) {
	r.Rewind(1)
}
