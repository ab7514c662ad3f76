package pgoutput

import (
	"bytes"
	"testing"
)

type fakeRelations map[uint32]RelationInfo

func (f fakeRelations) GetRelation(oid uint32) (RelationInfo, bool) {
	r, ok := f[oid]
	return r, ok
}

func cstr(s string) []byte { return append([]byte(s), 0) }

func u32b(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func i16b(v int16) []byte {
	u := uint16(v)
	return []byte{byte(u >> 8), byte(u)}
}

func i32b(v int32) []byte {
	return u32b(uint32(v))
}

func u64b(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestDecodeBegin(t *testing.T) {
	payload := concat([]byte{tagBegin}, u64b(4096), u64b(uint64(0x0002D6C8A5E00000)), u32b(1337))
	msg, err := Decode(payload, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	b, ok := msg.(*Begin)
	if !ok {
		t.Fatalf("got %T, want *Begin", msg)
	}
	if b.FinalLSN != 4096 || b.Xid != 1337 {
		t.Fatalf("unexpected fields: %+v", b)
	}
	if b.Kind() != KindBegin {
		t.Fatalf("Kind() = %v, want KindBegin", b.Kind())
	}
}

func TestDecodeCommit(t *testing.T) {
	payload := concat([]byte{tagCommit}, []byte{0}, u64b(0x1000), u64b(0x1040), u64b(uint64(0x0002D6C8A5E00000)))
	msg, err := Decode(payload, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	c := msg.(*Commit)
	if c.CommitLSN != 0x1000 || c.EndLSN != 0x1040 {
		t.Fatalf("unexpected fields: %+v", c)
	}
}

func buildRelationPayload(oid uint32, ns, name string, identity byte, cols []RelationColumn) []byte {
	buf := concat([]byte{tagRelation}, u32b(oid), cstr(ns), cstr(name), []byte{identity}, i16b(int16(len(cols))))
	for _, c := range cols {
		key := byte(0)
		if c.IsKey {
			key = 1
		}
		buf = concat(buf, []byte{key}, cstr(c.Name), u32b(c.TypeOID), i32b(c.TypeMod))
	}
	return buf
}

func TestDecodeRelation(t *testing.T) {
	payload := buildRelationPayload(20001, "public", "t_new_t", 'd', []RelationColumn{
		{IsKey: true, Name: "id", TypeOID: 23, TypeMod: -1},
		{IsKey: false, Name: "name", TypeOID: 25, TypeMod: -1},
	})
	msg, err := Decode(payload, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	rel := msg.(*Relation)
	if rel.Info.OID != 20001 || rel.Info.Namespace != "public" || rel.Info.Name != "t_new_t" {
		t.Fatalf("unexpected relation: %+v", rel.Info)
	}
	if len(rel.Info.Columns) != 2 || !rel.Info.Columns[0].IsKey || rel.Info.Columns[1].Name != "name" {
		t.Fatalf("unexpected columns: %+v", rel.Info.Columns)
	}
	if rel.Info.ReplicaIdentity != ReplicaIdentityDefault {
		t.Fatalf("identity = %v", rel.Info.ReplicaIdentity)
	}
}

func textCol(s string) []byte {
	return concat([]byte{'t'}, i32b(int32(len(s))), []byte(s))
}

func tupleBytes(cols ...[]byte) []byte {
	buf := i16b(int16(len(cols)))
	return concat(buf, concat(cols...))
}

func TestDecodeInsertNonStreaming(t *testing.T) {
	relations := fakeRelations{20001: {OID: 20001}}
	payload := concat([]byte{tagInsert}, u32b(20001), []byte{'N'}, tupleBytes(textCol("7"), textCol("Alice")))
	msg, err := Decode(payload, relations)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	ins := msg.(*Insert)
	if ins.RelationID != 20001 || ins.Streaming {
		t.Fatalf("unexpected: %+v", ins)
	}
	if len(ins.New.Columns) != 2 || string(ins.New.Columns[0].Data) != "7" || string(ins.New.Columns[1].Data) != "Alice" {
		t.Fatalf("unexpected tuple: %+v", ins.New)
	}
}

func TestDecodeInsertStreaming(t *testing.T) {
	relations := fakeRelations{20001: {OID: 20001}}
	payload := concat([]byte{tagInsert}, u32b(1337), u32b(20001), []byte{'N'}, tupleBytes(textCol("7"), textCol("Alice")))
	msg, err := Decode(payload, relations)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	ins := msg.(*Insert)
	if !ins.Streaming || ins.Xid != 1337 || ins.RelationID != 20001 {
		t.Fatalf("unexpected: %+v", ins)
	}
}

func TestDecodeInsertUnknownRelationFails(t *testing.T) {
	payload := concat([]byte{tagInsert}, u32b(99), []byte{'N'}, tupleBytes(textCol("x")))
	if _, err := Decode(payload, fakeRelations{}); err == nil {
		t.Fatal("expected ProtocolError for unannounced relation id")
	}
}

func TestDecodeUpdateWithKeyImage(t *testing.T) {
	relations := fakeRelations{20001: {OID: 20001}}
	payload := concat([]byte{tagUpdate}, u32b(20001),
		[]byte{'K'}, tupleBytes(textCol("7")),
		[]byte{'N'}, tupleBytes(textCol("7"), textCol("Bob")),
	)
	msg, err := Decode(payload, relations)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	u := msg.(*Update)
	if u.KeyKind != KeyKindKey {
		t.Fatalf("KeyKind = %v, want K", u.KeyKind)
	}
	if string(u.Old.Columns[0].Data) != "7" {
		t.Fatalf("old tuple: %+v", u.Old)
	}
	if string(u.New.Columns[1].Data) != "Bob" {
		t.Fatalf("new tuple: %+v", u.New)
	}
}

func TestDecodeUpdateNewOnly(t *testing.T) {
	relations := fakeRelations{20001: {OID: 20001}}
	payload := concat([]byte{tagUpdate}, u32b(20001), []byte{'N'}, tupleBytes(textCol("7"), textCol("Carl")))
	msg, err := Decode(payload, relations)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	u := msg.(*Update)
	if u.KeyKind != KeyKindNone {
		t.Fatalf("KeyKind = %v, want none", u.KeyKind)
	}
	if len(u.Old.Columns) != 0 {
		t.Fatalf("expected no old image, got %+v", u.Old)
	}
}

func TestDecodeDeleteWithFullImage(t *testing.T) {
	relations := fakeRelations{20001: {OID: 20001}}
	payload := concat([]byte{tagDelete}, u32b(20001), []byte{'O'}, tupleBytes(textCol("7"), textCol("Alice")))
	msg, err := Decode(payload, relations)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	d := msg.(*Delete)
	if d.KeyKind != KeyKindOld {
		t.Fatalf("KeyKind = %v, want O", d.KeyKind)
	}
}

func TestDecodeTruncateNonStreaming(t *testing.T) {
	relations := fakeRelations{1: {OID: 1}, 2: {OID: 2}}
	payload := concat([]byte{tagTruncate}, u32b(2), []byte{0}, u32b(1), u32b(2))
	msg, err := Decode(payload, relations)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	tr := msg.(*Truncate)
	if tr.Streaming || len(tr.RelationIDs) != 2 {
		t.Fatalf("unexpected: %+v", tr)
	}
}

func TestDecodeTruncateStreaming(t *testing.T) {
	relations := fakeRelations{1: {OID: 1}}
	payload := concat([]byte{tagTruncate}, u32b(555), u32b(1), []byte{0}, u32b(1))
	msg, err := Decode(payload, relations)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	tr := msg.(*Truncate)
	if !tr.Streaming || tr.Xid != 555 || len(tr.RelationIDs) != 1 {
		t.Fatalf("unexpected: %+v", tr)
	}
}

func TestDecodeStreamMessages(t *testing.T) {
	start := concat([]byte{tagStreamStart}, u32b(1337), []byte{1})
	msg, err := Decode(start, nil)
	if err != nil {
		t.Fatalf("Decode StreamStart: %v", err)
	}
	ss := msg.(*StreamStart)
	if ss.Xid != 1337 || !ss.FirstSegment {
		t.Fatalf("unexpected: %+v", ss)
	}

	stop := []byte{tagStreamStop}
	if _, err := Decode(stop, nil); err != nil {
		t.Fatalf("Decode StreamStop: %v", err)
	}

	commit := concat([]byte{tagStreamCommit}, u32b(1337), []byte{0}, u64b(0x1000), u64b(0x1040), u64b(1))
	msg, err = Decode(commit, nil)
	if err != nil {
		t.Fatalf("Decode StreamCommit: %v", err)
	}
	sc := msg.(*StreamCommit)
	if sc.Xid != 1337 || sc.CommitLSN != 0x1000 {
		t.Fatalf("unexpected: %+v", sc)
	}

	abort := concat([]byte{tagStreamAbort}, u32b(1337), u32b(7))
	msg, err = Decode(abort, nil)
	if err != nil {
		t.Fatalf("Decode StreamAbort: %v", err)
	}
	sa := msg.(*StreamAbort)
	if sa.Xid != 1337 || sa.SubXid != 7 {
		t.Fatalf("unexpected: %+v", sa)
	}
}

func TestDecodeUnknownTagFails(t *testing.T) {
	if _, err := Decode([]byte{'Z'}, nil); err == nil {
		t.Fatal("expected ProtocolError for unknown tag")
	}
}

func TestDecodeUnchangedToastAndNull(t *testing.T) {
	relations := fakeRelations{20001: {OID: 20001}}
	tuple := tupleBytes(textCol("x"), []byte{'u'}, []byte{'n'})
	payload := concat([]byte{tagInsert}, u32b(20001), []byte{'N'}, tuple)
	msg, err := Decode(payload, relations)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	ins := msg.(*Insert)
	cols := ins.New.Columns
	if len(cols) != 3 {
		t.Fatalf("expected 3 columns, got %d", len(cols))
	}
	if cols[0].Kind != ColumnText || !bytes.Equal(cols[0].Data, []byte("x")) {
		t.Fatalf("col0 = %+v", cols[0])
	}
	if cols[1].Kind != ColumnUnchangedToast {
		t.Fatalf("col1 = %+v", cols[1])
	}
	if cols[2].Kind != ColumnNull {
		t.Fatalf("col2 = %+v", cols[2])
	}
}

func TestDecodeEmptyTupleHasZeroColumns(t *testing.T) {
	relations := fakeRelations{20001: {OID: 20001}}
	payload := concat([]byte{tagInsert}, u32b(20001), []byte{'N'}, i16b(0))
	msg, err := Decode(payload, relations)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	ins := msg.(*Insert)
	if len(ins.New.Columns) != 0 {
		t.Fatalf("expected empty tuple, got %+v", ins.New)
	}
}
