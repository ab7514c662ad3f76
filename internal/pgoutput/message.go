package pgoutput

// MessageKind tags each pgoutput message variant. Messages are modeled as a
// sum type — one struct per variant carrying a Kind() tag — rather than as a
// base type with subclasses; dispatch throughout this package is value-level
// on the wire tag byte, never type-hierarchy based.
type MessageKind int

const (
	KindBegin MessageKind = iota
	KindCommit
	KindRelation
	KindInsert
	KindUpdate
	KindDelete
	KindTruncate
	KindStreamStart
	KindStreamStop
	KindStreamCommit
	KindStreamAbort
)

func (k MessageKind) String() string {
	switch k {
	case KindBegin:
		return "Begin"
	case KindCommit:
		return "Commit"
	case KindRelation:
		return "Relation"
	case KindInsert:
		return "Insert"
	case KindUpdate:
		return "Update"
	case KindDelete:
		return "Delete"
	case KindTruncate:
		return "Truncate"
	case KindStreamStart:
		return "StreamStart"
	case KindStreamStop:
		return "StreamStop"
	case KindStreamCommit:
		return "StreamCommit"
	case KindStreamAbort:
		return "StreamAbort"
	default:
		return "Unknown"
	}
}

// Message is implemented by every decoded pgoutput message variant.
type Message interface {
	Kind() MessageKind
}

// Begin demarcates the start of a transaction.
type Begin struct {
	FinalLSN  uint64
	Timestamp int64
	Xid       uint32
}

func (*Begin) Kind() MessageKind { return KindBegin }

// Commit demarcates the end of a transaction.
type Commit struct {
	Flags     uint8
	CommitLSN uint64
	EndLSN    uint64
	Timestamp int64
}

func (*Commit) Kind() MessageKind { return KindCommit }

// ReplicaIdentity mirrors the server's per-table replica identity setting,
// which determines what portion of a row's pre-image is emitted for
// Update/Delete.
type ReplicaIdentity byte

const (
	ReplicaIdentityDefault ReplicaIdentity = 'd'
	ReplicaIdentityNothing ReplicaIdentity = 'n'
	ReplicaIdentityFull    ReplicaIdentity = 'f'
	ReplicaIdentityIndex   ReplicaIdentity = 'i'
)

// RelationColumn describes one column of a Relation's schema.
type RelationColumn struct {
	IsKey   bool
	Name    string
	TypeOID uint32
	TypeMod int32
}

// RelationInfo is the decoded schema announced by a Relation message,
// cached by oid for the lifetime of the session.
type RelationInfo struct {
	OID             uint32
	Namespace       string
	Name            string
	ReplicaIdentity ReplicaIdentity
	Columns         []RelationColumn
}

// Relation announces or updates a table's schema.
type Relation struct {
	Info RelationInfo
}

func (*Relation) Kind() MessageKind { return KindRelation }

// ColumnKind tags a single tuple cell.
type ColumnKind byte

const (
	ColumnNull           ColumnKind = 'n'
	ColumnUnchangedToast ColumnKind = 'u'
	ColumnText           ColumnKind = 't'
)

// ColumnData is one cell of a TupleData. Only ColumnText carries Data; its
// Length preserves the original wire length even though Data is already
// sized to match, so diagnostics can distinguish a wire zero-length value
// from "no data because NULL/unchanged".
type ColumnData struct {
	Kind   ColumnKind
	Length int32
	Data   []byte
}

// TupleData is an ordered sequence of ColumnData matching the owning
// relation's column count.
type TupleData struct {
	Columns []ColumnData
}

// KeyKind distinguishes a key-only pre-image from a full row pre-image on
// Update/Delete.
type KeyKind byte

const (
	KeyKindNone KeyKind = 0
	KeyKindKey  KeyKind = 'K'
	KeyKindOld  KeyKind = 'O'
)

// Insert is a row insertion.
type Insert struct {
	RelationID uint32
	New        TupleData
	Streaming  bool
	Xid        uint32 // valid only when Streaming
}

func (*Insert) Kind() MessageKind { return KindInsert }

// Update is a row update, optionally carrying a pre-image.
type Update struct {
	RelationID uint32
	KeyKind    KeyKind // KeyKindNone when no pre-image was sent
	Old        TupleData
	New        TupleData
	Streaming  bool
	Xid        uint32
}

func (*Update) Kind() MessageKind { return KindUpdate }

// Delete is a row deletion; Old is always populated (key or full image).
type Delete struct {
	RelationID uint32
	KeyKind    KeyKind
	Old        TupleData
	Streaming  bool
	Xid        uint32
}

func (*Delete) Kind() MessageKind { return KindDelete }

// Truncate truncates one or more relations in a single statement.
type Truncate struct {
	RelationIDs []uint32
	Flags       int8
	Streaming   bool
	Xid         uint32
}

func (*Truncate) Kind() MessageKind { return KindTruncate }

// StreamStart demarcates the start of a chunk of a streamed (in-progress)
// transaction.
type StreamStart struct {
	Xid          uint32
	FirstSegment bool
}

func (*StreamStart) Kind() MessageKind { return KindStreamStart }

// StreamStop demarcates the end of a chunk of a streamed transaction.
type StreamStop struct{}

func (*StreamStop) Kind() MessageKind { return KindStreamStop }

// StreamCommit commits a previously streamed transaction.
type StreamCommit struct {
	Xid       uint32
	Flags     uint8
	CommitLSN uint64
	EndLSN    uint64
	Timestamp int64
}

func (*StreamCommit) Kind() MessageKind { return KindStreamCommit }

// StreamAbort aborts a streamed transaction or subtransaction.
type StreamAbort struct {
	Xid    uint32
	SubXid uint32
}

func (*StreamAbort) Kind() MessageKind { return KindStreamAbort }
