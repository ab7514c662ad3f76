package typedvalue

// PgType enumerates the PostgreSQL built-in type OIDs the decoder knows how
// to interpret. Unlisted OIDs are not an error — they simply fall through to
// the String value kind.
type PgType uint32

const (
	TypeBool        PgType = 16
	TypeBytea       PgType = 17
	TypeChar        PgType = 18
	TypeName        PgType = 19
	TypeInt8        PgType = 20
	TypeInt2        PgType = 21
	TypeInt2Vector  PgType = 22
	TypeInt4        PgType = 23
	TypeText        PgType = 25
	TypeOid         PgType = 26
	TypeJSON        PgType = 114
	TypeFloat4      PgType = 700
	TypeFloat8      PgType = 701
	TypeMoney       PgType = 790
	TypeBpchar      PgType = 1042
	TypeVarchar     PgType = 1043
	TypeDate        PgType = 1082
	TypeTime        PgType = 1083
	TypeTimestamp   PgType = 1114
	TypeTimestamptz PgType = 1184
	TypeNumeric     PgType = 1700
	TypeUUID        PgType = 2950
	TypeJSONB       PgType = 3802
)

// fromOID returns the PgType for oid and whether it is one of the types
// interpreted specially; unknown types decode as String.
func fromOID(oid uint32) (PgType, bool) {
	switch PgType(oid) {
	case TypeBool, TypeInt2, TypeInt4, TypeInt8, TypeJSON, TypeJSONB, TypeUUID,
		TypeDate, TypeTimestamp, TypeTimestamptz, TypeNumeric, TypeMoney:
		return PgType(oid), true
	default:
		return 0, false
	}
}
