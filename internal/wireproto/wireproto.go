// Package wireproto decodes and encodes the outer replication protocol
// frames carried over the copy-both stream: PrimaryKeepalive and XLogData
// inbound, StandbyStatusUpdate and HotStandbyFeedback outbound.
package wireproto

import (
	"fmt"
	"time"

	"github.com/cdcstream/pgoutputcdc/internal/binary"
)

const (
	TagKeepalive            byte = 'k'
	TagXLogData              byte = 'w'
	TagStandbyStatusUpdate   byte = 'r'
	TagHotStandbyFeedback    byte = 'h'
)

// ProtocolError reports a framing violation: an unrecognized tag or a frame
// shorter than its declared minimum length.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "protocol error: " + e.Reason }

func protoErr(format string, args ...any) *ProtocolError {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

// Keepalive is the server's PrimaryKeepaliveMessage ('k').
type Keepalive struct {
	WALEnd          uint64
	SendTime        int64
	ReplyRequested  bool
}

// XLogData is the server's XLogData message ('w') carrying a pgoutput
// payload.
type XLogData struct {
	DataStart uint64
	WALEnd    uint64
	SendTime  int64
	Payload   []byte
}

// ParseKeepalive decodes a 'k' frame. frame excludes the leading tag byte.
func ParseKeepalive(frame []byte) (*Keepalive, error) {
	const minLen = 17 // wal_end(8) + send_time(8) + reply_requested(1)
	if len(frame) < minLen {
		return nil, protoErr("keepalive frame too short: %d bytes, need %d", len(frame), minLen)
	}
	r := binary.NewReader(frame)
	walEnd, err := r.U64()
	if err != nil {
		return nil, err
	}
	sendTime, err := r.I64()
	if err != nil {
		return nil, err
	}
	reply, err := r.U8()
	if err != nil {
		return nil, err
	}
	return &Keepalive{WALEnd: walEnd, SendTime: sendTime, ReplyRequested: reply != 0}, nil
}

// ParseXLogData decodes a 'w' frame. frame excludes the leading tag byte.
func ParseXLogData(frame []byte) (*XLogData, error) {
	const headerLen = 24 // data_start(8) + wal_end(8) + send_time(8)
	if len(frame) < headerLen {
		return nil, protoErr("xlogdata frame too short: %d bytes, need at least %d", len(frame), headerLen)
	}
	r := binary.NewReader(frame)
	dataStart, err := r.U64()
	if err != nil {
		return nil, err
	}
	walEnd, err := r.U64()
	if err != nil {
		return nil, err
	}
	sendTime, err := r.I64()
	if err != nil {
		return nil, err
	}
	payload := frame[r.Pos():]
	return &XLogData{DataStart: dataStart, WALEnd: walEnd, SendTime: sendTime, Payload: payload}, nil
}

// StandbyStatusUpdate is the client's outbound 'r' frame. Field order on the
// wire is last_lsn, flush_lsn, apply_lsn, send_time, reply_requested.
type StandbyStatusUpdate struct {
	LastLSN        uint64
	FlushLSN       uint64
	ApplyLSN       uint64
	SendTime       int64
	ReplyRequested bool
}

// Encode writes the 34-byte standby status update frame (tag included).
func (s *StandbyStatusUpdate) Encode() []byte {
	buf := make([]byte, 34)
	w := binary.NewWriter(buf)
	_ = w.U8(TagStandbyStatusUpdate)
	_ = w.U64(s.LastLSN)
	_ = w.U64(s.FlushLSN)
	_ = w.U64(s.ApplyLSN)
	_ = w.I64(s.SendTime)
	if s.ReplyRequested {
		_ = w.U8(1)
	} else {
		_ = w.U8(0)
	}
	return w.Bytes()
}

// HotStandbyFeedback is the client's outbound 'h' frame.
type HotStandbyFeedback struct {
	SendTime         int64
	Xmin             uint32
	XminEpoch        uint32
	CatalogXmin      uint32
	CatalogXminEpoch uint32
}

// Encode writes the 25-byte hot standby feedback frame (tag included).
func (h *HotStandbyFeedback) Encode() []byte {
	buf := make([]byte, 25)
	w := binary.NewWriter(buf)
	_ = w.U8(TagHotStandbyFeedback)
	_ = w.I64(h.SendTime)
	_ = w.U32(h.Xmin)
	_ = w.U32(h.XminEpoch)
	_ = w.U32(h.CatalogXmin)
	_ = w.U32(h.CatalogXminEpoch)
	return w.Bytes()
}

// PGEpochOffsetSeconds is the number of seconds between the Unix epoch
// (1970-01-01) and the PostgreSQL epoch (2000-01-01), used to convert
// wall-clock time into the i64-microseconds-since-PG-epoch timestamps used
// throughout the protocol.
const PGEpochOffsetSeconds = 946684800

// ToPGTimestamp converts a time.Time into PostgreSQL's microseconds-since-
// 2000-01-01 representation.
func ToPGTimestamp(t time.Time) int64 {
	return (t.Unix()-PGEpochOffsetSeconds)*1_000_000 + int64(t.Nanosecond()/1000)
}

// FromPGTimestamp converts microseconds-since-2000-01-01 into a time.Time in
// UTC.
func FromPGTimestamp(micros int64) time.Time {
	secs := micros / 1_000_000
	rem := micros % 1_000_000
	if rem < 0 {
		rem += 1_000_000
		secs--
	}
	return time.Unix(secs+PGEpochOffsetSeconds, rem*1000).UTC()
}

// DispatchFrame identifies the outer frame tag and returns the payload that
// follows it (excluding the tag byte itself).
func DispatchFrame(raw []byte) (tag byte, payload []byte, err error) {
	if len(raw) == 0 {
		return 0, nil, protoErr("empty frame")
	}
	return raw[0], raw[1:], nil
}
