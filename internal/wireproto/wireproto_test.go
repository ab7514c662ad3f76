package wireproto

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	s = stripSeparators(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex fixture: %v", err)
	}
	return b
}

func stripSeparators(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' || s[i] == '|' || s[i] == '\n' || s[i] == '\t' {
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}

// TestKeepaliveWithReplyRequested covers a 19-byte keepalive frame with
// reply_requested=1.
func TestKeepaliveWithReplyRequested(t *testing.T) {
	raw := mustHex(t, "6B 0000000000C0FFEE 0000000000000000 01")
	tag, payload, err := DispatchFrame(raw)
	if err != nil {
		t.Fatalf("DispatchFrame: %v", err)
	}
	if tag != TagKeepalive {
		t.Fatalf("tag = %q, want 'k'", tag)
	}
	ka, err := ParseKeepalive(payload)
	if err != nil {
		t.Fatalf("ParseKeepalive: %v", err)
	}
	if ka.WALEnd != 0x00C0FFEE {
		t.Fatalf("WALEnd = %#x, want 0xC0FFEE", ka.WALEnd)
	}
	if !ka.ReplyRequested {
		t.Fatal("expected ReplyRequested=true")
	}
}

func TestKeepaliveTooShort(t *testing.T) {
	if _, err := ParseKeepalive([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected ProtocolError for short keepalive")
	}
}

func TestXLogDataHeaderAndPayload(t *testing.T) {
	raw := mustHex(t, "77 0000000000001000 0000000000001040 0002D6C8A5E00000 4200")
	tag, payload, err := DispatchFrame(raw)
	if err != nil {
		t.Fatalf("DispatchFrame: %v", err)
	}
	if tag != TagXLogData {
		t.Fatalf("tag = %q, want 'w'", tag)
	}
	xld, err := ParseXLogData(payload)
	if err != nil {
		t.Fatalf("ParseXLogData: %v", err)
	}
	if xld.DataStart != 0x1000 {
		t.Fatalf("DataStart = %#x, want 0x1000", xld.DataStart)
	}
	if xld.WALEnd != 0x1040 {
		t.Fatalf("WALEnd = %#x, want 0x1040", xld.WALEnd)
	}
	if !bytes.Equal(xld.Payload, []byte{0x42, 0x00}) {
		t.Fatalf("Payload = %x", xld.Payload)
	}
}

func TestStandbyStatusUpdateEncodingFieldOrder(t *testing.T) {
	s := &StandbyStatusUpdate{
		LastLSN:        0x1000,
		FlushLSN:       0x1000,
		ApplyLSN:       0x0800,
		SendTime:       42,
		ReplyRequested: false,
	}
	got := s.Encode()
	if len(got) != 34 {
		t.Fatalf("encoded length = %d, want 34", len(got))
	}
	if got[0] != TagStandbyStatusUpdate {
		t.Fatalf("tag = %q, want 'r'", got[0])
	}
	// last_lsn at offset 1, flush_lsn at 9, apply_lsn at 17, send_time at 25, reply at 33.
	if got[33] != 0 {
		t.Fatalf("reply_requested byte = %d, want 0", got[33])
	}
}

func TestHotStandbyFeedbackLength(t *testing.T) {
	h := &HotStandbyFeedback{SendTime: 1, Xmin: 2, XminEpoch: 3}
	if len(h.Encode()) != 25 {
		t.Fatalf("encoded length = %d, want 25", len(h.Encode()))
	}
}

func TestPGTimestampRoundTrip(t *testing.T) {
	micros := int64(12345678)
	tm := FromPGTimestamp(micros)
	got := ToPGTimestamp(tm)
	if got != micros {
		t.Fatalf("round-trip = %d, want %d", got, micros)
	}
}
