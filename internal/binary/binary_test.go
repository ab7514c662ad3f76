package binary

import "testing"

func TestRoundTripIntegers(t *testing.T) {
	buf := make([]byte, 64)
	w := NewWriter(buf)

	if err := w.U8(0xAB); err != nil {
		t.Fatalf("U8 write: %v", err)
	}
	if err := w.U16(0xBEEF); err != nil {
		t.Fatalf("U16 write: %v", err)
	}
	if err := w.U32(0xDEADBEEF); err != nil {
		t.Fatalf("U32 write: %v", err)
	}
	if err := w.U64(0x0123456789ABCDEF); err != nil {
		t.Fatalf("U64 write: %v", err)
	}
	if err := w.I16(-1234); err != nil {
		t.Fatalf("I16 write: %v", err)
	}
	if err := w.I32(-123456789); err != nil {
		t.Fatalf("I32 write: %v", err)
	}
	if err := w.I64(-9223372036854775808); err != nil {
		t.Fatalf("I64 write: %v", err)
	}

	r := NewReader(w.Bytes())
	if v, err := r.U8(); err != nil || v != 0xAB {
		t.Fatalf("U8 read: %v %v", v, err)
	}
	if v, err := r.U16(); err != nil || v != 0xBEEF {
		t.Fatalf("U16 read: %v %v", v, err)
	}
	if v, err := r.U32(); err != nil || v != 0xDEADBEEF {
		t.Fatalf("U32 read: %v %v", v, err)
	}
	if v, err := r.U64(); err != nil || v != 0x0123456789ABCDEF {
		t.Fatalf("U64 read: %v %v", v, err)
	}
	if v, err := r.I16(); err != nil || v != -1234 {
		t.Fatalf("I16 read: %v %v", v, err)
	}
	if v, err := r.I32(); err != nil || v != -123456789 {
		t.Fatalf("I32 read: %v %v", v, err)
	}
	if v, err := r.I64(); err != nil || v != -9223372036854775808 {
		t.Fatalf("I64 read: %v %v", v, err)
	}
	if r.Remaining() != 0 {
		t.Fatalf("expected cursor exhausted, %d bytes remain", r.Remaining())
	}
}

func TestReaderShortBufferFailsWithoutAdvancing(t *testing.T) {
	r := NewReader([]byte{0x01})
	pos := r.Pos()
	if _, err := r.U32(); err == nil {
		t.Fatal("expected ParseError on short buffer")
	}
	if r.Pos() != pos {
		t.Fatalf("cursor advanced on failed read: %d != %d", r.Pos(), pos)
	}
}

func TestWriterOutOfSpaceFailsWithoutAdvancing(t *testing.T) {
	w := NewWriter(make([]byte, 2))
	pos := w.Pos()
	if err := w.U32(1); err == nil {
		t.Fatal("expected error writing u32 into 2-byte buffer")
	}
	if w.Pos() != pos {
		t.Fatalf("cursor advanced on failed write: %d != %d", w.Pos(), pos)
	}
}

func TestCString(t *testing.T) {
	r := NewReader([]byte("public\x00rest"))
	s, err := r.CString()
	if err != nil {
		t.Fatalf("CString: %v", err)
	}
	if s != "public" {
		t.Fatalf("got %q", s)
	}
	if r.Remaining() != len("rest") {
		t.Fatalf("remaining = %d, want %d", r.Remaining(), len("rest"))
	}
}

func TestCStringUnterminated(t *testing.T) {
	r := NewReader([]byte("no-nul-here"))
	if _, err := r.CString(); err == nil {
		t.Fatal("expected error for unterminated cstring")
	}
}

func TestStringLengthPrefixed(t *testing.T) {
	tests := []struct {
		name    string
		buf     []byte
		want    string
		wantErr bool
	}{
		{"zero length", []byte{0, 0, 0, 0}, "", false},
		{"normal", []byte{0, 0, 0, 5, 'A', 'l', 'i', 'c', 'e'}, "Alice", false},
		{"negative length", []byte{0xFF, 0xFF, 0xFF, 0xFF}, "", true},
		{"over cap", []byte{0x00, 0x10, 0x00, 0x01}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(tt.buf)
			got, err := r.String()
			if tt.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.wantErr && got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStringOverCapFails(t *testing.T) {
	r := NewReader([]byte{0, 0, 0, 10})
	r.SetStringCap(4)
	if _, err := r.String(); err == nil {
		t.Fatal("expected ParseError for over-cap length")
	}
}

func TestLossyUTF8Replacement(t *testing.T) {
	r := NewReader([]byte{0xFF, 0xFE})
	s, err := r.CString()
	if err == nil {
		t.Fatalf("expected unterminated error, got string %q", s)
	}

	r2 := NewReader(append([]byte{0xFF, 0xFE}, 0))
	s2, err := r2.CString()
	if err != nil {
		t.Fatalf("CString: %v", err)
	}
	if len(s2) == 0 {
		t.Fatal("expected replacement characters, got empty string")
	}
}
