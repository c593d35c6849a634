package tds

import (
	"bytes"
	"testing"
)

func TestUCS2RoundTrip(t *testing.T) {
	tests := []string{
		"",
		"SELECT 1",
		"héllo wörld",
		"日本語",
		"emoji \U0001F600 pair", // surrogate pair
	}

	for _, s := range tests {
		got := UCS2ToString(StringToUCS2(s))
		if got != s {
			t.Errorf("UCS2 round trip of %q = %q", s, got)
		}
	}
}

func TestBVarcharRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := PutBVarchar(&buf, "colname"); err != nil {
		t.Fatalf("PutBVarchar failed: %v", err)
	}

	r := NewReader(&buf)
	got, err := r.BVarchar()
	if err != nil {
		t.Fatalf("BVarchar failed: %v", err)
	}
	if got != "colname" {
		t.Errorf("BVarchar = %q, want %q", got, "colname")
	}
}

func TestUsVarcharRoundTrip(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = byte('a' + i%26)
	}
	s := string(long)

	var buf bytes.Buffer
	if err := PutUsVarchar(&buf, s); err != nil {
		t.Fatalf("PutUsVarchar failed: %v", err)
	}

	r := NewReader(&buf)
	got, err := r.UsVarchar()
	if err != nil {
		t.Fatalf("UsVarchar failed: %v", err)
	}
	if got != s {
		t.Errorf("UsVarchar round trip failed: %d chars, want %d", len(got), len(s))
	}
}

func TestBVarcharTooLong(t *testing.T) {
	var buf bytes.Buffer
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	if err := PutBVarchar(&buf, string(long)); err == nil {
		t.Error("PutBVarchar should reject strings over 255 characters")
	}
}

func TestBVarbyteRoundTrip(t *testing.T) {
	data := []byte{0x01, 0x02, 0xFF, 0x00, 0x7F}

	var buf bytes.Buffer
	if err := PutBVarbyte(&buf, data); err != nil {
		t.Fatalf("PutBVarbyte failed: %v", err)
	}

	r := NewReader(&buf)
	got, err := r.BVarbyte()
	if err != nil {
		t.Fatalf("BVarbyte failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("BVarbyte = %x, want %x", got, data)
	}
}

func TestReaderPrimitives(t *testing.T) {
	var buf bytes.Buffer
	PutUint16(&buf, 0x0102)
	PutUint32(&buf, 0x03040506)
	PutUint64(&buf, 0x0708090A0B0C0D0E)

	// All little-endian on the wire.
	want := []byte{0x02, 0x01, 0x06, 0x05, 0x04, 0x03, 0x0E, 0x0D, 0x0C, 0x0B, 0x0A, 0x09, 0x08, 0x07}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("encoded = %x, want %x", buf.Bytes(), want)
	}

	r := NewReader(&buf)
	if v, _ := r.Uint16(); v != 0x0102 {
		t.Errorf("Uint16 = %04x, want 0102", v)
	}
	if v, _ := r.Uint32(); v != 0x03040506 {
		t.Errorf("Uint32 = %08x, want 03040506", v)
	}
	if v, _ := r.Uint64(); v != 0x0708090A0B0C0D0E {
		t.Errorf("Uint64 = %016x", v)
	}
}
