package tds

import (
	"bytes"
	"testing"
)

func encodeValue(t *testing.T, ti TypeInfo, body []byte, null bool) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	err := ti.WriteValue(&buf, func(b *bytes.Buffer) bool {
		if null {
			return true
		}
		b.Write(body)
		return false
	})
	if err != nil {
		t.Fatalf("WriteValue(%s) failed: %v", ti.Type, err)
	}
	return &buf
}

func TestValueRoundTripFixed(t *testing.T) {
	ti := TypeInfo{Type: TypeInt4, Size: 4}
	body := []byte{0x01, 0x00, 0x00, 0x00}

	buf := encodeValue(t, ti, body, false)
	got, err := ti.ReadValue(NewReader(buf))
	if err != nil {
		t.Fatalf("ReadValue failed: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Errorf("ReadValue = %x, want %x", got, body)
	}
}

func TestValueRoundTripByteLength(t *testing.T) {
	tests := []struct {
		ti   TypeInfo
		body []byte
	}{
		{TypeInfo{Type: TypeIntN, Size: 4}, []byte{0x2A, 0x00, 0x00, 0x00}},
		{TypeInfo{Type: TypeIntN, Size: 8}, []byte{1, 2, 3, 4, 5, 6, 7, 8}},
		{TypeInfo{Type: TypeBitN, Size: 1}, []byte{1}},
		{TypeInfo{Type: TypeGUID, Size: 16}, bytes.Repeat([]byte{0xAB}, 16)},
		{TypeInfo{Type: TypeDecimalN, Size: 9, Precision: 18, Scale: 4}, []byte{0x00, 0x4E, 0x61, 0xBC, 0x00, 0, 0, 0, 0}},
		{TypeInfo{Type: TypeDateN, Size: 3}, []byte{0x0A, 0x0B, 0x0C}},
	}

	for _, tt := range tests {
		buf := encodeValue(t, tt.ti, tt.body, false)

		// The byte-length family carries a one-byte size prefix.
		if buf.Bytes()[0] != byte(len(tt.body)) {
			t.Errorf("%s: length prefix = %d, want %d", tt.ti.Type, buf.Bytes()[0], len(tt.body))
		}

		got, err := tt.ti.ReadValue(NewReader(buf))
		if err != nil {
			t.Fatalf("ReadValue(%s) failed: %v", tt.ti.Type, err)
		}
		if !bytes.Equal(got, tt.body) {
			t.Errorf("%s: ReadValue = %x, want %x", tt.ti.Type, got, tt.body)
		}
	}
}

func TestValueNullByteLength(t *testing.T) {
	ti := TypeInfo{Type: TypeIntN, Size: 4}

	buf := encodeValue(t, ti, nil, true)
	if !bytes.Equal(buf.Bytes(), []byte{0x00}) {
		t.Fatalf("NULL encoding = %x, want 00", buf.Bytes())
	}

	got, err := ti.ReadValue(NewReader(buf))
	if err != nil {
		t.Fatalf("ReadValue failed: %v", err)
	}
	if got != nil {
		t.Errorf("ReadValue = %x, want nil", got)
	}

	// 0xFF also reads as NULL.
	ff := bytes.NewBuffer([]byte{0xFF})
	got, err = ti.ReadValue(NewReader(ff))
	if err != nil {
		t.Fatalf("ReadValue(0xFF) failed: %v", err)
	}
	if got != nil {
		t.Errorf("ReadValue(0xFF) = %x, want nil", got)
	}
}

func TestValueRoundTripShortLength(t *testing.T) {
	ti := TypeInfo{Type: TypeNVarChar, Size: 200, Collation: &DefaultCollation}
	body := StringToUCS2("hello")

	buf := encodeValue(t, ti, body, false)
	got, err := ti.ReadValue(NewReader(buf))
	if err != nil {
		t.Fatalf("ReadValue failed: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Errorf("ReadValue = %x, want %x", got, body)
	}
}

func TestValueNullShortLength(t *testing.T) {
	ti := TypeInfo{Type: TypeNVarChar, Size: 200, Collation: &DefaultCollation}

	buf := encodeValue(t, ti, nil, true)
	if !bytes.Equal(buf.Bytes(), []byte{0xFF, 0xFF}) {
		t.Fatalf("NULL encoding = %x, want ffff", buf.Bytes())
	}

	got, err := ti.ReadValue(NewReader(buf))
	if err != nil {
		t.Fatalf("ReadValue failed: %v", err)
	}
	if got != nil {
		t.Errorf("ReadValue = %x, want nil", got)
	}
}

func TestValueRoundTripPLP(t *testing.T) {
	ti := TypeInfo{Type: TypeBigVarBin, Size: 0}
	body := []byte{0x01, 0x02, 0xFF}

	buf := encodeValue(t, ti, body, false)

	// Unknown total length, one chunk, zero terminator.
	want := []byte{
		0xFE, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
		0x03, 0x00, 0x00, 0x00,
		0x01, 0x02, 0xFF,
		0x00, 0x00, 0x00, 0x00,
	}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("PLP encoding = %x, want %x", buf.Bytes(), want)
	}

	got, err := ti.ReadValue(NewReader(buf))
	if err != nil {
		t.Fatalf("ReadValue failed: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Errorf("ReadValue = %x, want %x", got, body)
	}
}

func TestValuePLPMultiChunk(t *testing.T) {
	ti := TypeInfo{Type: TypeNVarChar, Size: 0xFFFF, Collation: &DefaultCollation}

	// Known total length, three chunks.
	var wire bytes.Buffer
	PutUint64(&wire, 9)
	PutUint32(&wire, 4)
	wire.Write([]byte{1, 2, 3, 4})
	PutUint32(&wire, 3)
	wire.Write([]byte{5, 6, 7})
	PutUint32(&wire, 2)
	wire.Write([]byte{8, 9})
	PutUint32(&wire, 0)

	got, err := ti.ReadValue(NewReader(&wire))
	if err != nil {
		t.Fatalf("ReadValue failed: %v", err)
	}
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}
	if !bytes.Equal(got, want) {
		t.Errorf("ReadValue = %x, want %x", got, want)
	}
}

func TestValuePLPNull(t *testing.T) {
	ti := TypeInfo{Type: TypeBigVarBin, Size: 0}

	buf := encodeValue(t, ti, nil, true)
	want := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("PLP NULL encoding = %x, want %x", buf.Bytes(), want)
	}

	got, err := ti.ReadValue(NewReader(buf))
	if err != nil {
		t.Fatalf("ReadValue failed: %v", err)
	}
	if got != nil {
		t.Errorf("ReadValue = %x, want nil", got)
	}
}

func TestValuePLPEmpty(t *testing.T) {
	ti := TypeInfo{Type: TypeBigVarBin, Size: 0}

	buf := encodeValue(t, ti, []byte{}, false)

	got, err := ti.ReadValue(NewReader(buf))
	if err != nil {
		t.Fatalf("ReadValue failed: %v", err)
	}
	if got == nil {
		t.Fatal("empty PLP value decoded as NULL")
	}
	if len(got) != 0 {
		t.Errorf("ReadValue = %x, want empty", got)
	}
}

func TestValueTextPointer(t *testing.T) {
	ti := TypeInfo{Type: TypeText, Size: 0x7FFFFFFF, Collation: &DefaultCollation}

	// A populated TEXT cell: text pointer, timestamp, length, data.
	var wire bytes.Buffer
	PutBVarbyte(&wire, bytes.Repeat([]byte{0xAA}, 16))
	PutUint64(&wire, 0x1122334455667788)
	PutUint32(&wire, 5)
	wire.WriteString("hello")

	got, err := ti.ReadValue(NewReader(&wire))
	if err != nil {
		t.Fatalf("ReadValue failed: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("ReadValue = %q, want %q", got, "hello")
	}

	// An empty text pointer is NULL.
	var nullWire bytes.Buffer
	nullWire.WriteByte(0)

	got, err = ti.ReadValue(NewReader(&nullWire))
	if err != nil {
		t.Fatalf("ReadValue(null) failed: %v", err)
	}
	if got != nil {
		t.Errorf("ReadValue(null) = %x, want nil", got)
	}
}

func TestValueFixedRejectsNull(t *testing.T) {
	ti := TypeInfo{Type: TypeInt4, Size: 4}

	var buf bytes.Buffer
	err := ti.WriteValue(&buf, func(b *bytes.Buffer) bool { return true })
	if err == nil {
		t.Error("WriteValue should reject NULL for a fixed-length type")
	}
}
