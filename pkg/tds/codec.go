package tds

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf16"
)

// Reader decodes TDS wire primitives from a byte stream. All multi-byte
// integers it reads are little-endian; the few big-endian fields (packet
// header, PRELOGIN option table, LOGINACK version) are handled where they occur.
type Reader struct {
	r       io.Reader
	scratch [8]byte
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Bytes reads exactly n bytes.
func (r *Reader) Bytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Byte reads a single byte.
func (r *Reader) Byte() (byte, error) {
	if _, err := io.ReadFull(r.r, r.scratch[:1]); err != nil {
		return 0, err
	}
	return r.scratch[0], nil
}

// Uint16 reads a little-endian uint16.
func (r *Reader) Uint16() (uint16, error) {
	if _, err := io.ReadFull(r.r, r.scratch[:2]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(r.scratch[:2]), nil
}

// Uint32 reads a little-endian uint32.
func (r *Reader) Uint32() (uint32, error) {
	if _, err := io.ReadFull(r.r, r.scratch[:4]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(r.scratch[:4]), nil
}

// Uint64 reads a little-endian uint64.
func (r *Reader) Uint64() (uint64, error) {
	if _, err := io.ReadFull(r.r, r.scratch[:8]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(r.scratch[:8]), nil
}

// Int32 reads a little-endian int32.
func (r *Reader) Int32() (int32, error) {
	v, err := r.Uint32()
	return int32(v), err
}

// BVarchar reads a B_VARCHAR: a one-byte character count followed by a
// UTF-16LE body.
func (r *Reader) BVarchar() (string, error) {
	n, err := r.Byte()
	if err != nil {
		return "", err
	}
	b, err := r.Bytes(int(n) * 2)
	if err != nil {
		return "", err
	}
	return UCS2ToString(b), nil
}

// UsVarchar reads a US_VARCHAR: a two-byte character count followed by a
// UTF-16LE body.
func (r *Reader) UsVarchar() (string, error) {
	n, err := r.Uint16()
	if err != nil {
		return "", err
	}
	b, err := r.Bytes(int(n) * 2)
	if err != nil {
		return "", err
	}
	return UCS2ToString(b), nil
}

// BVarbyte reads a B_VARBYTE: a one-byte length followed by that many bytes.
func (r *Reader) BVarbyte() ([]byte, error) {
	n, err := r.Byte()
	if err != nil {
		return nil, err
	}
	return r.Bytes(int(n))
}

// LongBVarbyte reads a two-byte length followed by that many bytes.
func (r *Reader) LongBVarbyte() ([]byte, error) {
	n, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	return r.Bytes(int(n))
}

// Write-side helpers. Requests are built in a bytes.Buffer before framing,
// so these never fail.

// PutUint16 appends a little-endian uint16.
func PutUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

// PutUint32 appends a little-endian uint32.
func PutUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

// PutUint64 appends a little-endian uint64.
func PutUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

// PutBVarchar appends a B_VARCHAR. The character count must fit one byte.
func PutBVarchar(buf *bytes.Buffer, s string) error {
	u := utf16.Encode([]rune(s))
	if len(u) > 0xFF {
		return fmt.Errorf("b_varchar too long: %d characters", len(u))
	}
	buf.WriteByte(byte(len(u)))
	for _, v := range u {
		PutUint16(buf, v)
	}
	return nil
}

// PutUsVarchar appends a US_VARCHAR.
func PutUsVarchar(buf *bytes.Buffer, s string) error {
	u := utf16.Encode([]rune(s))
	if len(u) > 0xFFFF {
		return fmt.Errorf("us_varchar too long: %d characters", len(u))
	}
	PutUint16(buf, uint16(len(u)))
	for _, v := range u {
		PutUint16(buf, v)
	}
	return nil
}

// PutBVarbyte appends a B_VARBYTE.
func PutBVarbyte(buf *bytes.Buffer, b []byte) error {
	if len(b) > 0xFF {
		return fmt.Errorf("b_varbyte too long: %d bytes", len(b))
	}
	buf.WriteByte(byte(len(b)))
	buf.Write(b)
	return nil
}

// UCS2ToString converts UCS-2 (UTF-16LE) bytes to a Go string. Surrogate
// pairs are combined; a trailing odd byte is dropped.
func UCS2ToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if len(b)%2 != 0 {
		b = b[:len(b)-1]
	}

	u16 := make([]uint16, len(b)/2)
	for i := 0; i < len(u16); i++ {
		u16[i] = binary.LittleEndian.Uint16(b[i*2:])
	}

	return string(utf16.Decode(u16))
}

// StringToUCS2 converts a Go string to UCS-2 (UTF-16LE) bytes. Runes outside
// the BMP become surrogate pairs.
func StringToUCS2(s string) []byte {
	u16 := utf16.Encode([]rune(s))
	b := make([]byte, len(u16)*2)
	for i, v := range u16 {
		binary.LittleEndian.PutUint16(b[i*2:], v)
	}
	return b
}
