package tds

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// PLP sentinels: an 8-byte total-length field that is all ones means NULL;
// all ones minus one means the total length is unknown and the chunk stream
// must be walked to its zero-length terminator.
const (
	plpNull    uint64 = 0xFFFFFFFFFFFFFFFF
	plpUnknown uint64 = 0xFFFFFFFFFFFFFFFE
)

// Null sentinels for the prefixed length families.
const (
	shortNull uint16 = 0xFFFF
	longNull  uint32 = 0xFFFFFFFF
)

// ReadValue reads the raw value bytes for one cell of this type from the
// row stream. A nil slice (with nil error) is a SQL NULL.
func (ti TypeInfo) ReadValue(r *Reader) ([]byte, error) {
	if size, ok := FixedSize(ti.Type); ok {
		if size == 0 {
			return nil, nil
		}
		return r.Bytes(int(size))
	}

	switch ti.Type {
	case TypeGUID, TypeIntN, TypeBitN, TypeFloatN, TypeMoneyN, TypeDateTimeN,
		TypeDecimal, TypeNumeric, TypeDecimalN, TypeNumericN,
		TypeDateN, TypeTimeN, TypeDateTime2N, TypeDateTimeOffsetN:
		size, err := r.Byte()
		if err != nil {
			return nil, err
		}
		if size == 0 || size == 0xFF {
			return nil, nil
		}
		return r.Bytes(int(size))

	case TypeChar, TypeVarChar, TypeBinary, TypeVarBinary,
		TypeBigVarBin, TypeBigBinary, TypeBigChar, TypeBigVarChar,
		TypeNChar, TypeNVarChar, TypeXML, TypeUDT:
		if ti.IsPLP() {
			return readPLP(r)
		}
		size, err := r.Uint16()
		if err != nil {
			return nil, err
		}
		if size == shortNull {
			return nil, nil
		}
		return r.Bytes(int(size))

	case TypeText, TypeNText, TypeImage:
		// The cell opens with a text pointer; an empty pointer is NULL.
		// A present pointer is followed by an 8-byte timestamp and the
		// 4-byte data length.
		ptr, err := r.BVarbyte()
		if err != nil {
			return nil, err
		}
		if len(ptr) == 0 {
			return nil, nil
		}
		if _, err := r.Uint64(); err != nil { // timestamp
			return nil, err
		}
		size, err := r.Uint32()
		if err != nil {
			return nil, err
		}
		if size == longNull {
			return nil, nil
		}
		return r.Bytes(int(size))

	case TypeSSVariant:
		size, err := r.Uint32()
		if err != nil {
			return nil, err
		}
		if size == 0 || size == longNull {
			return nil, nil
		}
		return r.Bytes(int(size))
	}

	return nil, fmt.Errorf("cannot read value of type %s", ti.Type)
}

// readPLP walks a partially length-prefixed value: an 8-byte total length
// (or sentinel), then chunks of u32 length + data terminated by a
// zero-length chunk. The known-length field is only a capacity hint; the
// chunk stream is authoritative.
func readPLP(r *Reader) ([]byte, error) {
	total, err := r.Uint64()
	if err != nil {
		return nil, err
	}

	var data []byte
	switch total {
	case plpNull:
		return nil, nil
	case plpUnknown:
		data = []byte{}
	default:
		// The known length is a capacity hint only; cap it so a bogus
		// header cannot drive allocation.
		hint := total
		if hint > 1<<20 {
			hint = 1 << 20
		}
		data = make([]byte, 0, int(hint))
	}

	for {
		size, err := r.Uint32()
		if err != nil {
			return nil, err
		}
		if size == 0 {
			return data, nil
		}
		chunk, err := r.Bytes(int(size))
		if err != nil {
			return nil, err
		}
		data = append(data, chunk...)
	}
}

// ValueEncoder writes a value body into buf and reports whether the value
// is NULL. When it returns true the bytes it wrote (if any) are discarded
// and the type's NULL sentinel is emitted instead.
type ValueEncoder func(buf *bytes.Buffer) bool

// WriteValue writes one value of this type: a length placeholder, the
// encoder output, then the back-patched length - or the NULL sentinel when
// the encoder signals null.
func (ti TypeInfo) WriteValue(buf *bytes.Buffer, enc ValueEncoder) error {
	if _, ok := FixedSize(ti.Type); ok {
		if null := enc(buf); null {
			return fmt.Errorf("%s does not support NULL; use the nullable variant", ti.Type)
		}
		return nil
	}

	switch ti.Type {
	case TypeGUID, TypeIntN, TypeBitN, TypeFloatN, TypeMoneyN, TypeDateTimeN,
		TypeDecimal, TypeNumeric, TypeDecimalN, TypeNumericN,
		TypeDateN, TypeTimeN, TypeDateTime2N, TypeDateTimeOffsetN:
		offset := buf.Len()
		buf.WriteByte(0)
		if null := enc(buf); null {
			buf.Truncate(offset + 1)
			return nil
		}
		size := buf.Len() - offset - 1
		if size > 0xFE {
			return fmt.Errorf("%s value too long: %d bytes", ti.Type, size)
		}
		buf.Bytes()[offset] = byte(size)
		return nil

	case TypeChar, TypeVarChar, TypeBinary, TypeVarBinary,
		TypeBigVarBin, TypeBigBinary, TypeBigChar, TypeBigVarChar,
		TypeNChar, TypeNVarChar, TypeXML, TypeUDT:
		if ti.IsPLP() {
			return writePLP(buf, enc)
		}
		offset := buf.Len()
		PutUint16(buf, 0)
		if null := enc(buf); null {
			buf.Truncate(offset)
			PutUint16(buf, shortNull)
			return nil
		}
		size := buf.Len() - offset - 2
		if size >= int(shortNull) {
			return fmt.Errorf("%s value too long: %d bytes", ti.Type, size)
		}
		binary.LittleEndian.PutUint16(buf.Bytes()[offset:], uint16(size))
		return nil

	case TypeText, TypeNText, TypeImage, TypeSSVariant:
		offset := buf.Len()
		PutUint32(buf, 0)
		if null := enc(buf); null {
			buf.Truncate(offset)
			PutUint32(buf, longNull)
			return nil
		}
		size := buf.Len() - offset - 4
		binary.LittleEndian.PutUint32(buf.Bytes()[offset:], uint32(size))
		return nil
	}

	return fmt.Errorf("cannot write value of type %s", ti.Type)
}

// writePLP emits a PLP stream. The total length is left unknown: the byte
// length of the body cannot be predicted cheaply for character data, so the
// server is left to walk the chunk stream, exactly as it must for any
// streaming client.
func writePLP(buf *bytes.Buffer, enc ValueEncoder) error {
	var body bytes.Buffer
	if null := enc(&body); null {
		PutUint64(buf, plpNull)
		return nil
	}

	PutUint64(buf, plpUnknown)
	if body.Len() > 0 {
		PutUint32(buf, uint32(body.Len()))
		buf.Write(body.Bytes())
	}
	PutUint32(buf, 0)
	return nil
}
