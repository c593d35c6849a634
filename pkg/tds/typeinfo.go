package tds

import (
	"bytes"
	"fmt"
	"strconv"
)

// SQL Server data type constants. The values are the exact TDS wire bytes.
type SQLType uint8

const (
	TypeNull      SQLType = 0x1F // 31
	TypeInt1      SQLType = 0x30 // 48  - tinyint
	TypeBit       SQLType = 0x32 // 50
	TypeInt2      SQLType = 0x34 // 52  - smallint
	TypeInt4      SQLType = 0x38 // 56  - int
	TypeDateTime4 SQLType = 0x3A // 58  - smalldatetime
	TypeFloat4    SQLType = 0x3B // 59  - real
	TypeMoney     SQLType = 0x3C // 60
	TypeDateTime  SQLType = 0x3D // 61
	TypeFloat8    SQLType = 0x3E // 62  - float
	TypeMoney4    SQLType = 0x7A // 122 - smallmoney
	TypeInt8      SQLType = 0x7F // 127 - bigint

	// Variable length types
	TypeGUID            SQLType = 0x24 // 36
	TypeIntN            SQLType = 0x26 // 38
	TypeDecimal         SQLType = 0x37 // 55  - (legacy)
	TypeNumeric         SQLType = 0x3F // 63  - (legacy)
	TypeBitN            SQLType = 0x68 // 104
	TypeDecimalN        SQLType = 0x6A // 106
	TypeNumericN        SQLType = 0x6C // 108
	TypeFloatN          SQLType = 0x6D // 109
	TypeMoneyN          SQLType = 0x6E // 110
	TypeDateTimeN       SQLType = 0x6F // 111
	TypeDateN           SQLType = 0x28 // 40
	TypeTimeN           SQLType = 0x29 // 41
	TypeDateTime2N      SQLType = 0x2A // 42
	TypeDateTimeOffsetN SQLType = 0x2B // 43

	// Legacy string/binary types, read and written here with a 2-byte length
	TypeChar      SQLType = 0x2F // 47
	TypeVarChar   SQLType = 0x27 // 39
	TypeBinary    SQLType = 0x2D // 45
	TypeVarBinary SQLType = 0x25 // 37

	// Large types (2-byte length)
	TypeBigVarBin  SQLType = 0xA5 // 165
	TypeBigVarChar SQLType = 0xA7 // 167
	TypeBigBinary  SQLType = 0xAD // 173
	TypeBigChar    SQLType = 0xAF // 175
	TypeNVarChar   SQLType = 0xE7 // 231
	TypeNChar      SQLType = 0xEF // 239
	TypeXML        SQLType = 0xF1 // 241
	TypeUDT        SQLType = 0xF0 // 240

	// Long types (4-byte length or PLP)
	TypeText      SQLType = 0x23 // 35
	TypeImage     SQLType = 0x22 // 34
	TypeNText     SQLType = 0x63 // 99
	TypeSSVariant SQLType = 0x62 // 98
)

func (t SQLType) String() string {
	switch t {
	case TypeNull:
		return "NULL"
	case TypeInt1:
		return "TINYINT"
	case TypeBit:
		return "BIT"
	case TypeInt2:
		return "SMALLINT"
	case TypeInt4:
		return "INT"
	case TypeInt8:
		return "BIGINT"
	case TypeFloat4:
		return "REAL"
	case TypeFloat8:
		return "FLOAT"
	case TypeDateTime:
		return "DATETIME"
	case TypeDateTime4:
		return "SMALLDATETIME"
	case TypeMoney:
		return "MONEY"
	case TypeMoney4:
		return "SMALLMONEY"
	case TypeGUID:
		return "UNIQUEIDENTIFIER"
	case TypeIntN:
		return "INTN"
	case TypeBitN:
		return "BITN"
	case TypeFloatN:
		return "FLOATN"
	case TypeMoneyN:
		return "MONEYN"
	case TypeDateTimeN:
		return "DATETIMEN"
	case TypeDateN:
		return "DATE"
	case TypeTimeN:
		return "TIME"
	case TypeDateTime2N:
		return "DATETIME2"
	case TypeDateTimeOffsetN:
		return "DATETIMEOFFSET"
	case TypeDecimal, TypeDecimalN:
		return "DECIMAL"
	case TypeNumeric, TypeNumericN:
		return "NUMERIC"
	case TypeChar, TypeBigChar:
		return "CHAR"
	case TypeVarChar, TypeBigVarChar:
		return "VARCHAR"
	case TypeBinary, TypeBigBinary:
		return "BINARY"
	case TypeVarBinary, TypeBigVarBin:
		return "VARBINARY"
	case TypeNVarChar:
		return "NVARCHAR"
	case TypeNChar:
		return "NCHAR"
	case TypeText:
		return "TEXT"
	case TypeNText:
		return "NTEXT"
	case TypeImage:
		return "IMAGE"
	case TypeXML:
		return "XML"
	case TypeUDT:
		return "UDT"
	case TypeSSVariant:
		return "SQL_VARIANT"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(t))
	}
}

// MaxSize is the sentinel carried in the size field of a character or
// binary TypeInfo declared with MAX.
const MaxSize uint32 = 0xFFFF

// TypeInfo identifies a column or parameter datatype.
type TypeInfo struct {
	Type      SQLType
	Size      uint32
	Scale     uint8 // decimal/numeric and the time family only
	Precision uint8 // decimal/numeric only
	Collation *Collation
}

// FixedSize reports the wire size of a fixed-length type and whether t is
// fixed-length at all.
func FixedSize(t SQLType) (uint32, bool) {
	switch t {
	case TypeNull:
		return 0, true
	case TypeInt1, TypeBit:
		return 1, true
	case TypeInt2:
		return 2, true
	case TypeInt4, TypeDateTime4, TypeFloat4, TypeMoney4:
		return 4, true
	case TypeInt8, TypeMoney, TypeDateTime, TypeFloat8:
		return 8, true
	}
	return 0, false
}

// timeSize returns the wire size of the time portion for a given scale:
// scales 0-2 take 3 bytes, 3-4 take 4, 5-7 take 5.
func timeSize(scale uint8) (uint32, error) {
	switch {
	case scale <= 2:
		return 3, nil
	case scale <= 4:
		return 4, nil
	case scale <= 7:
		return 5, nil
	}
	return 0, fmt.Errorf("invalid time scale %d", scale)
}

// ParseTypeInfo reads a TYPE_INFO stream element: the 1-byte type tag
// followed by the tag-specific preamble.
func ParseTypeInfo(r *Reader) (TypeInfo, error) {
	tag, err := r.Byte()
	if err != nil {
		return TypeInfo{}, err
	}
	ty := SQLType(tag)

	if size, ok := FixedSize(ty); ok {
		return TypeInfo{Type: ty, Size: size}, nil
	}

	switch ty {
	case TypeDateN:
		return TypeInfo{Type: ty, Size: 3}, nil

	case TypeTimeN, TypeDateTime2N, TypeDateTimeOffsetN:
		scale, err := r.Byte()
		if err != nil {
			return TypeInfo{}, err
		}
		size, err := timeSize(scale)
		if err != nil {
			return TypeInfo{}, fmt.Errorf("%v for type %s", err, ty)
		}
		switch ty {
		case TypeDateTime2N:
			size += 3
		case TypeDateTimeOffsetN:
			size += 5
		}
		return TypeInfo{Type: ty, Size: size, Scale: scale}, nil

	case TypeGUID, TypeIntN, TypeBitN, TypeFloatN, TypeMoneyN, TypeDateTimeN:
		size, err := r.Byte()
		if err != nil {
			return TypeInfo{}, err
		}
		return TypeInfo{Type: ty, Size: uint32(size)}, nil

	case TypeDecimal, TypeNumeric, TypeDecimalN, TypeNumericN:
		size, err := r.Byte()
		if err != nil {
			return TypeInfo{}, err
		}
		precision, err := r.Byte()
		if err != nil {
			return TypeInfo{}, err
		}
		scale, err := r.Byte()
		if err != nil {
			return TypeInfo{}, err
		}
		return TypeInfo{Type: ty, Size: uint32(size), Precision: precision, Scale: scale}, nil

	case TypeBinary, TypeVarBinary, TypeBigVarBin, TypeBigBinary, TypeXML, TypeUDT:
		size, err := r.Uint16()
		if err != nil {
			return TypeInfo{}, err
		}
		return TypeInfo{Type: ty, Size: uint32(size)}, nil

	case TypeChar, TypeVarChar, TypeBigChar, TypeBigVarChar, TypeNChar, TypeNVarChar:
		size, err := r.Uint16()
		if err != nil {
			return TypeInfo{}, err
		}
		coll, err := ParseCollation(r)
		if err != nil {
			return TypeInfo{}, err
		}
		return TypeInfo{Type: ty, Size: uint32(size), Collation: &coll}, nil

	case TypeText, TypeNText, TypeImage:
		size, err := r.Uint32()
		if err != nil {
			return TypeInfo{}, err
		}
		ti := TypeInfo{Type: ty, Size: size}
		if ty != TypeImage {
			coll, err := ParseCollation(r)
			if err != nil {
				return TypeInfo{}, err
			}
			ti.Collation = &coll
		}
		// Table name: a part count followed by that many US_VARCHAR parts.
		parts, err := r.Byte()
		if err != nil {
			return TypeInfo{}, err
		}
		for i := 0; i < int(parts); i++ {
			if _, err := r.UsVarchar(); err != nil {
				return TypeInfo{}, err
			}
		}
		return ti, nil

	case TypeSSVariant:
		size, err := r.Uint32()
		if err != nil {
			return TypeInfo{}, err
		}
		return TypeInfo{Type: ty, Size: size}, nil
	}

	return TypeInfo{}, fmt.Errorf("unknown data type 0x%02x", tag)
}

// isMax reports whether a character or binary TypeInfo must be encoded as
// MAX: size zero or above the 4000-character (N-variants) / 8000-byte cap.
func (ti TypeInfo) isMax() bool {
	switch ti.Type {
	case TypeNVarChar, TypeNChar:
		return ti.Size == 0 || ti.Size > 8000 // size is in bytes, 4000 chars
	case TypeChar, TypeVarChar, TypeBigChar, TypeBigVarChar,
		TypeBinary, TypeVarBinary, TypeBigBinary, TypeBigVarBin:
		return ti.Size == 0 || ti.Size > 8000
	}
	return false
}

// IsPLP reports whether values of this type use the partially
// length-prefixed chunk encoding.
func (ti TypeInfo) IsPLP() bool {
	switch ti.Type {
	case TypeBigVarBin, TypeBigBinary, TypeNVarChar, TypeNChar, TypeBigVarChar, TypeBigChar:
		return ti.isMax()
	}
	return false
}

func (ti TypeInfo) encodeCollation(buf *bytes.Buffer) {
	if ti.Collation != nil {
		ti.Collation.Encode(buf)
	} else {
		DefaultCollation.Encode(buf)
	}
}

// Encode writes the TYPE_INFO element: the inverse of ParseTypeInfo.
// Character and binary types encode as MAX when the size is zero or exceeds
// the short-length cap.
func (ti TypeInfo) Encode(buf *bytes.Buffer) {
	buf.WriteByte(byte(ti.Type))

	if _, ok := FixedSize(ti.Type); ok {
		return
	}

	switch ti.Type {
	case TypeDateN:
		// no preamble

	case TypeTimeN, TypeDateTime2N, TypeDateTimeOffsetN:
		buf.WriteByte(ti.Scale)

	case TypeGUID, TypeIntN, TypeBitN, TypeFloatN, TypeMoneyN, TypeDateTimeN:
		buf.WriteByte(byte(ti.Size))

	case TypeDecimal, TypeNumeric, TypeDecimalN, TypeNumericN:
		buf.WriteByte(byte(ti.Size))
		buf.WriteByte(ti.Precision)
		buf.WriteByte(ti.Scale)

	case TypeBinary, TypeVarBinary, TypeBigVarBin, TypeBigBinary, TypeXML, TypeUDT:
		if ti.isMax() {
			PutUint16(buf, uint16(MaxSize))
		} else {
			PutUint16(buf, uint16(ti.Size))
		}

	case TypeChar, TypeVarChar, TypeBigChar, TypeBigVarChar, TypeNChar, TypeNVarChar:
		if ti.isMax() {
			PutUint16(buf, uint16(MaxSize))
		} else {
			PutUint16(buf, uint16(ti.Size))
		}
		ti.encodeCollation(buf)

	case TypeText, TypeNText, TypeImage:
		PutUint32(buf, ti.Size)
		if ti.Type != TypeImage {
			ti.encodeCollation(buf)
		}
		buf.WriteByte(0) // no table name parts

	case TypeSSVariant:
		PutUint32(buf, ti.Size)
	}
}

// Name returns the display name for the type, resolving the nullable
// wrappers to their concrete SQL names where the size disambiguates.
func (ti TypeInfo) Name() string {
	switch ti.Type {
	case TypeIntN:
		switch ti.Size {
		case 1:
			return "TINYINT"
		case 2:
			return "SMALLINT"
		case 4:
			return "INT"
		case 8:
			return "BIGINT"
		}
	case TypeFloatN:
		if ti.Size == 4 {
			return "REAL"
		}
		return "FLOAT"
	case TypeMoneyN:
		if ti.Size == 4 {
			return "SMALLMONEY"
		}
		return "MONEY"
	case TypeDateTimeN:
		if ti.Size == 4 {
			return "SMALLDATETIME"
		}
		return "DATETIME"
	case TypeBitN:
		return "BIT"
	}
	return ti.Type.String()
}

// Declaration returns the T-SQL declaration for the type, as used in the
// parameter list passed to sp_executesql.
func (ti TypeInfo) Declaration() string {
	switch ti.Type {
	case TypeNull:
		return "nvarchar(1)"
	case TypeInt1:
		return "tinyint"
	case TypeInt2:
		return "smallint"
	case TypeInt4:
		return "int"
	case TypeInt8:
		return "bigint"
	case TypeFloat4:
		return "real"
	case TypeFloat8:
		return "float"
	case TypeBit, TypeBitN:
		return "bit"
	case TypeMoney, TypeMoneyN:
		return "money"
	case TypeMoney4:
		return "smallmoney"
	case TypeDateTime, TypeDateTimeN:
		return "datetime"
	case TypeDateTime4:
		return "smalldatetime"
	case TypeGUID:
		return "uniqueidentifier"

	case TypeIntN:
		switch ti.Size {
		case 1:
			return "tinyint"
		case 2:
			return "smallint"
		case 8:
			return "bigint"
		}
		return "int"

	case TypeFloatN:
		if ti.Size == 4 {
			return "real"
		}
		return "float"

	case TypeDateN:
		return "date"
	case TypeTimeN:
		return "time(" + strconv.Itoa(int(ti.Scale)) + ")"
	case TypeDateTime2N:
		return "datetime2(" + strconv.Itoa(int(ti.Scale)) + ")"
	case TypeDateTimeOffsetN:
		return "datetimeoffset(" + strconv.Itoa(int(ti.Scale)) + ")"

	case TypeDecimal, TypeDecimalN:
		return "decimal(" + strconv.Itoa(int(ti.Precision)) + "," + strconv.Itoa(int(ti.Scale)) + ")"
	case TypeNumeric, TypeNumericN:
		return "numeric(" + strconv.Itoa(int(ti.Precision)) + "," + strconv.Itoa(int(ti.Scale)) + ")"

	case TypeChar, TypeBigChar:
		return sizedDecl("char", ti.Size, 8000)
	case TypeVarChar, TypeBigVarChar:
		return sizedDecl("varchar", ti.Size, 8000)
	case TypeNChar:
		return sizedDecl("nchar", ti.Size/2, 4000)
	case TypeNVarChar:
		return sizedDecl("nvarchar", ti.Size/2, 4000)
	case TypeBinary, TypeBigBinary:
		return sizedDecl("binary", ti.Size, 8000)
	case TypeVarBinary, TypeBigVarBin:
		return sizedDecl("varbinary", ti.Size, 8000)

	case TypeText:
		return "text"
	case TypeNText:
		return "ntext"
	case TypeImage:
		return "image"
	case TypeXML:
		return "xml"
	case TypeSSVariant:
		return "sql_variant"
	}
	return ti.Type.String()
}

func sizedDecl(name string, size uint32, cap uint32) string {
	if size == 0 || size > cap {
		return name + "(max)"
	}
	return name + "(" + strconv.Itoa(int(size)) + ")"
}

// Encoding identifies the character encoding of a text type's wire data.
type Encoding int

const (
	// EncodingNone marks non-character types.
	EncodingNone Encoding = iota
	// EncodingUTF16 marks the N-variants and NTEXT.
	EncodingUTF16
	// EncodingCollation marks legacy character types whose code page is
	// chosen by the collation locale.
	EncodingCollation
)

// Encoding reports how character data of this type is encoded on the wire.
func (ti TypeInfo) Encoding() Encoding {
	switch ti.Type {
	case TypeNChar, TypeNVarChar, TypeNText, TypeXML:
		return EncodingUTF16
	case TypeChar, TypeVarChar, TypeBigChar, TypeBigVarChar, TypeText:
		return EncodingCollation
	}
	return EncodingNone
}

// DecodeString decodes the raw wire bytes of a character cell into a Go
// string, honouring the type's encoding and collation. Character types read
// from the wire always carry a collation; a missing one is a protocol
// violation reported by the caller.
func (ti TypeInfo) DecodeString(b []byte) (string, error) {
	switch ti.Encoding() {
	case EncodingUTF16:
		return UCS2ToString(b), nil
	case EncodingCollation:
		if ti.Collation == nil {
			return "", fmt.Errorf("%s column without collation", ti.Type)
		}
		return ti.Collation.DecodeString(b)
	}
	return "", fmt.Errorf("%s is not a character type", ti.Type)
}
