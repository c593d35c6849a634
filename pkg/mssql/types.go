package mssql

import (
	"bytes"
	"encoding/binary"
	"math"
	"math/big"
	"time"

	"github.com/golang-sql/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ha1tch/mstds/pkg/errors"
	"github.com/ha1tch/mstds/pkg/tds"
)

// Wire epochs. DATETIME counts days from 1900-01-01; the DATE family
// counts days from 0001-01-01.
var (
	epoch1900 = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)
	epoch0001 = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)
)

var pow10 = [...]uint64{1, 10, 100, 1000, 10000, 100000, 1000000, 10000000, 100000000, 1000000000}

// bindValue maps a Go value to its parameter TypeInfo and value encoder.
func bindValue(value interface{}) (tds.TypeInfo, tds.ValueEncoder, error) {
	switch v := value.(type) {
	case nil:
		return tds.TypeInfo{Type: tds.TypeNVarChar, Size: 2, Collation: &tds.DefaultCollation},
			func(buf *bytes.Buffer) bool { return true }, nil

	case bool:
		return tds.TypeInfo{Type: tds.TypeBitN, Size: 1},
			func(buf *bytes.Buffer) bool {
				if v {
					buf.WriteByte(1)
				} else {
					buf.WriteByte(0)
				}
				return false
			}, nil

	case int:
		return bindInt64(int64(v), 8)
	case int8:
		return bindInt64(int64(v), 2)
	case int16:
		return bindInt64(int64(v), 2)
	case int32:
		return bindInt64(int64(v), 4)
	case int64:
		return bindInt64(v, 8)

	case float32:
		return tds.TypeInfo{Type: tds.TypeFloatN, Size: 4},
			func(buf *bytes.Buffer) bool {
				tds.PutUint32(buf, math.Float32bits(v))
				return false
			}, nil

	case float64:
		return tds.TypeInfo{Type: tds.TypeFloatN, Size: 8},
			func(buf *bytes.Buffer) bool {
				tds.PutUint64(buf, math.Float64bits(v))
				return false
			}, nil

	case string:
		body := tds.StringToUCS2(v)
		size := uint32(len(body))
		if size == 0 {
			// An empty string still needs a non-zero declared size.
			size = 2
		}
		return tds.TypeInfo{Type: tds.TypeNVarChar, Size: size, Collation: &tds.DefaultCollation},
			func(buf *bytes.Buffer) bool {
				buf.Write(body)
				return false
			}, nil

	case []byte:
		size := uint32(len(v))
		if size == 0 {
			size = 1
		}
		return tds.TypeInfo{Type: tds.TypeBigVarBin, Size: size},
			func(buf *bytes.Buffer) bool {
				buf.Write(v)
				return false
			}, nil

	case time.Time:
		return tds.TypeInfo{Type: tds.TypeDateTimeOffsetN, Size: 10, Scale: 7},
			func(buf *bytes.Buffer) bool {
				encodeDateTimeOffset(buf, v)
				return false
			}, nil

	case civil.Date:
		return tds.TypeInfo{Type: tds.TypeDateN, Size: 3},
			func(buf *bytes.Buffer) bool {
				encodeDate(buf, v)
				return false
			}, nil

	case civil.Time:
		return tds.TypeInfo{Type: tds.TypeTimeN, Size: 5, Scale: 7},
			func(buf *bytes.Buffer) bool {
				encodeTime(buf, v)
				return false
			}, nil

	case civil.DateTime:
		return tds.TypeInfo{Type: tds.TypeDateTime2N, Size: 8, Scale: 7},
			func(buf *bytes.Buffer) bool {
				encodeTime(buf, v.Time)
				encodeDate(buf, v.Date)
				return false
			}, nil

	case decimal.Decimal:
		scale := int32(0)
		if v.Exponent() < 0 {
			scale = -v.Exponent()
		}
		if scale > 38 {
			scale = 38
		}
		return tds.TypeInfo{Type: tds.TypeDecimalN, Size: 17, Precision: 38, Scale: uint8(scale)},
			func(buf *bytes.Buffer) bool {
				encodeDecimal(buf, v, scale)
				return false
			}, nil

	case uuid.UUID:
		return tds.TypeInfo{Type: tds.TypeGUID, Size: 16},
			func(buf *bytes.Buffer) bool {
				buf.Write(guidToWire(v))
				return false
			}, nil
	}

	return tds.TypeInfo{}, nil, errors.Newf(errors.ErrCodeExecFailed, "cannot bind value of type %T", value)
}

func bindInt64(v int64, size uint32) (tds.TypeInfo, tds.ValueEncoder, error) {
	return tds.TypeInfo{Type: tds.TypeIntN, Size: size},
		func(buf *bytes.Buffer) bool {
			switch size {
			case 2:
				tds.PutUint16(buf, uint16(int16(v)))
			case 4:
				tds.PutUint32(buf, uint32(int32(v)))
			default:
				tds.PutUint64(buf, uint64(v))
			}
			return false
		}, nil
}

// encodeDate writes the 3-byte day count since 0001-01-01.
func encodeDate(buf *bytes.Buffer, d civil.Date) {
	days := daysSinceEpoch0001(d)
	buf.WriteByte(byte(days))
	buf.WriteByte(byte(days >> 8))
	buf.WriteByte(byte(days >> 16))
}

// encodeTime writes the 5-byte tick count at scale 7 (100ns units).
func encodeTime(buf *bytes.Buffer, t civil.Time) {
	ticks := (uint64(t.Hour)*3600+uint64(t.Minute)*60+uint64(t.Second))*pow10[7] +
		uint64(t.Nanosecond)/100
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], ticks)
	buf.Write(b[:5])
}

// encodeDateTimeOffset writes time (UTC), date (UTC), then the zone offset
// in minutes as a signed little-endian 16-bit value.
func encodeDateTimeOffset(buf *bytes.Buffer, t time.Time) {
	utc := t.UTC()
	encodeTime(buf, civil.TimeOf(utc))
	encodeDate(buf, civil.DateOf(utc))

	_, offsetSecs := t.Zone()
	tds.PutUint16(buf, uint16(int16(offsetSecs/60)))
}

func daysSinceEpoch0001(d civil.Date) int32 {
	// Counted in Unix seconds: a Duration-based subtraction saturates at
	// ~292 years and would clamp every modern date.
	t := time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
	return int32((t.Unix() - epoch0001.Unix()) / 86400)
}

// encodeDecimal writes the sign byte (1 positive, 0 negative) followed by
// the 16-byte little-endian magnitude scaled to the declared scale.
// Fractional digits beyond the scale are truncated.
func encodeDecimal(buf *bytes.Buffer, d decimal.Decimal, scale int32) {
	if d.Sign() < 0 {
		buf.WriteByte(0)
	} else {
		buf.WriteByte(1)
	}

	coef := new(big.Int).Abs(d.Coefficient())
	shift := int64(d.Exponent()) + int64(scale)
	if shift > 0 {
		coef.Mul(coef, new(big.Int).Exp(big.NewInt(10), big.NewInt(shift), nil))
	} else if shift < 0 {
		coef.Div(coef, new(big.Int).Exp(big.NewInt(10), big.NewInt(-shift), nil))
	}

	// Magnitude, little-endian, padded to 16 bytes.
	be := coef.Bytes()
	var le [16]byte
	for i := 0; i < len(be) && i < 16; i++ {
		le[i] = be[len(be)-1-i]
	}
	buf.Write(le[:])
}

// guidToWire converts a UUID to SQL Server's mixed-endian layout: the
// first three groups are little-endian, the rest big-endian.
func guidToWire(u uuid.UUID) []byte {
	b := make([]byte, 16)
	copy(b, u[:])
	b[0], b[1], b[2], b[3] = b[3], b[2], b[1], b[0]
	b[4], b[5] = b[5], b[4]
	b[6], b[7] = b[7], b[6]
	return b
}

// guidFromWire reverses guidToWire.
func guidFromWire(b []byte) (uuid.UUID, error) {
	if len(b) != 16 {
		return uuid.UUID{}, errors.Decode("UNIQUEIDENTIFIER", "expected 16 bytes")
	}
	swapped := make([]byte, 16)
	copy(swapped, b)
	swapped[0], swapped[1], swapped[2], swapped[3] = swapped[3], swapped[2], swapped[1], swapped[0]
	swapped[4], swapped[5] = swapped[5], swapped[4]
	swapped[6], swapped[7] = swapped[7], swapped[6]
	return uuid.FromBytes(swapped)
}

// DecodeValue converts the raw wire bytes of one cell into a Go value:
// integers as int64, floats as float64, character data as string, binary
// as []byte, decimals and money as decimal.Decimal, the date/time types as
// civil values or time.Time, GUIDs as uuid.UUID. NULL cells return nil.
func DecodeValue(col tds.Column, raw []byte) (interface{}, error) {
	if raw == nil {
		return nil, nil
	}

	info := col.Info

	switch info.Type {
	case tds.TypeNull:
		return nil, nil

	case tds.TypeInt1:
		return int64(raw[0]), nil
	case tds.TypeInt2, tds.TypeInt4, tds.TypeInt8, tds.TypeIntN:
		return decodeInt(info, raw)

	case tds.TypeBit, tds.TypeBitN:
		return raw[0] != 0, nil

	case tds.TypeFloat4, tds.TypeFloat8, tds.TypeFloatN:
		return decodeFloat(info, raw)

	case tds.TypeMoney, tds.TypeMoney4, tds.TypeMoneyN:
		return decodeMoney(info, raw)

	case tds.TypeDecimal, tds.TypeNumeric, tds.TypeDecimalN, tds.TypeNumericN:
		return decodeDecimal(info, raw)

	case tds.TypeDateTime, tds.TypeDateTime4, tds.TypeDateTimeN:
		return decodeDateTime(info, raw)

	case tds.TypeDateN:
		if len(raw) != 3 {
			return nil, errors.Decode("DATE", "expected 3 bytes")
		}
		return dateFromDays(int32(decodeUintLE(raw))), nil

	case tds.TypeTimeN:
		return decodeTimeOfDay(info.Scale, raw)

	case tds.TypeDateTime2N:
		if len(raw) < 4 {
			return nil, errors.Decode("DATETIME2", "value too short")
		}
		t, err := decodeTimeOfDay(info.Scale, raw[:len(raw)-3])
		if err != nil {
			return nil, err
		}
		d := dateFromDays(int32(decodeUintLE(raw[len(raw)-3:])))
		return civil.DateTime{Date: d, Time: t}, nil

	case tds.TypeDateTimeOffsetN:
		return decodeDateTimeOffset(info.Scale, raw)

	case tds.TypeGUID:
		return guidFromWire(raw)

	case tds.TypeChar, tds.TypeVarChar, tds.TypeBigChar, tds.TypeBigVarChar,
		tds.TypeNChar, tds.TypeNVarChar, tds.TypeText, tds.TypeNText, tds.TypeXML:
		s, err := info.DecodeString(raw)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDecode, info.Type.String())
		}
		return s, nil

	case tds.TypeBinary, tds.TypeVarBinary, tds.TypeBigBinary, tds.TypeBigVarBin,
		tds.TypeImage, tds.TypeUDT, tds.TypeSSVariant:
		// Raw pass-through of the cell bytes.
		out := make([]byte, len(raw))
		copy(out, raw)
		return out, nil
	}

	return nil, errors.Decode(info.Type.String(), "unsupported type")
}

func decodeUintLE(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func decodeInt(info tds.TypeInfo, raw []byte) (int64, error) {
	switch len(raw) {
	case 1:
		// tinyint is unsigned
		return int64(raw[0]), nil
	case 2:
		return int64(int16(binary.LittleEndian.Uint16(raw))), nil
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(raw))), nil
	case 8:
		return int64(binary.LittleEndian.Uint64(raw)), nil
	}
	return 0, errors.Decode(info.Name(), "unexpected integer width")
}

func decodeFloat(info tds.TypeInfo, raw []byte) (float64, error) {
	switch len(raw) {
	case 4:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(raw))), nil
	case 8:
		return math.Float64frombits(binary.LittleEndian.Uint64(raw)), nil
	}
	return 0, errors.Decode(info.Name(), "unexpected float width")
}

// decodeMoney reads MONEY (two 32-bit halves, high first) or SMALLMONEY,
// both with an implied scale of 4.
func decodeMoney(info tds.TypeInfo, raw []byte) (decimal.Decimal, error) {
	switch len(raw) {
	case 4:
		return decimal.New(int64(int32(binary.LittleEndian.Uint32(raw))), -4), nil
	case 8:
		hi := int64(int32(binary.LittleEndian.Uint32(raw[0:4])))
		lo := int64(binary.LittleEndian.Uint32(raw[4:8]))
		return decimal.New(hi<<32|lo, -4), nil
	}
	return decimal.Decimal{}, errors.Decode(info.Name(), "unexpected money width")
}

// decodeDecimal reads the sign byte (0 means negative) and the
// little-endian magnitude.
func decodeDecimal(info tds.TypeInfo, raw []byte) (decimal.Decimal, error) {
	if len(raw) < 2 {
		return decimal.Decimal{}, errors.Decode(info.Name(), "value too short")
	}

	negative := raw[0] == 0
	mag := raw[1:]

	be := make([]byte, len(mag))
	for i, b := range mag {
		be[len(mag)-1-i] = b
	}

	coef := new(big.Int).SetBytes(be)
	if negative {
		coef.Neg(coef)
	}

	return decimal.NewFromBigInt(coef, -int32(info.Scale)), nil
}

func decodeDateTime(info tds.TypeInfo, raw []byte) (civil.DateTime, error) {
	switch len(raw) {
	case 4:
		// SMALLDATETIME: days since 1900, minutes since midnight.
		days := binary.LittleEndian.Uint16(raw[0:2])
		mins := binary.LittleEndian.Uint16(raw[2:4])
		t := epoch1900.AddDate(0, 0, int(days)).Add(time.Duration(mins) * time.Minute)
		return civil.DateTime{Date: civil.DateOf(t), Time: civil.TimeOf(t)}, nil
	case 8:
		// DATETIME: days since 1900, then 1/300-second ticks.
		days := int32(binary.LittleEndian.Uint32(raw[0:4]))
		ticks := binary.LittleEndian.Uint32(raw[4:8])
		ns := int64(ticks) * 10000000 / 3
		t := epoch1900.AddDate(0, 0, int(days)).Add(time.Duration(ns))
		return civil.DateTime{Date: civil.DateOf(t), Time: civil.TimeOf(t)}, nil
	}
	return civil.DateTime{}, errors.Decode(info.Name(), "unexpected datetime width")
}

func dateFromDays(days int32) civil.Date {
	return civil.DateOf(epoch0001.AddDate(0, 0, int(days)))
}

func decodeTimeOfDay(scale uint8, raw []byte) (civil.Time, error) {
	if len(raw) < 3 || len(raw) > 5 {
		return civil.Time{}, errors.Decode("TIME", "unexpected width")
	}
	if scale > 7 {
		return civil.Time{}, errors.Decode("TIME", "invalid scale")
	}

	ticks := decodeUintLE(raw)
	secs := ticks / pow10[scale]
	frac := ticks % pow10[scale]
	ns := frac * pow10[9-uint64(scale)]

	return civil.Time{
		Hour:       int(secs / 3600),
		Minute:     int(secs / 60 % 60),
		Second:     int(secs % 60),
		Nanosecond: int(ns),
	}, nil
}

// decodeDateTimeOffset reads the UTC time and date parts followed by the
// zone offset: a signed little-endian 16-bit minute count, sign-extended
// across its full range.
func decodeDateTimeOffset(scale uint8, raw []byte) (time.Time, error) {
	if len(raw) < 8 {
		return time.Time{}, errors.Decode("DATETIMEOFFSET", "value too short")
	}

	timePart := raw[:len(raw)-5]
	datePart := raw[len(raw)-5 : len(raw)-2]
	offsetPart := raw[len(raw)-2:]

	tod, err := decodeTimeOfDay(scale, timePart)
	if err != nil {
		return time.Time{}, err
	}
	d := dateFromDays(int32(decodeUintLE(datePart)))

	offsetMin := int16(binary.LittleEndian.Uint16(offsetPart))

	utc := time.Date(d.Year, d.Month, d.Day,
		tod.Hour, tod.Minute, tod.Second, tod.Nanosecond, time.UTC)
	loc := time.FixedZone("", int(offsetMin)*60)
	return utc.In(loc), nil
}
