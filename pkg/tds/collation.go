package tds

import (
	"bytes"
	"fmt"

	"golang.org/x/text/encoding/charmap"
)

// Collation flag bits, packed above the locale in the collation blob.
const (
	CollationIgnoreCase   uint8 = 1 << 0
	CollationIgnoreAccent uint8 = 1 << 1
	CollationIgnoreWidth  uint8 = 1 << 2
	CollationIgnoreKana   uint8 = 1 << 3
	CollationBinary       uint8 = 1 << 4
	CollationBinary2      uint8 = 1 << 5
)

// Collation is the 5-byte collation blob carried by character types:
// 20 bits of locale, 8 bits of flags, 4 bits of version, then one sort-id
// byte.
type Collation struct {
	Locale  uint32
	Flags   uint8
	Version uint8
	SortID  uint8
}

// DefaultCollation is Latin1_General_CI_AS, the common server default.
var DefaultCollation = Collation{Locale: 0x0409, Flags: CollationIgnoreCase | CollationIgnoreKana | CollationIgnoreWidth, SortID: 0x34}

// ParseCollation reads a collation blob.
func ParseCollation(r *Reader) (Collation, error) {
	lsv, err := r.Uint32()
	if err != nil {
		return Collation{}, err
	}
	sort, err := r.Byte()
	if err != nil {
		return Collation{}, err
	}

	return Collation{
		Locale:  lsv & 0xFFFFF,
		Flags:   uint8((lsv >> 20) & 0xFF),
		Version: uint8(lsv >> 28),
		SortID:  sort,
	}, nil
}

// Encode appends the 5-byte blob.
func (c Collation) Encode(buf *bytes.Buffer) {
	lsv := c.Locale&0xFFFFF | uint32(c.Flags)<<20 | uint32(c.Version)<<28
	PutUint32(buf, lsv)
	buf.WriteByte(c.SortID)
}

// DecodeString decodes character data carried under this collation.
// Locale 0x0409 (US English) maps to Windows-1252; other legacy code pages
// are not supported.
func (c Collation) DecodeString(b []byte) (string, error) {
	switch c.Locale {
	case 0x0409:
		s, err := charmap.Windows1252.NewDecoder().Bytes(b)
		if err != nil {
			return "", err
		}
		return string(s), nil
	default:
		return "", fmt.Errorf("unsupported collation locale 0x%04x", c.Locale)
	}
}
