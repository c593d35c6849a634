package tds

import (
	"encoding/binary"
	"fmt"
)

// TDS protocol versions.
const (
	VerTDS70 uint32 = 0x70000000
	VerTDS71 uint32 = 0x71000000
	VerTDS72 uint32 = 0x72090002
	VerTDS73 uint32 = 0x730A0003
	VerTDS74 uint32 = 0x74000004
)

// Prelogin option tokens.
const (
	PreloginVersion    uint8 = 0x00
	PreloginEncryption uint8 = 0x01
	PreloginInstOpt    uint8 = 0x02
	PreloginThreadID   uint8 = 0x03
	PreloginMARS       uint8 = 0x04
	PreloginTraceID    uint8 = 0x05
	PreloginFedAuth    uint8 = 0x06
	PreloginNonceOpt   uint8 = 0x07
	PreloginTerminator uint8 = 0xFF
)

// Encryption options for prelogin.
const (
	EncryptOff    uint8 = 0x00 // Encryption available but off
	EncryptOn     uint8 = 0x01 // Encryption available and on
	EncryptNotSup uint8 = 0x02 // Encryption not supported
	EncryptReq    uint8 = 0x03 // Encryption required
)

// Version is the client or server build version exchanged in PRELOGIN.
type Version struct {
	Major    uint8
	Minor    uint8
	Build    uint16
	SubBuild uint16
}

// Bytes returns the 6-byte wire representation.
func (v Version) Bytes() []byte {
	buf := make([]byte, 6)
	buf[0] = v.Major
	buf[1] = v.Minor
	binary.BigEndian.PutUint16(buf[2:4], v.Build)
	binary.BigEndian.PutUint16(buf[4:6], v.SubBuild)
	return buf
}

// Prelogin is the option set exchanged before login. The same shape is used
// for the client request and the parsed server response.
type Prelogin struct {
	Version    Version
	Encryption uint8
	Instance   string
	ThreadID   uint32
	MARS       uint8
}

// Encode serialises the prelogin message: a table of
// (token, BE offset, BE length) entries terminated by 0xFF, followed by the
// option payloads.
func (p *Prelogin) Encode() []byte {
	instanceData := append([]byte(p.Instance), 0)

	const numOptions = 5 // VERSION, ENCRYPTION, INSTOPT, THREADID, MARS
	headerSize := numOptions*5 + 1

	lengths := []uint16{6, 1, uint16(len(instanceData)), 4, 1}
	tokens := []uint8{PreloginVersion, PreloginEncryption, PreloginInstOpt, PreloginThreadID, PreloginMARS}

	offset := uint16(headerSize)
	total := int(offset)
	for _, l := range lengths {
		total += int(l)
	}

	buf := make([]byte, 0, total)
	for i, token := range tokens {
		buf = append(buf, token)
		buf = binary.BigEndian.AppendUint16(buf, offset)
		buf = binary.BigEndian.AppendUint16(buf, lengths[i])
		offset += lengths[i]
	}
	buf = append(buf, PreloginTerminator)

	buf = append(buf, p.Version.Bytes()...)
	buf = append(buf, p.Encryption)
	buf = append(buf, instanceData...)
	buf = binary.BigEndian.AppendUint32(buf, p.ThreadID)
	buf = append(buf, p.MARS)

	return buf
}

// ParsePrelogin parses a prelogin message from raw bytes. Used on the
// server's response; only VERSION and ENCRYPTION matter to this client but
// the full option table is walked.
func ParsePrelogin(data []byte) (*Prelogin, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty prelogin data")
	}

	p := &Prelogin{}

	type option struct {
		offset uint16
		length uint16
	}
	options := make(map[uint8]option)

	offset := 0
	for {
		if offset >= len(data) {
			return nil, fmt.Errorf("prelogin data truncated reading options")
		}

		token := data[offset]
		if token == PreloginTerminator {
			break
		}

		if offset+5 > len(data) {
			return nil, fmt.Errorf("prelogin option header truncated")
		}

		options[token] = option{
			offset: binary.BigEndian.Uint16(data[offset+1 : offset+3]),
			length: binary.BigEndian.Uint16(data[offset+3 : offset+5]),
		}
		offset += 5
	}

	for token, opt := range options {
		start := int(opt.offset)
		end := start + int(opt.length)
		if end > len(data) {
			return nil, fmt.Errorf("prelogin option %d data out of bounds", token)
		}
		value := data[start:end]

		switch token {
		case PreloginVersion:
			if len(value) >= 6 {
				p.Version = Version{
					Major:    value[0],
					Minor:    value[1],
					Build:    binary.BigEndian.Uint16(value[2:4]),
					SubBuild: binary.BigEndian.Uint16(value[4:6]),
				}
			}
		case PreloginEncryption:
			if len(value) >= 1 {
				p.Encryption = value[0]
			}
		case PreloginInstOpt:
			for i, b := range value {
				if b == 0 {
					p.Instance = string(value[:i])
					break
				}
			}
		case PreloginThreadID:
			if len(value) >= 4 {
				p.ThreadID = binary.BigEndian.Uint32(value)
			}
		case PreloginMARS:
			if len(value) >= 1 {
				p.MARS = value[0]
			}
		}
	}

	return p, nil
}
