package tds

import (
	"bytes"
)

// Login7 option flags.
const (
	// OptionFlags1
	FlagByteOrder uint8 = 0x01 // Byte order (0=little endian)
	FlagChar      uint8 = 0x02 // Character set (0=ASCII)
	FlagFloat     uint8 = 0x0C // Float representation
	FlagDumpLoad  uint8 = 0x10 // Dump/load off
	FlagUseDB     uint8 = 0x20 // USE DATABASE in login
	FlagDatabase  uint8 = 0x40 // Initial database fatal
	FlagSetLang   uint8 = 0x80 // SET LANGUAGE in login

	// OptionFlags2
	FlagLanguage    uint8 = 0x01 // Language fatal
	FlagODBC        uint8 = 0x02 // ODBC driver
	FlagIntSecurity uint8 = 0x80 // Integrated security (SSPI)

	// TypeFlags
	FlagSQLType        uint8 = 0x0F // SQL type (4 bits)
	FlagOLEDB          uint8 = 0x10 // OLE DB
	FlagReadOnlyIntent uint8 = 0x20 // Read-only intent
)

// Login7HeaderSize is the fixed size of the LOGIN7 header.
const Login7HeaderSize = 94

// Login7 holds the fields the client sends in the LOGIN7 packet. The wire
// form is the 94-byte fixed header, whose tail is the table of offset/length
// pointers, followed by the UTF-16LE string bodies.
type Login7 struct {
	TDSVersion    uint32
	PacketSize    uint32
	ClientProgVer uint32
	ClientPID     uint32
	OptionFlags1  uint8
	OptionFlags2  uint8
	TypeFlags     uint8
	OptionFlags3  uint8
	ClientTimeZone int32
	ClientLCID    uint32

	HostName   string
	UserName   string
	Password   string
	AppName    string
	ServerName string
	CtlIntName string // client interface name
	Language   string
	Database   string
	ClientID   [6]byte
	SSPI       []byte
}

// Encode serialises the LOGIN7 payload. Field order in the pointer table
// and body is fixed by the protocol: hostname, username, password, app
// name, server name, unused/extension, library name, language, database,
// client id, SSPI, attach-db file, change password.
func (l *Login7) Encode() []byte {
	hostname := StringToUCS2(l.HostName)
	username := StringToUCS2(l.UserName)
	password := ObfuscatePassword(StringToUCS2(l.Password))
	appname := StringToUCS2(l.AppName)
	servername := StringToUCS2(l.ServerName)
	ctlintname := StringToUCS2(l.CtlIntName)
	language := StringToUCS2(l.Language)
	database := StringToUCS2(l.Database)

	bodies := [][]byte{
		hostname, username, password, appname, servername,
		nil, // unused / extension
		ctlintname, language, database,
	}

	var body bytes.Buffer
	offset := uint16(Login7HeaderSize)

	var table bytes.Buffer
	for _, b := range bodies {
		PutUint16(&table, offset+uint16(body.Len()))
		// Lengths are in UTF-16 code units, not bytes.
		PutUint16(&table, uint16(len(b)/2))
		body.Write(b)
	}

	// ClientID sits between the database pointer and the SSPI pointer.
	table.Write(l.ClientID[:])

	// SSPI
	PutUint16(&table, offset+uint16(body.Len()))
	PutUint16(&table, uint16(len(l.SSPI)))
	body.Write(l.SSPI)

	// AtchDBFile, ChangePassword: empty.
	PutUint16(&table, offset+uint16(body.Len()))
	PutUint16(&table, 0)
	PutUint16(&table, offset+uint16(body.Len()))
	PutUint16(&table, 0)

	// SSPILong
	var sspiLong [4]byte

	length := uint32(36 + table.Len() + len(sspiLong) + body.Len())

	var buf bytes.Buffer
	PutUint32(&buf, length)
	PutUint32(&buf, l.TDSVersion)
	PutUint32(&buf, l.PacketSize)
	PutUint32(&buf, l.ClientProgVer)
	PutUint32(&buf, l.ClientPID)
	PutUint32(&buf, 0) // connection id
	buf.WriteByte(l.OptionFlags1)
	buf.WriteByte(l.OptionFlags2)
	buf.WriteByte(l.TypeFlags)
	buf.WriteByte(l.OptionFlags3)
	PutUint32(&buf, uint32(l.ClientTimeZone))
	PutUint32(&buf, l.ClientLCID)
	buf.Write(table.Bytes())
	buf.Write(sspiLong[:])
	buf.Write(body.Bytes())

	return buf.Bytes()
}

// ObfuscatePassword applies the LOGIN7 password transformation in place and
// returns its argument: for each UTF-16LE byte, swap the nibbles then XOR
// with 0xA5. This is obfuscation, not encryption; the cleartext handshake
// must only be used over a trusted transport.
func ObfuscatePassword(b []byte) []byte {
	for i, c := range b {
		b[i] = (c>>4 | c<<4) ^ 0xA5
	}
	return b
}

// DeobfuscatePassword reverses ObfuscatePassword.
func DeobfuscatePassword(b []byte) []byte {
	for i := range b {
		x := b[i] ^ 0xA5
		b[i] = x>>4 | x<<4
	}
	return b
}
