package tds

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestObfuscatePassword(t *testing.T) {
	// Each UTF-16LE byte: swap nibbles, then XOR 0xA5.
	in := []byte{0x61, 0x00} // "a"
	want := []byte{0x16 ^ 0xA5, 0x00 ^ 0xA5}

	got := ObfuscatePassword(append([]byte(nil), in...))
	if !bytes.Equal(got, want) {
		t.Errorf("ObfuscatePassword = %x, want %x", got, want)
	}
}

func TestPasswordObfuscationRoundTrip(t *testing.T) {
	passwords := []string{"", "secret", "p@ssw0rd!", "ünïcödé"}

	for _, pw := range passwords {
		wire := ObfuscatePassword(StringToUCS2(pw))
		got := UCS2ToString(DeobfuscatePassword(wire))
		if got != pw {
			t.Errorf("password round trip of %q = %q", pw, got)
		}
	}
}

func TestLogin7Encode(t *testing.T) {
	l := &Login7{
		TDSVersion: VerTDS74,
		PacketSize: 4096,
		ClientPID:  1234,
		HostName:   "client",
		UserName:   "sa",
		Password:   "pw",
		AppName:    "mstds",
		ServerName: "server",
		CtlIntName: "mstds",
		Database:   "master",
	}

	data := l.Encode()

	// The length field covers the whole payload.
	if got := binary.LittleEndian.Uint32(data[0:4]); got != uint32(len(data)) {
		t.Errorf("length field = %d, want %d", got, len(data))
	}
	if got := binary.LittleEndian.Uint32(data[4:8]); got != VerTDS74 {
		t.Errorf("tds version = %08x, want %08x", got, VerTDS74)
	}
	if got := binary.LittleEndian.Uint32(data[8:12]); got != 4096 {
		t.Errorf("packet size = %d, want 4096", got)
	}

	// Username: offset/length pair at bytes 40-43 of the header.
	userOff := binary.LittleEndian.Uint16(data[40:42])
	userLen := binary.LittleEndian.Uint16(data[42:44])
	if got := UCS2ToString(data[userOff : userOff+userLen*2]); got != "sa" {
		t.Errorf("username on wire = %q, want %q", got, "sa")
	}

	// Password is obfuscated on the wire.
	pwOff := binary.LittleEndian.Uint16(data[44:46])
	pwLen := binary.LittleEndian.Uint16(data[46:48])
	wirePw := append([]byte(nil), data[pwOff:pwOff+pwLen*2]...)
	if got := UCS2ToString(wirePw); got == "pw" {
		t.Error("password must not appear in cleartext")
	}
	if got := UCS2ToString(DeobfuscatePassword(wirePw)); got != "pw" {
		t.Errorf("deobfuscated password = %q, want %q", got, "pw")
	}

	// Database.
	dbOff := binary.LittleEndian.Uint16(data[68:70])
	dbLen := binary.LittleEndian.Uint16(data[70:72])
	if got := UCS2ToString(data[dbOff : dbOff+dbLen*2]); got != "master" {
		t.Errorf("database on wire = %q, want %q", got, "master")
	}

	// String bodies start right after the fixed header.
	hostOff := binary.LittleEndian.Uint16(data[36:38])
	if hostOff != Login7HeaderSize {
		t.Errorf("first body offset = %d, want %d", hostOff, Login7HeaderSize)
	}
}

func TestPreloginRoundTrip(t *testing.T) {
	p := &Prelogin{
		Version:    Version{Major: 0, Minor: 1, Build: 2},
		Encryption: EncryptNotSup,
		ThreadID:   4321,
	}

	got, err := ParsePrelogin(p.Encode())
	if err != nil {
		t.Fatalf("ParsePrelogin failed: %v", err)
	}

	if got.Version != p.Version {
		t.Errorf("version = %+v, want %+v", got.Version, p.Version)
	}
	if got.Encryption != EncryptNotSup {
		t.Errorf("encryption = %d, want %d", got.Encryption, EncryptNotSup)
	}
	if got.ThreadID != 4321 {
		t.Errorf("thread id = %d, want 4321", got.ThreadID)
	}
}

func TestParsePreloginTruncated(t *testing.T) {
	if _, err := ParsePrelogin(nil); err == nil {
		t.Error("ParsePrelogin should reject empty data")
	}
	if _, err := ParsePrelogin([]byte{PreloginVersion, 0x00}); err == nil {
		t.Error("ParsePrelogin should reject a truncated option header")
	}
}
