// Package tds implements the client side of the TDS (Tabular Data Stream)
// protocol used by Microsoft SQL Server.
//
// This package provides the wire layer of a native SQL Server driver: packet
// framing, the PRELOGIN/LOGIN7 handshake messages, SQLBATCH and RPC request
// encoders, and the token-stream decoder for server responses.
//
// The implementation is based on observing SQL Server behaviour and the
// MS-TDS protocol specification.
package tds

import (
	"encoding/binary"
	"fmt"
	"io"
)

// PacketType identifies the type of TDS packet.
type PacketType uint8

const (
	// PacketSQLBatch is sent by the client for ad-hoc SQL queries.
	PacketSQLBatch PacketType = 1

	// PacketRPCRequest is sent by the client to execute stored procedures.
	PacketRPCRequest PacketType = 3

	// PacketReply is sent by the server in response to client requests.
	PacketReply PacketType = 4

	// PacketAttention is sent by the client to cancel a running query.
	PacketAttention PacketType = 6

	// PacketBulkLoad is sent by the client for bulk insert operations.
	PacketBulkLoad PacketType = 7

	// PacketTransMgrReq is sent for distributed transaction management.
	PacketTransMgrReq PacketType = 14

	// PacketLogin7 is sent by the client for TDS 7.x login.
	PacketLogin7 PacketType = 16

	// PacketSSPIMessage is sent for SSPI/Windows authentication.
	PacketSSPIMessage PacketType = 17

	// PacketPrelogin is sent by the client to negotiate connection parameters.
	PacketPrelogin PacketType = 18
)

func (p PacketType) String() string {
	switch p {
	case PacketSQLBatch:
		return "SQL_BATCH"
	case PacketRPCRequest:
		return "RPC_REQUEST"
	case PacketReply:
		return "REPLY"
	case PacketAttention:
		return "ATTENTION"
	case PacketBulkLoad:
		return "BULK_LOAD"
	case PacketTransMgrReq:
		return "TRANS_MGR_REQ"
	case PacketLogin7:
		return "LOGIN7"
	case PacketSSPIMessage:
		return "SSPI_MESSAGE"
	case PacketPrelogin:
		return "PRELOGIN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(p))
	}
}

// PacketStatus indicates the status of a TDS packet.
type PacketStatus uint8

const (
	// StatusNormal indicates more packets follow.
	StatusNormal PacketStatus = 0x00

	// StatusEOM indicates end of message (last packet).
	StatusEOM PacketStatus = 0x01

	// StatusIgnore indicates the packet should be ignored.
	StatusIgnore PacketStatus = 0x02

	// StatusResetConnection requests connection reset.
	StatusResetConnection PacketStatus = 0x08

	// StatusResetConnectionSkipTran requests reset but preserves transaction.
	StatusResetConnectionSkipTran PacketStatus = 0x10
)

// HeaderSize is the size of a TDS packet header in bytes.
const HeaderSize = 8

// DefaultPacketSize is the default TDS packet size.
const DefaultPacketSize = 4096

// MaxPacketSize is the maximum allowed TDS packet size.
const MaxPacketSize = 32767

// MinPacketSize is the minimum allowed TDS packet size.
const MinPacketSize = 512

// Header represents a TDS packet header.
type Header struct {
	Type     PacketType
	Status   PacketStatus
	Length   uint16 // Total packet length including header
	SPID     uint16 // Server Process ID
	PacketID uint8  // Packet sequence number, wraps 0-255
	Window   uint8  // Currently unused, always 0
}

// ReadHeader reads a TDS packet header from the given reader.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, err
	}

	return Header{
		Type:     PacketType(buf[0]),
		Status:   PacketStatus(buf[1]),
		Length:   binary.BigEndian.Uint16(buf[2:4]),
		SPID:     binary.BigEndian.Uint16(buf[4:6]),
		PacketID: buf[6],
		Window:   buf[7],
	}, nil
}

// Write writes the header to the given writer.
func (h Header) Write(w io.Writer) error {
	var buf [HeaderSize]byte
	buf[0] = byte(h.Type)
	buf[1] = byte(h.Status)
	binary.BigEndian.PutUint16(buf[2:4], h.Length)
	binary.BigEndian.PutUint16(buf[4:6], h.SPID)
	buf[6] = h.PacketID
	buf[7] = h.Window
	_, err := w.Write(buf[:])
	return err
}

// PayloadLength returns the length of the packet payload (excluding header).
func (h Header) PayloadLength() int {
	if h.Length <= HeaderSize {
		return 0
	}
	return int(h.Length) - HeaderSize
}

// IsLastPacket returns true if this is the last packet in the message.
func (h Header) IsLastPacket() bool {
	return h.Status&StatusEOM != 0
}

// Framer reads and writes TDS messages over a duplex byte stream, splitting
// outgoing payloads across packets of the negotiated size and reassembling
// fragmented server responses.
type Framer struct {
	rw         io.ReadWriter
	packetSize int
	packetID   uint8
	spid       uint16 // last SPID seen from the server, diagnostic only
}

// NewFramer creates a framer over rw with the given packet size. Sizes
// outside [MinPacketSize, MaxPacketSize] are clamped.
func NewFramer(rw io.ReadWriter, packetSize int) *Framer {
	f := &Framer{rw: rw}
	f.SetPacketSize(packetSize)
	return f
}

// PacketSize returns the current negotiated packet size.
func (f *Framer) PacketSize() int {
	return f.packetSize
}

// SetPacketSize updates the packet size, typically after an ENVCHANGE from
// the server. Out-of-range values are clamped.
func (f *Framer) SetPacketSize(n int) {
	if n < MinPacketSize {
		n = MinPacketSize
	}
	if n > MaxPacketSize {
		n = MaxPacketSize
	}
	f.packetSize = n
}

// SPID returns the server process id observed on the last packet read.
func (f *Framer) SPID() uint16 {
	return f.spid
}

// WriteMessage splits payload into packets of at most packetSize-8 bytes
// each and writes them to the stream. Every packet except the last carries
// StatusNormal; the last carries StatusEOM. The packet id increments per
// outgoing packet.
func (f *Framer) WriteMessage(t PacketType, payload []byte) error {
	max := f.packetSize - HeaderSize

	for first := true; first || len(payload) > 0; first = false {
		chunk := payload
		if len(chunk) > max {
			chunk = chunk[:max]
		}
		payload = payload[len(chunk):]

		f.packetID++
		hdr := Header{
			Type:     t,
			Status:   StatusNormal,
			Length:   uint16(HeaderSize + len(chunk)),
			PacketID: f.packetID,
		}
		if len(payload) == 0 {
			hdr.Status = StatusEOM
		}

		// Header and chunk go out in one Write so the packet is atomic
		// with respect to the underlying stream.
		buf := make([]byte, HeaderSize+len(chunk))
		buf[0] = byte(hdr.Type)
		buf[1] = byte(hdr.Status)
		binary.BigEndian.PutUint16(buf[2:4], hdr.Length)
		binary.BigEndian.PutUint16(buf[4:6], hdr.SPID)
		buf[6] = hdr.PacketID
		buf[7] = hdr.Window
		copy(buf[HeaderSize:], chunk)

		if _, err := f.rw.Write(buf); err != nil {
			return err
		}
	}

	return nil
}

// ReadPacket reads exactly one packet: 8 bytes of header, then length-8
// bytes of payload.
func (f *Framer) ReadPacket() (Header, []byte, error) {
	hdr, err := ReadHeader(f.rw)
	if err != nil {
		return Header{}, nil, err
	}
	f.spid = hdr.SPID

	payload := make([]byte, hdr.PayloadLength())
	if _, err := io.ReadFull(f.rw, payload); err != nil {
		return Header{}, nil, err
	}

	return hdr, payload, nil
}

// ReadMessage reads an entire logical message: it concatenates payloads
// until a packet with StatusEOM arrives. It errors if an intermediate
// packet's type differs from the first.
func (f *Framer) ReadMessage() (PacketType, []byte, error) {
	hdr, payload, err := f.ReadPacket()
	if err != nil {
		return 0, nil, err
	}
	msgType := hdr.Type

	for !hdr.IsLastPacket() {
		var chunk []byte
		hdr, chunk, err = f.ReadPacket()
		if err != nil {
			return 0, nil, err
		}
		if hdr.Type != msgType {
			return 0, nil, fmt.Errorf("packet type changed mid-message: %s then %s", msgType, hdr.Type)
		}
		payload = append(payload, chunk...)
	}

	return msgType, payload, nil
}

// MessageReader streams the payload of one logical message packet by
// packet. It implements io.Reader; Read returns io.EOF once the payload of
// the final (StatusEOM) packet is consumed.
type MessageReader struct {
	f       *Framer
	expect  PacketType
	buf     []byte
	pos     int
	started bool
	last    bool
}

// NewMessageReader starts reading a logical message whose packets must all
// be of type expect.
func (f *Framer) NewMessageReader(expect PacketType) *MessageReader {
	return &MessageReader{f: f, expect: expect}
}

func (m *MessageReader) fill() error {
	if m.last {
		return io.EOF
	}

	for {
		hdr, payload, err := m.f.ReadPacket()
		if err != nil {
			return err
		}
		if hdr.Type != m.expect {
			return fmt.Errorf("expected %s packet, got %s", m.expect, hdr.Type)
		}
		m.started = true
		m.last = hdr.IsLastPacket()
		m.buf = payload
		m.pos = 0

		// Zero-length continuation packets are legal; keep reading.
		if len(payload) > 0 || m.last {
			return nil
		}
	}
}

// Read implements io.Reader over the reassembled message payload.
func (m *MessageReader) Read(p []byte) (int, error) {
	for m.pos >= len(m.buf) {
		if m.last {
			return 0, io.EOF
		}
		if err := m.fill(); err != nil {
			return 0, err
		}
	}

	n := copy(p, m.buf[m.pos:])
	m.pos += n
	return n, nil
}

// Done reports whether the final packet has been received and fully
// consumed.
func (m *MessageReader) Done() bool {
	return m.last && m.pos >= len(m.buf)
}
