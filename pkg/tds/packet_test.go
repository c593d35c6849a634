package tds

import (
	"bytes"
	"io"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		Type:     PacketSQLBatch,
		Status:   StatusEOM,
		Length:   HeaderSize + 10,
		SPID:     0x1234,
		PacketID: 7,
	}

	var buf bytes.Buffer
	if err := h.Write(&buf); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if buf.Len() != HeaderSize {
		t.Fatalf("header length = %d, want %d", buf.Len(), HeaderSize)
	}

	got, err := ReadHeader(&buf)
	if err != nil {
		t.Fatalf("ReadHeader failed: %v", err)
	}
	if got != h {
		t.Errorf("ReadHeader = %+v, want %+v", got, h)
	}
}

func TestHeaderEndianness(t *testing.T) {
	// Length and SPID are big-endian fields of the packet header.
	h := Header{Type: PacketReply, Length: 0x0102, SPID: 0x0304}

	var buf bytes.Buffer
	if err := h.Write(&buf); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	b := buf.Bytes()
	if b[2] != 0x01 || b[3] != 0x02 {
		t.Errorf("length bytes = %02x %02x, want 01 02", b[2], b[3])
	}
	if b[4] != 0x03 || b[5] != 0x04 {
		t.Errorf("spid bytes = %02x %02x, want 03 04", b[4], b[5])
	}
}

func TestWriteMessageSplitting(t *testing.T) {
	tests := []struct {
		name        string
		packetSize  int
		payloadLen  int
		wantPackets int
	}{
		{"empty", 512, 0, 1},
		{"one byte", 512, 1, 1},
		{"exactly one packet", 512, 504, 1},
		{"one byte over", 512, 505, 2},
		{"many packets", 512, 10000, 20},
		{"default size", 4096, 4088, 1},
		{"default size split", 4096, 4089, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := make([]byte, tt.payloadLen)
			for i := range payload {
				payload[i] = byte(i)
			}

			var wire bytes.Buffer
			f := NewFramer(&wire, tt.packetSize)
			if err := f.WriteMessage(PacketSQLBatch, payload); err != nil {
				t.Fatalf("WriteMessage failed: %v", err)
			}

			// Walk the emitted packets by hand.
			var reassembled []byte
			packets := 0
			for wire.Len() > 0 {
				hdr, err := ReadHeader(&wire)
				if err != nil {
					t.Fatalf("reading packet %d header: %v", packets, err)
				}
				if int(hdr.Length) > tt.packetSize {
					t.Errorf("packet %d length %d exceeds packet size %d", packets, hdr.Length, tt.packetSize)
				}
				chunk := make([]byte, hdr.PayloadLength())
				if _, err := io.ReadFull(&wire, chunk); err != nil {
					t.Fatalf("reading packet %d payload: %v", packets, err)
				}
				reassembled = append(reassembled, chunk...)
				packets++

				wantEOM := wire.Len() == 0
				if hdr.IsLastPacket() != wantEOM {
					t.Errorf("packet %d EOM = %v, want %v", packets, hdr.IsLastPacket(), wantEOM)
				}
			}

			if packets != tt.wantPackets {
				t.Errorf("packets = %d, want %d", packets, tt.wantPackets)
			}
			if !bytes.Equal(reassembled, payload) {
				t.Errorf("reassembled payload differs from original")
			}
		})
	}
}

func TestReadMessageReassembly(t *testing.T) {
	payload := make([]byte, 3000)
	for i := range payload {
		payload[i] = byte(i * 7)
	}

	var wire bytes.Buffer
	writer := NewFramer(&wire, MinPacketSize)
	if err := writer.WriteMessage(PacketReply, payload); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	reader := NewFramer(&wire, MinPacketSize)
	msgType, got, err := reader.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if msgType != PacketReply {
		t.Errorf("message type = %s, want %s", msgType, PacketReply)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload mismatch: got %d bytes, want %d", len(got), len(payload))
	}
}

func TestReadMessageTypeMismatch(t *testing.T) {
	var wire bytes.Buffer

	h1 := Header{Type: PacketReply, Status: StatusNormal, Length: HeaderSize + 1}
	h1.Write(&wire)
	wire.WriteByte(0xAA)

	h2 := Header{Type: PacketPrelogin, Status: StatusEOM, Length: HeaderSize + 1}
	h2.Write(&wire)
	wire.WriteByte(0xBB)

	f := NewFramer(&wire, DefaultPacketSize)
	if _, _, err := f.ReadMessage(); err == nil {
		t.Error("ReadMessage should fail when packet type changes mid-message")
	}
}

func TestMessageReaderStreaming(t *testing.T) {
	payload := make([]byte, 5000)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	var wire bytes.Buffer
	writer := NewFramer(&wire, MinPacketSize)
	if err := writer.WriteMessage(PacketReply, payload); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	reader := NewFramer(&wire, MinPacketSize)
	mr := reader.NewMessageReader(PacketReply)

	got, err := io.ReadAll(mr)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("streamed payload differs from original")
	}
	if !mr.Done() {
		t.Error("Done() = false after full read")
	}

	// Subsequent reads report end of message.
	if _, err := mr.Read(make([]byte, 1)); err != io.EOF {
		t.Errorf("Read after EOM = %v, want io.EOF", err)
	}
}

func TestPacketIDIncrements(t *testing.T) {
	var wire bytes.Buffer
	f := NewFramer(&wire, MinPacketSize)

	payload := make([]byte, 2000)
	if err := f.WriteMessage(PacketSQLBatch, payload); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	var lastID uint8
	first := true
	for wire.Len() > 0 {
		hdr, err := ReadHeader(&wire)
		if err != nil {
			t.Fatalf("ReadHeader failed: %v", err)
		}
		if !first && hdr.PacketID != lastID+1 {
			t.Errorf("packet id = %d, want %d", hdr.PacketID, lastID+1)
		}
		lastID = hdr.PacketID
		first = false
		io.CopyN(io.Discard, &wire, int64(hdr.PayloadLength()))
	}
}
