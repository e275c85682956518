package rserial

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"sleepywoodpecker/bridgelog/internal/bridge"
)

// Packet is one frame streamed by a serial bridge board, little endian,
// followed by StopSequence.
type Packet struct {
	Serial   uint32
	Sequence uint32
	Ratios   [bridge.ChannelCount]float64 // V/V
}

var StopSequence = []byte{'\r', '\n'}

var (
	PacketSize    = binary.Size(Packet{})
	RawPacketSize = PacketSize + len(StopSequence)
)

// DecodePacket decodes the payload part of a raw packet.
func DecodePacket(raw []byte) (Packet, error) {
	var p Packet
	if len(raw) < PacketSize {
		return p, fmt.Errorf("[rserial] short packet: %d bytes, want %d", len(raw), PacketSize)
	}
	if err := binary.Read(bytes.NewReader(raw[:PacketSize]), binary.LittleEndian, &p); err != nil {
		return p, err
	}
	return p, nil
}

// Encode returns the wire form of p including the stop sequence.
func (p Packet) Encode() []byte {
	var buf bytes.Buffer
	buf.Grow(RawPacketSize)
	// writes to a bytes.Buffer do not fail
	_ = binary.Write(&buf, binary.LittleEndian, p)
	buf.Write(StopSequence)
	return buf.Bytes()
}
