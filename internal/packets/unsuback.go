package packets

import (
	"encoding/binary"
	"fmt"
	"io"
)

// UnsubackPacket represents an MQTT 3.1.1 UNSUBACK control packet.
type UnsubackPacket struct {
	PacketID uint16
}

// Type returns the packet type.
func (p *UnsubackPacket) Type() uint8 {
	return UNSUBACK
}

// WriteTo writes the UNSUBACK packet to the writer.
func (p *UnsubackPacket) WriteTo(w io.Writer) (int64, error) {
	var total int64

	header := &FixedHeader{
		PacketType:      UNSUBACK,
		Flags:           0,
		RemainingLength: 2,
	}
	hN, err := header.WriteTo(w)
	total += hN
	if err != nil {
		return total, err
	}

	var packetIDBytes [2]byte
	binary.BigEndian.PutUint16(packetIDBytes[:], p.PacketID)
	n, err := w.Write(packetIDBytes[:])
	total += int64(n)
	if err != nil {
		return total, err
	}

	return total, nil
}

// DecodeUnsuback decodes an UNSUBACK packet from the buffer. A v3.1.1
// UNSUBACK's variable header is exactly the two-byte packet identifier.
func DecodeUnsuback(buf []byte) (*UnsubackPacket, error) {
	if len(buf) != 2 {
		return nil, fmt.Errorf("UNSUBACK remaining length must be 2, got %d", len(buf))
	}

	pkt := &UnsubackPacket{}
	pkt.PacketID = binary.BigEndian.Uint16(buf[0:2])

	return pkt, nil
}
