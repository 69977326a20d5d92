package packets

import (
	"encoding/binary"
	"fmt"
	"io"
)

// PubackPacket represents an MQTT 3.1.1 PUBACK control packet (QoS 1 acknowledgment).
type PubackPacket struct {
	PacketID uint16
}

// Type returns the packet type.
func (p *PubackPacket) Type() uint8 {
	return PUBACK
}

// WriteTo writes the PUBACK packet to the writer.
func (p *PubackPacket) WriteTo(w io.Writer) (int64, error) {
	var total int64

	header := &FixedHeader{
		PacketType:      PUBACK,
		Flags:           0,
		RemainingLength: 2,
	}
	hN, err := header.WriteTo(w)
	total += hN
	if err != nil {
		return total, err
	}

	var idBytes [2]byte
	binary.BigEndian.PutUint16(idBytes[:], p.PacketID)
	n, err := w.Write(idBytes[:])
	total += int64(n)
	if err != nil {
		return total, err
	}

	return total, nil
}

// DecodePuback decodes a PUBACK packet from the buffer. A v3.1.1 PUBACK's
// variable header is exactly the two-byte packet identifier; anything else
// is a protocol violation, not just a short read.
func DecodePuback(buf []byte) (*PubackPacket, error) {
	if len(buf) != 2 {
		return nil, fmt.Errorf("PUBACK remaining length must be 2, got %d", len(buf))
	}

	pkt := &PubackPacket{}
	pkt.PacketID = binary.BigEndian.Uint16(buf[0:2])

	return pkt, nil
}
