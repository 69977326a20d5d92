package packets

import (
	"encoding/binary"
	"fmt"
	"io"
)

// SubackPacket represents an MQTT 3.1.1 SUBACK control packet.
type SubackPacket struct {
	PacketID    uint16
	ReturnCodes []uint8
}

// Type returns the packet type.
func (p *SubackPacket) Type() uint8 {
	return SUBACK
}

// WriteTo writes the SUBACK packet to the writer.
func (p *SubackPacket) WriteTo(w io.Writer) (int64, error) {
	var total int64

	header := &FixedHeader{
		PacketType:      SUBACK,
		Flags:           0,
		RemainingLength: 2 + len(p.ReturnCodes),
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

	n, err = w.Write(p.ReturnCodes)
	total += int64(n)
	if err != nil {
		return total, err
	}

	return total, nil
}

// DecodeSuback decodes a SUBACK packet from the buffer.
func DecodeSuback(buf []byte) (*SubackPacket, error) {
	if len(buf) < 2 {
		return nil, fmt.Errorf("buffer too short for SUBACK packet")
	}

	pkt := &SubackPacket{}
	offset := 0

	pkt.PacketID = binary.BigEndian.Uint16(buf[offset : offset+2])
	offset += 2

	if offset < len(buf) {
		pkt.ReturnCodes = make([]uint8, len(buf)-offset)
		copy(pkt.ReturnCodes, buf[offset:])
	}

	return pkt, nil
}
