package packets

import (
	"encoding/binary"
	"fmt"
	"io"
)

// PacketDecoder decodes a packet from its remaining bytes and fixed header.
type PacketDecoder func(remaining []byte, header *FixedHeader) (Packet, error)

// packetDecoders maps packet types to their decoder functions.
var packetDecoders = map[uint8]PacketDecoder{
	CONNECT: func(remaining []byte, _ *FixedHeader) (Packet, error) { return DecodeConnect(remaining) },
	CONNACK: func(remaining []byte, _ *FixedHeader) (Packet, error) { return DecodeConnack(remaining) },
	PUBLISH: func(remaining []byte, header *FixedHeader) (Packet, error) {
		return DecodePublish(remaining, header)
	},
	PUBACK:      func(remaining []byte, _ *FixedHeader) (Packet, error) { return DecodePuback(remaining) },
	SUBSCRIBE:   func(remaining []byte, _ *FixedHeader) (Packet, error) { return DecodeSubscribe(remaining) },
	SUBACK:      func(remaining []byte, _ *FixedHeader) (Packet, error) { return DecodeSuback(remaining) },
	UNSUBSCRIBE: func(remaining []byte, _ *FixedHeader) (Packet, error) { return DecodeUnsubscribe(remaining) },
	UNSUBACK:    func(remaining []byte, _ *FixedHeader) (Packet, error) { return DecodeUnsuback(remaining) },
	PINGREQ:     func(remaining []byte, _ *FixedHeader) (Packet, error) { return DecodePingreq(remaining) },
	PINGRESP:    func(remaining []byte, _ *FixedHeader) (Packet, error) { return DecodePingresp(remaining) },
	DISCONNECT:  func(remaining []byte, _ *FixedHeader) (Packet, error) { return DecodeDisconnect(remaining) },
}

// mqttSpecMax is the largest Remaining Length a Variable Byte Integer can hold.
const mqttSpecMax = 268435455

// packetIDPrefixed is the set of packet types whose variable header begins
// with a two-byte packet identifier, letting a malformed instance still be
// correlated to its waiting Operation without a successful full decode.
var packetIDPrefixed = map[uint8]bool{
	PUBACK:   true,
	SUBACK:   true,
	UNSUBACK: true,
}

// MalformedPacketError reports a packet whose fixed header and body were
// read in full (the stream framing itself is intact) but whose body failed
// to decode. Remaining holds a copy of the raw body bytes, letting the
// caller attempt PacketID() before deciding whether the failure can be
// correlated to a single Operation or must close the connection.
type MalformedPacketError struct {
	PacketType uint8
	Remaining  []byte
	Err        error
}

func (e *MalformedPacketError) Error() string {
	return fmt.Sprintf("malformed %s packet: %v", PacketNames[e.PacketType], e.Err)
}

func (e *MalformedPacketError) Unwrap() error {
	return e.Err
}

// PacketID extracts the leading two-byte packet identifier from Remaining
// for packet types that carry one as the first field of their variable
// header. ok is false when the packet type carries no packet identifier, or
// the body was too short to hold one.
func (e *MalformedPacketError) PacketID() (id uint16, ok bool) {
	if !packetIDPrefixed[e.PacketType] || len(e.Remaining) < 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(e.Remaining[:2]), true
}

// ReadPacket reads a complete MQTT control packet from the reader.
// maxIncomingPacket bounds the accepted Remaining Length; 0 or a value
// exceeding the protocol maximum falls back to the protocol maximum.
//
// A failure decoding the body of an otherwise well-framed packet is
// returned as a *MalformedPacketError, so the caller can try to correlate
// it to a single pending Operation instead of tearing down the whole
// connection. Any other error (bad fixed header, short read, I/O failure)
// means the stream itself can no longer be trusted.
func ReadPacket(r io.Reader, maxIncomingPacket int) (Packet, error) {
	header, err := DecodeFixedHeader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode fixed header: %w", err)
	}

	maxPacketSize := maxIncomingPacket
	if maxPacketSize <= 0 || maxPacketSize > mqttSpecMax {
		maxPacketSize = mqttSpecMax
	}
	if header.RemainingLength > maxPacketSize {
		return nil, fmt.Errorf("packet size %d exceeds maximum %d", header.RemainingLength, maxPacketSize)
	}

	var remaining []byte
	var bufPtr *[]byte

	if header.RemainingLength > 0 {
		bufPtr = GetBuffer(header.RemainingLength)
		remaining = (*bufPtr)[:header.RemainingLength]

		if _, err := io.ReadFull(r, remaining); err != nil {
			PutBuffer(bufPtr)
			return nil, fmt.Errorf("failed to read packet body: %w", err)
		}
	}

	decoder, ok := packetDecoders[header.PacketType]
	if !ok {
		malformed := &MalformedPacketError{
			PacketType: header.PacketType,
			Remaining:  append([]byte(nil), remaining...),
			Err:        fmt.Errorf("unknown or unsupported packet type: %d", header.PacketType),
		}
		if bufPtr != nil {
			PutBuffer(bufPtr)
		}
		return nil, malformed
	}

	pkt, err := decoder(remaining, header)
	if err != nil {
		malformed := &MalformedPacketError{
			PacketType: header.PacketType,
			Remaining:  append([]byte(nil), remaining...),
			Err:        err,
		}
		if bufPtr != nil {
			PutBuffer(bufPtr)
		}
		return nil, malformed
	}

	if bufPtr != nil {
		PutBuffer(bufPtr)
	}

	return pkt, nil
}
