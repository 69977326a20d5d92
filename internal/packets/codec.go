package packets

import "bytes"

// Codec serializes each outbound packet kind. Connect installs the
// compiled-in DefaultCodec on every Connection; it offers no way to supply
// another Codec, and Runtime.EnableSerializerOverrides is not consulted.
type Codec interface {
	EncodeConnect(pkt *ConnectPacket) ([]byte, error)
	EncodePublish(pkt *PublishPacket) ([]byte, error)
	EncodeSubscribe(pkt *SubscribePacket) ([]byte, error)
	EncodeUnsubscribe(pkt *UnsubscribePacket) ([]byte, error)
	EncodePingreq() ([]byte, error)
	EncodeDisconnect() ([]byte, error)
}

// DefaultCodec is the compiled-in Codec backing every Connection unless
// overridden.
type DefaultCodec struct{}

func (DefaultCodec) EncodeConnect(pkt *ConnectPacket) ([]byte, error) {
	return writeToBuf(pkt)
}

func (DefaultCodec) EncodePublish(pkt *PublishPacket) ([]byte, error) {
	return writeToBuf(pkt)
}

func (DefaultCodec) EncodeSubscribe(pkt *SubscribePacket) ([]byte, error) {
	return writeToBuf(pkt)
}

func (DefaultCodec) EncodeUnsubscribe(pkt *UnsubscribePacket) ([]byte, error) {
	return writeToBuf(pkt)
}

func (DefaultCodec) EncodePingreq() ([]byte, error) {
	return writeToBuf(&PingreqPacket{})
}

func (DefaultCodec) EncodeDisconnect() ([]byte, error) {
	return writeToBuf(&DisconnectPacket{})
}

func writeToBuf(pkt Packet) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := pkt.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
