package packets

import (
	"bytes"
	"testing"
)

func roundTrip(t *testing.T, pkt Packet, decode func([]byte, *FixedHeader) (Packet, error)) Packet {
	t.Helper()

	var buf bytes.Buffer
	if _, err := pkt.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	header, err := DecodeFixedHeader(&buf)
	if err != nil {
		t.Fatalf("DecodeFixedHeader: %v", err)
	}
	remaining := make([]byte, header.RemainingLength)
	if _, err := buf.Read(remaining); err != nil && header.RemainingLength > 0 {
		t.Fatalf("read remaining: %v", err)
	}

	decoded, err := decode(remaining, header)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return decoded
}

func TestConnectRoundTrip(t *testing.T) {
	pkt := &ConnectPacket{
		ProtocolName:  "MQTT",
		ProtocolLevel: 4,
		CleanSession:  true,
		WillFlag:      true,
		WillQoS:       1,
		WillRetain:    false,
		UsernameFlag:  true,
		PasswordFlag:  true,
		KeepAlive:     60,
		ClientID:      "client-1",
		WillTopic:     "last/will",
		WillMessage:   []byte("bye"),
		Username:      "alice",
		Password:      "secret",
	}

	decoded := roundTrip(t, pkt, func(b []byte, _ *FixedHeader) (Packet, error) { return DecodeConnect(b) }).(*ConnectPacket)

	if decoded.ClientID != pkt.ClientID || decoded.KeepAlive != pkt.KeepAlive {
		t.Fatalf("decoded mismatch: %+v", decoded)
	}
	if !decoded.WillFlag || decoded.WillTopic != pkt.WillTopic || string(decoded.WillMessage) != string(pkt.WillMessage) {
		t.Fatalf("will fields mismatch: %+v", decoded)
	}
	if decoded.Username != pkt.Username || decoded.Password != pkt.Password {
		t.Fatalf("credential fields mismatch: %+v", decoded)
	}
}

func TestPublishRoundTripQoS1(t *testing.T) {
	pkt := &PublishPacket{
		QoS:      1,
		Topic:    "sensors/temp",
		PacketID: 42,
		Payload:  []byte("22.5"),
		Retain:   true,
	}

	decoded := roundTrip(t, pkt, func(b []byte, h *FixedHeader) (Packet, error) { return DecodePublish(b, h) }).(*PublishPacket)

	if decoded.Topic != pkt.Topic || decoded.PacketID != pkt.PacketID {
		t.Fatalf("decoded mismatch: %+v", decoded)
	}
	if !decoded.Retain || decoded.QoS != 1 {
		t.Fatalf("flags mismatch: %+v", decoded)
	}
	if string(decoded.Payload) != string(pkt.Payload) {
		t.Fatalf("payload mismatch: got %q want %q", decoded.Payload, pkt.Payload)
	}
}

func TestPublishRoundTripQoS0HasNoPacketID(t *testing.T) {
	pkt := &PublishPacket{Topic: "a/b", Payload: []byte("x")}

	decoded := roundTrip(t, pkt, func(b []byte, h *FixedHeader) (Packet, error) { return DecodePublish(b, h) }).(*PublishPacket)

	if decoded.PacketID != 0 {
		t.Fatalf("expected zero packet id for QoS 0, got %d", decoded.PacketID)
	}
}

func TestSubscribeRoundTrip(t *testing.T) {
	pkt := &SubscribePacket{
		PacketID: 7,
		Topics:   []string{"a/+", "b/#"},
		QoS:      []uint8{0, 1},
	}

	decoded := roundTrip(t, pkt, func(b []byte, _ *FixedHeader) (Packet, error) { return DecodeSubscribe(b) }).(*SubscribePacket)

	if decoded.PacketID != pkt.PacketID || len(decoded.Topics) != 2 {
		t.Fatalf("decoded mismatch: %+v", decoded)
	}
	if decoded.Topics[0] != "a/+" || decoded.QoS[1] != 1 {
		t.Fatalf("topic/qos mismatch: %+v", decoded)
	}
}

func TestSubackRoundTrip(t *testing.T) {
	pkt := &SubackPacket{PacketID: 7, ReturnCodes: []uint8{SubackQoS0, SubackFailure}}

	decoded := roundTrip(t, pkt, func(b []byte, _ *FixedHeader) (Packet, error) { return DecodeSuback(b) }).(*SubackPacket)

	if decoded.PacketID != pkt.PacketID || len(decoded.ReturnCodes) != 2 || decoded.ReturnCodes[1] != SubackFailure {
		t.Fatalf("decoded mismatch: %+v", decoded)
	}
}

func TestPingreqPingrespHaveNoRemainingLength(t *testing.T) {
	var buf bytes.Buffer
	if _, err := (&PingreqPacket{}).WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if got, want := buf.Bytes(), []byte{PINGREQ << 4, 0}; !bytes.Equal(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}

	buf.Reset()
	if _, err := (&PingrespPacket{}).WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if got, want := buf.Bytes(), []byte{PINGRESP << 4, 0}; !bytes.Equal(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestDisconnectHasNoPayload(t *testing.T) {
	var buf bytes.Buffer
	if _, err := (&DisconnectPacket{}).WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if got, want := buf.Bytes(), []byte{DISCONNECT << 4, 0}; !bytes.Equal(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestVarIntRoundTrip(t *testing.T) {
	for _, v := range []int{0, 1, 127, 128, 16383, 16384, 2097151, 2097152, 268435455} {
		enc := encodeVarInt(v)
		got, err := decodeVarInt(bytes.NewReader(enc))
		if err != nil {
			t.Fatalf("decodeVarInt(%d): %v", v, err)
		}
		if got != v {
			t.Fatalf("round trip mismatch: encoded %d, decoded %d", v, got)
		}
	}
}

func TestReadPacketUnknownType(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xF0, 0x00}) // packet type 15, no decoder registered
	if _, err := ReadPacket(&buf, 0); err == nil {
		t.Fatal("expected error for unknown packet type")
	}
}
