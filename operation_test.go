package mqttrt

import (
	"testing"
	"time"

	"github.com/skylinemq/mqttrt/internal/packets"
)

func TestPublishQoS0DoesNotWaitForBroker(t *testing.T) {
	conn, _ := newTestConnection(t, func(b *fakeBroker) {
		b.next()
		b.send(&packets.ConnackPacket{ReturnCode: packets.ConnAccepted})
		pkt := b.next()
		publish, ok := pkt.(*packets.PublishPacket)
		if !ok {
			t.Fatalf("expected PUBLISH, got %T", pkt)
		}
		if publish.QoS != 0 {
			t.Errorf("QoS = %d, want 0", publish.QoS)
		}
		if publish.Topic != "sensors/1" {
			t.Errorf("Topic = %q, want %q", publish.Topic, "sensors/1")
		}
	})

	status, err := conn.PublishAndWait(t.Context(), PublishInfo{
		Topic:   "sensors/1",
		Payload: []byte("22.5"),
		QoS:     AtMostOnce,
	}, 0)
	if err != nil {
		t.Fatalf("PublishAndWait: %v", err)
	}
	if status != Success {
		t.Errorf("status = %v, want %v", status, Success)
	}
}

func TestPublishQoS1CompletesOnPuback(t *testing.T) {
	conn, _ := newTestConnection(t, func(b *fakeBroker) {
		b.next()
		b.send(&packets.ConnackPacket{ReturnCode: packets.ConnAccepted})
		pkt := b.next()
		publish, ok := pkt.(*packets.PublishPacket)
		if !ok {
			t.Fatalf("expected PUBLISH, got %T", pkt)
		}
		if publish.QoS != 1 {
			t.Errorf("QoS = %d, want 1", publish.QoS)
		}
		b.send(&packets.PubackPacket{PacketID: publish.PacketID})
	})

	status, err := conn.PublishAndWait(t.Context(), PublishInfo{
		Topic:   "sensors/1",
		Payload: []byte("22.5"),
		QoS:     AtLeastOnce,
	}, 0)
	if err != nil {
		t.Fatalf("PublishAndWait: %v", err)
	}
	if status != Success {
		t.Errorf("status = %v, want %v", status, Success)
	}
}

func TestPublishQoS0IgnoresWaitable(t *testing.T) {
	conn, _ := newTestConnection(t, func(b *fakeBroker) {
		b.next()
		b.send(&packets.ConnackPacket{ReturnCode: packets.ConnAccepted})
		b.next()
	})

	op, err := conn.Publish(t.Context(), PublishInfo{
		Topic:   "sensors/1",
		Payload: []byte("22.5"),
		QoS:     AtMostOnce,
	}, Waitable)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, err := op.Wait(t.Context()); err != ErrRefConsumed {
		t.Errorf("Wait err = %v, want %v (Waitable should have been dropped for QoS 0)", err, ErrRefConsumed)
	}
}

func TestMalformedPubackCompletesOperationWithBadResponse(t *testing.T) {
	conn, serverConn := newTestConnection(t, func(b *fakeBroker) {
		b.next()
		b.send(&packets.ConnackPacket{ReturnCode: packets.ConnAccepted})
		pkt := b.next()
		publish, ok := pkt.(*packets.PublishPacket)
		if !ok {
			t.Fatalf("expected PUBLISH, got %T", pkt)
		}
		// A PUBACK's remaining length must be exactly 2 (the packet id);
		// this one carries a spurious third body byte, so decoding the body
		// fails even though the leading packet id is still readable.
		malformed := []byte{byte(packets.PUBACK) << 4, 3, byte(publish.PacketID >> 8), byte(publish.PacketID), 0}
		if _, err := b.conn.Write(malformed); err != nil {
			t.Fatalf("fakeBroker: writing malformed PUBACK: %v", err)
		}
	})
	_ = serverConn

	status, err := conn.PublishAndWait(t.Context(), PublishInfo{
		Topic:   "sensors/1",
		Payload: []byte("22.5"),
		QoS:     AtLeastOnce,
	}, 0)
	if status != BadResponse {
		t.Errorf("status = %v, want %v", status, BadResponse)
	}
	if err == nil {
		t.Error("expected a non-nil error alongside BadResponse")
	}
}

func TestPublishQoS2Rejected(t *testing.T) {
	conn, _ := newTestConnection(t, func(b *fakeBroker) {
		b.next()
		b.send(&packets.ConnackPacket{ReturnCode: packets.ConnAccepted})
	})

	_, err := conn.Publish(t.Context(), PublishInfo{
		Topic:   "sensors/1",
		Payload: []byte("x"),
		QoS:     ExactlyOnce,
	}, 0)
	if err == nil {
		t.Fatal("expected an error for QoS 2")
	}
	if statusOf(err) != BadParameter {
		t.Errorf("status = %v, want %v", statusOf(err), BadParameter)
	}
}

func TestSubscribeDeliversMatchingPublish(t *testing.T) {
	received := make(chan Message, 1)

	conn, _ := newTestConnection(t, func(b *fakeBroker) {
		b.next()
		b.send(&packets.ConnackPacket{ReturnCode: packets.ConnAccepted})

		pkt := b.next()
		sub, ok := pkt.(*packets.SubscribePacket)
		if !ok {
			t.Fatalf("expected SUBSCRIBE, got %T", pkt)
		}
		b.send(&packets.SubackPacket{PacketID: sub.PacketID, ReturnCodes: []uint8{packets.SubackQoS0}})

		b.send(&packets.PublishPacket{
			Topic:   "sensors/1/temperature",
			Payload: []byte("19.0"),
			QoS:     0,
		})
	})

	status, err := conn.SubscribeAndWait(t.Context(), SubscribeInfo{
		Topics:   []string{"sensors/+/temperature"},
		QoS:      []QoS{AtMostOnce},
		Callback: func(msg Message) { received <- msg },
	}, 0)
	if err != nil {
		t.Fatalf("SubscribeAndWait: %v", err)
	}
	if status != Success {
		t.Fatalf("status = %v, want %v", status, Success)
	}

	select {
	case msg := <-received:
		if msg.Topic != "sensors/1/temperature" {
			t.Errorf("Topic = %q, want %q", msg.Topic, "sensors/1/temperature")
		}
		if string(msg.Payload) != "19.0" {
			t.Errorf("Payload = %q, want %q", msg.Payload, "19.0")
		}
	case <-time.After(testConnectTimeout):
		t.Fatal("timed out waiting for the delivered publish")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	conn, _ := newTestConnection(t, func(b *fakeBroker) {
		b.next()
		b.send(&packets.ConnackPacket{ReturnCode: packets.ConnAccepted})

		pkt := b.next()
		sub := pkt.(*packets.SubscribePacket)
		b.send(&packets.SubackPacket{PacketID: sub.PacketID, ReturnCodes: []uint8{packets.SubackQoS0}})

		pkt = b.next()
		unsub, ok := pkt.(*packets.UnsubscribePacket)
		if !ok {
			t.Fatalf("expected UNSUBSCRIBE, got %T", pkt)
		}
		b.send(&packets.UnsubackPacket{PacketID: unsub.PacketID})
	})

	status, err := conn.SubscribeAndWait(t.Context(), SubscribeInfo{
		Topics:   []string{"sensors/1"},
		QoS:      []QoS{AtMostOnce},
		Callback: func(Message) {},
	}, 0)
	if err != nil || status != Success {
		t.Fatalf("SubscribeAndWait: status=%v err=%v", status, err)
	}

	status, err = conn.UnsubscribeAndWait(t.Context(), []string{"sensors/1"}, 0)
	if err != nil {
		t.Fatalf("UnsubscribeAndWait: %v", err)
	}
	if status != Success {
		t.Errorf("status = %v, want %v", status, Success)
	}

	if len(conn.subscriptions) != 0 {
		t.Errorf("subscriptions = %d entries, want 0", len(conn.subscriptions))
	}
}
