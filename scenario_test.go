package mqttrt

import (
	"testing"
	"time"

	"github.com/skylinemq/mqttrt/internal/packets"
)

// TestFullSessionLifecycle drives CONNECT, a QoS 1 PUBLISH, a SUBSCRIBE, an
// inbound PUBLISH delivered to the subscription's callback, and a clean
// DISCONNECT through a single connection, mirroring how a real caller
// exercises the whole API surface in one session.
func TestFullSessionLifecycle(t *testing.T) {
	received := make(chan Message, 1)

	serverConn, tr := pipeTransportPair(t)
	brokerDone := make(chan struct{})

	go func() {
		defer close(brokerDone)
		b := newFakeBrokerRaw(t, serverConn)

		b.next()
		b.send(&packets.ConnackPacket{ReturnCode: packets.ConnAccepted})

		pkt := b.next()
		pub, ok := pkt.(*packets.PublishPacket)
		if !ok {
			t.Errorf("expected PUBLISH, got %T", pkt)
			return
		}
		b.send(&packets.PubackPacket{PacketID: pub.PacketID})

		pkt = b.next()
		sub, ok := pkt.(*packets.SubscribePacket)
		if !ok {
			t.Errorf("expected SUBSCRIBE, got %T", pkt)
			return
		}
		b.send(&packets.SubackPacket{PacketID: sub.PacketID, ReturnCodes: []uint8{packets.SubackQoS1}})

		b.send(&packets.PublishPacket{
			Topic:   "devices/1/status",
			Payload: []byte("online"),
			QoS:     0,
		})

		pkt = b.next()
		if pkt.Type() != packets.DISCONNECT {
			t.Errorf("expected DISCONNECT, got type %d", pkt.Type())
		}
	}()

	conn, err := Connect(t.Context(), NetworkInfo{Transport: tr}, ConnectInfo{
		ClientID:     "lifecycle-client",
		CleanSession: true,
	}, testConnectTimeout)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	pubStatus, err := conn.PublishAndWait(t.Context(), PublishInfo{
		Topic:   "devices/1/status",
		Payload: []byte("booting"),
		QoS:     AtLeastOnce,
	}, 0)
	if err != nil || pubStatus != Success {
		t.Fatalf("PublishAndWait: status=%v err=%v", pubStatus, err)
	}

	subStatus, err := conn.SubscribeAndWait(t.Context(), SubscribeInfo{
		Topics:   []string{"devices/1/status"},
		QoS:      []QoS{AtLeastOnce},
		Callback: func(msg Message) { received <- msg },
	}, 0)
	if err != nil || subStatus != Success {
		t.Fatalf("SubscribeAndWait: status=%v err=%v", subStatus, err)
	}

	select {
	case msg := <-received:
		if string(msg.Payload) != "online" {
			t.Errorf("Payload = %q, want %q", msg.Payload, "online")
		}
	case <-time.After(testConnectTimeout):
		t.Fatal("timed out waiting for the delivered publish")
	}

	if err := conn.Disconnect(t.Context(), 0); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	select {
	case <-brokerDone:
	case <-time.After(testConnectTimeout):
		t.Fatal("fake broker goroutine never observed the DISCONNECT")
	}
}

// TestKeepAlivePingSurvivesOnPingresp arms a short keep-alive interval and
// confirms the connection transmits a PINGREQ unprompted and stays open
// once the broker answers with PINGRESP.
func TestKeepAlivePingSurvivesOnPingresp(t *testing.T) {
	serverConn, tr := pipeTransportPair(t)

	rt := NewRuntime()
	rt.ResponseWait = 200 * time.Millisecond

	done := make(chan struct{})
	go func() {
		defer close(done)
		b := newFakeBrokerRaw(t, serverConn)
		b.next()
		b.send(&packets.ConnackPacket{ReturnCode: packets.ConnAccepted})

		pkt := b.next()
		if pkt.Type() != packets.PINGREQ {
			t.Errorf("expected PINGREQ, got type %d", pkt.Type())
		}
		b.send(&packets.PingrespPacket{})
	}()

	conn, err := Connect(t.Context(), NetworkInfo{Transport: tr}, ConnectInfo{
		ClientID:     "keepalive-client",
		CleanSession: true,
		KeepAlive:    1 * time.Second,
		Runtime:      rt,
	}, testConnectTimeout)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("keep-alive PINGREQ/PINGRESP exchange never completed")
	}

	conn.refsMu.Lock()
	disconnected := conn.disconnected
	conn.refsMu.Unlock()
	if disconnected {
		t.Error("connection torn down after a timely PINGRESP")
	}

	_ = conn.Disconnect(t.Context(), CleanupOnly)
	_ = serverConn.Close()
}
