package mqttrt

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/skylinemq/mqttrt/internal/packets"
	"github.com/skylinemq/mqttrt/internal/transport"
)

// fakeBroker is a minimal, single-connection broker driving one side of a
// net.Pipe: it decodes inbound packets and lets the test script canned
// responses back, the way a real broker's CONNACK/SUBACK/PUBACK would
// arrive asynchronously relative to the client's own goroutines.
type fakeBroker struct {
	t    *testing.T
	conn net.Conn
	br   *bufio.Reader
}

func newFakeBroker(t *testing.T, conn net.Conn) *fakeBroker {
	return &fakeBroker{t: t, conn: conn, br: bufio.NewReader(conn)}
}

func (b *fakeBroker) next() packets.Packet {
	b.t.Helper()
	pkt, err := packets.ReadPacket(b.br, 0)
	if err != nil {
		b.t.Fatalf("fakeBroker: reading packet: %v", err)
	}
	return pkt
}

func (b *fakeBroker) send(pkt packets.Packet) {
	b.t.Helper()
	if _, err := pkt.WriteTo(b.conn); err != nil {
		b.t.Fatalf("fakeBroker: writing packet: %v", err)
	}
}

const testConnectTimeout = 2 * time.Second

// pipeTransportPair returns one side of a net.Pipe for the test's fake
// broker and the other side wrapped as a Transport ready to hand to
// Connect.
func pipeTransportPair(t *testing.T) (net.Conn, Transport) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	return serverConn, transport.NewConn(clientConn, 0)
}

func newFakeBrokerRaw(t *testing.T, conn net.Conn) *fakeBroker {
	t.Helper()
	return newFakeBroker(t, conn)
}

// newTestConnection dials an in-process net.Pipe, lets onBroker script the
// broker side's replies in its own goroutine, and returns the resulting
// Connection. onBroker receives the CONNECT the client sent and must reply
// with a CONNACK (or nothing, to exercise a connect timeout).
func newTestConnection(t *testing.T, onBroker func(b *fakeBroker)) (*Connection, net.Conn) {
	t.Helper()
	serverConn, tr := pipeTransportPair(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		onBroker(newFakeBroker(t, serverConn))
	}()

	conn, err := Connect(t.Context(), NetworkInfo{Transport: tr}, ConnectInfo{
		ClientID:     "test-client",
		CleanSession: true,
	}, testConnectTimeout)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	t.Cleanup(func() {
		_ = conn.Disconnect(t.Context(), CleanupOnly)
		_ = serverConn.Close()
	})

	return conn, serverConn
}
