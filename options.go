package mqttrt

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"go.uber.org/zap"
)

// OpFlags is the bitset accepted by the request-issuing API calls.
type OpFlags uint8

const (
	// Waitable marks an operation whose caller intends to block on its
	// completion via Wait.
	Waitable OpFlags = 1 << iota
	// CleanupOnly short-circuits Disconnect to a pure teardown: no
	// DISCONNECT packet is sent, only local resources are released.
	CleanupOnly
)

// Credentials carries the MQTT username/password pair and, when set, the
// TLS configuration the transport factory should dial with.
type Credentials struct {
	Username  string
	Password  string
	TLSConfig *tls.Config
}

// ContextDialer lets a caller plug in custom network dialing, matching the
// signature of (*net.Dialer).DialContext.
type ContextDialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// NetworkInfo describes how to reach the broker: either a server address
// for the default transport factory to dial, or a Transport the caller
// already owns.
type NetworkInfo struct {
	Server            string
	Dialer            ContextDialer
	Transport         Transport
	AWSMode           bool
	MaxIncomingPacket int
}

// ConnectInfo is the payload of the CONNECT operation.
type ConnectInfo struct {
	ClientID     string // empty: a "mqttrt-" + uuid id is generated
	Credentials  Credentials
	CleanSession bool
	KeepAlive    time.Duration // 0 disables keep-alive unless AWSMode remaps it

	// Runtime supplies the init-time knobs (retry ceiling, response wait,
	// metrics). nil uses NewRuntime()'s defaults.
	Runtime *Runtime

	// Logger receives structured connection-lifecycle events. nil installs
	// a no-op logger.
	Logger *zap.Logger

	Will *WillMessage

	// PreviousSubscriptions restores subscription records in-memory on a
	// CleanSession == false reconnect (no broker-side persistence); they
	// are provisionally associated with the CONNECT operation's own packet
	// identifier so a failed or timed-out CONNECT removes them again.
	PreviousSubscriptions map[string]MessageHandler
}

// PublishInfo is the payload of a PUBLISH operation.
type PublishInfo struct {
	Topic   string
	Payload []byte
	QoS     QoS
	Retain  bool

	RetryLimit uint32        // QoS 1 only; 0 disables retry
	RetryWait  time.Duration // initial retry period, doubled per attempt
}

// SubscribeInfo is the payload of a SUBSCRIBE operation.
type SubscribeInfo struct {
	Topics   []string
	QoS      []QoS
	Callback MessageHandler
}
