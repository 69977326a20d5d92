package mqttrt

import (
	"context"

	"github.com/skylinemq/mqttrt/internal/transport"
)

// defaultTransportFactory dials plain TCP or TLS, chosen by the server URL
// scheme or the presence of Credentials.TLSConfig.
type defaultTransportFactory struct {
	maxIncomingPacket int
}

func newDefaultTransportFactory(maxIncomingPacket int) *defaultTransportFactory {
	return &defaultTransportFactory{maxIncomingPacket: maxIncomingPacket}
}

func (f *defaultTransportFactory) Create(ctx context.Context, server string, dialer ContextDialer, creds Credentials) (Transport, error) {
	tf := transport.NewTCPFactory()
	var d transport.ContextDialer
	if dialer != nil {
		d = dialer
	}
	conn, err := tf.Dial(ctx, server, d, creds.TLSConfig)
	if err != nil {
		return nil, err
	}
	return transport.NewConn(conn, f.maxIncomingPacket), nil
}
