// Package transport dials the network connection a Connection speaks MQTT
// over and owns the reader goroutine that decodes inbound packets.
package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"

	"github.com/skylinemq/mqttrt/internal/packets"
)

// ContextDialer matches (*net.Dialer).DialContext so callers can plug in a
// custom dialer (proxying, testing, alternate transports).
type ContextDialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

const maxIncomingPacketDefault = 268435455

// TCPFactory dials a plain TCP or TLS connection depending on the server
// URL's scheme, or the presence of a TLS config.
type TCPFactory struct {
	// MaxIncomingPacket bounds ReadPacket's accepted remaining length.
	// 0 uses the protocol maximum.
	MaxIncomingPacket int
}

func NewTCPFactory() *TCPFactory {
	return &TCPFactory{}
}

// Dial resolves server's scheme (tcp, mqtt, tls, ssl, mqtts), defaults the
// port (1883 plaintext, 8883 TLS) and dials, preferring dialer when set.
func (f *TCPFactory) Dial(ctx context.Context, server string, dialer ContextDialer, tlsConfig *tls.Config) (net.Conn, error) {
	if dialer != nil {
		network := "tcp"
		if u, err := url.Parse(server); err == nil && u.Scheme != "" {
			network = u.Scheme
		}
		conn, err := dialer.DialContext(ctx, network, server)
		if err != nil {
			return nil, fmt.Errorf("custom dialer failed: %w", err)
		}
		return conn, nil
	}

	u, err := url.Parse(server)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Port() == "" {
		switch u.Scheme {
		case "tls", "ssl", "mqtts":
			u.Host = net.JoinHostPort(u.Host, "8883")
		case "tcp", "mqtt", "":
			u.Host = net.JoinHostPort(u.Host, "1883")
		}
	}

	useTLS := u.Scheme == "tls" || u.Scheme == "ssl" || u.Scheme == "mqtts" || tlsConfig != nil
	if !useTLS && u.Scheme != "tcp" && u.Scheme != "mqtt" && u.Scheme != "" {
		return nil, fmt.Errorf("unsupported scheme: %s (supported: tcp, mqtt, tls, ssl, mqtts)", u.Scheme)
	}

	if useTLS {
		cfg := tlsConfig
		if cfg == nil {
			cfg = &tls.Config{}
		}
		d := &tls.Dialer{NetDialer: &net.Dialer{}, Config: cfg}
		conn, err := d.DialContext(ctx, "tcp", u.Host)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to server: %w", err)
		}
		return conn, nil
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", u.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	return conn, nil
}

// Conn wraps a net.Conn (or any io.ReadWriteCloser-like pipe, e.g.
// net.Pipe's *net.Conn) with a reader goroutine that decodes packets and
// hands them to a registered ReceiveCallback.
type Conn struct {
	conn              net.Conn
	maxIncomingPacket int

	mu          sync.Mutex
	cb          packets.ReceiveCallback
	malformedCb func(*packets.MalformedPacketError)
	started     bool
	closed      bool
	doneCh      chan struct{}
	writeMu     sync.Mutex
}

// NewConn wraps conn and immediately starts the reader goroutine once a
// callback is registered via SetReceiveCallback.
func NewConn(conn net.Conn, maxIncomingPacket int) *Conn {
	if maxIncomingPacket <= 0 {
		maxIncomingPacket = maxIncomingPacketDefault
	}
	return &Conn{
		conn:              conn,
		maxIncomingPacket: maxIncomingPacket,
		doneCh:            make(chan struct{}),
	}
}

// SetReceiveCallback registers cb and starts the reader goroutine. Safe to
// call exactly once.
func (c *Conn) SetReceiveCallback(cb packets.ReceiveCallback) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.cb = cb
	c.started = true
	c.mu.Unlock()
	go c.readLoop()
}

// SetMalformedCallback registers cb, invoked from the reader goroutine when
// ReadPacket reports a *packets.MalformedPacketError instead of closing the
// connection outright. Must be called before SetReceiveCallback starts the
// reader goroutine.
func (c *Conn) SetMalformedCallback(cb func(*packets.MalformedPacketError)) {
	c.mu.Lock()
	c.malformedCb = cb
	c.mu.Unlock()
}

func (c *Conn) readLoop() {
	br := bufio.NewReader(c.conn)
	for {
		pkt, err := packets.ReadPacket(br, c.maxIncomingPacket)
		if err != nil {
			var merr *packets.MalformedPacketError
			if errors.As(err, &merr) {
				c.mu.Lock()
				malformedCb := c.malformedCb
				c.mu.Unlock()
				if malformedCb != nil {
					malformedCb(merr)
					continue
				}
			}
			c.Close()
			return
		}
		c.mu.Lock()
		cb := c.cb
		c.mu.Unlock()
		if cb != nil {
			cb(pkt)
		}
	}
}

// Send writes p as a single write; MQTT framing needs no interleaving
// protection beyond serializing concurrent callers.
func (c *Conn) Send(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.Write(p)
}

func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	close(c.doneCh)
	return c.conn.Close()
}
