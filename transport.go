package mqttrt

import (
	"context"
	"time"

	"github.com/skylinemq/mqttrt/internal/packets"
)

// ReceiveCallback is invoked once per decoded inbound packet, on the
// transport's own reader goroutine. It must not block for long: the
// callback is the Connection's onReceive entry point, and a slow
// callback stalls the transport's read loop.
type ReceiveCallback = packets.ReceiveCallback

// Transport is the wire-level send/receive contract a Connection drives.
// A caller-supplied Transport (via NetworkInfo.Transport) lets tests and
// embedders swap in anything that can move bytes — net.Pipe, a TLS dial, a
// message queue bridge — without the Connection knowing the difference.
type Transport interface {
	// SetReceiveCallback registers cb to be called for every packet the
	// transport decodes off the wire. Must be called before the first byte
	// is sent; a transport that has already started reading before
	// SetReceiveCallback is called may drop early packets.
	SetReceiveCallback(cb ReceiveCallback)

	// SetMalformedCallback registers cb to be called when the transport
	// decodes a well-framed packet whose body fails to parse, instead of
	// closing the connection outright. A transport that can't tell the
	// difference (no framing of its own, e.g. an in-process test double)
	// may leave this a no-op.
	SetMalformedCallback(cb func(*packets.MalformedPacketError))

	// Send writes a fully-serialized packet. Implementations must not
	// interleave partial writes from concurrent Send calls.
	Send(p []byte) (int, error)

	// Close tears down the underlying connection and stops the reader
	// goroutine. Close must be safe to call more than once.
	Close() error
}

// TransportFactory creates a Transport for a logical server address. The
// default factory (internal/transport.NewTCPFactory) dials TCP or TLS
// depending on the URL scheme and Credentials.TLSConfig.
type TransportFactory interface {
	Create(ctx context.Context, server string, dialer ContextDialer, creds Credentials) (Transport, error)
}

// Job is a unit of scheduled work; ctx is cancelled once the owning
// Connection's task pool is closed, which happens when its last reference
// is dropped.
type Job func(ctx context.Context)

// TaskPool schedules jobs for later or immediate execution. The default
// implementation is internal/taskpool.Pool; tests may substitute a
// synchronous pool to make scheduling deterministic.
type TaskPool interface {
	Schedule(delay time.Duration, job Job) JobHandle
}

// JobHandle lets a caller attempt to cancel a scheduled job before it runs.
type JobHandle interface {
	// TryCancel reports whether the job was cancelled before it started.
	// false means the job is already running or has already run.
	TryCancel() bool
}
