package mqttrt

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/skylinemq/mqttrt/internal/bufpool"
	"github.com/skylinemq/mqttrt/internal/metrics"
	"github.com/skylinemq/mqttrt/internal/oplist"
	"github.com/skylinemq/mqttrt/internal/packets"
	"github.com/skylinemq/mqttrt/internal/validate"
)

// Connection is the per-session runtime: a transport, a subscription
// table, the two operation lists, and an optional keep-alive timer. It is
// created by Connect and lives for as long as anything holds a reference
// to it — the user, any in-flight Operation, and the keep-alive job each
// count as one.
type Connection struct {
	runtime  *Runtime
	awsMode  bool
	clientID string

	transport Transport
	taskPool  TaskPool
	codec     packets.Codec
	logger    *zap.SugaredLogger
	metrics   *metrics.Set

	// allocator supplies every outbound Operation's packet buffer. The
	// Connection never branches on which implementation it got; Connect
	// picks DynamicAllocator unless Runtime asks for a bounded pool.
	allocator bufpool.Allocator

	subMu         sync.Mutex
	subscriptions map[string]*subscription

	// refsMu guards everything below, and is the lock Operation and
	// subscription bookkeeping documents as "conn.refsMu" in their own
	// comments. Acquired before subMu when both are needed.
	refsMu          sync.Mutex
	references      int
	disconnected    bool
	pendingSend     *oplist.List[Operation]
	pendingResponse map[uint16]*Operation
	pendingConnect  *Operation
	lastPacketID    uint16

	keepAliveArmed  bool
	keepAliveMs     uint32
	nextKeepAliveMs uint32
	pingreqPacket   []byte
	keepAliveJob    JobHandle
	pingPending     bool

	// sendMu is the send turnstile: all writes to transport.Send go
	// through transmit, which holds this for the duration of one write.
	sendMu sync.Mutex
}

func opExpectsAck(opType OpType, qos QoS) bool {
	switch opType {
	case OpConnect, OpSubscribe, OpUnsubscribe:
		return true
	case OpPublish:
		return qos > AtMostOnce
	default:
		return false
	}
}

// Connect establishes a new Connection: validates arguments, obtains a
// transport, performs the CONNECT/CONNACK handshake, and — on success —
// arms the keep-alive timer.
func Connect(ctx context.Context, netInfo NetworkInfo, connectInfo ConnectInfo, timeout time.Duration) (*Connection, error) {
	if connectInfo.Will != nil {
		if err := validate.WillPayload(connectInfo.Will.Payload); err != nil {
			return nil, &StatusError{Status: BadParameter, OpType: OpConnect, Parent: fmt.Errorf("%w: %v", ErrWillTooLarge, err)}
		}
		if err := validate.PublishTopic(connectInfo.Will.Topic); err != nil {
			return nil, &StatusError{Status: BadParameter, OpType: OpConnect, Parent: err}
		}
	}
	if !connectInfo.CleanSession {
		for filter := range connectInfo.PreviousSubscriptions {
			if err := validate.SubscribeFilter(filter); err != nil {
				return nil, &StatusError{Status: BadParameter, OpType: OpConnect, Parent: err}
			}
		}
	}

	rt := connectInfo.Runtime
	if rt == nil {
		rt = NewRuntime()
	}

	logger := zap.NewNop()
	if connectInfo.Logger != nil {
		logger = connectInfo.Logger
	}
	sugar := logger.Sugar()

	clientID := connectInfo.ClientID
	if clientID == "" {
		clientID = "mqttrt-" + uuid.NewString()
	} else if err := validate.ClientID(clientID); err != nil {
		sugar.Debugw("client id exceeds advisory length", "client_id", clientID, "error", err)
	}

	transport := netInfo.Transport
	ownNetwork := false
	if transport == nil {
		factory := newDefaultTransportFactory(netInfo.MaxIncomingPacket)
		var err error
		transport, err = factory.Create(ctx, netInfo.Server, netInfo.Dialer, connectInfo.Credentials)
		if err != nil {
			return nil, &StatusError{Status: NetworkError, OpType: OpConnect, Parent: err}
		}
		ownNetwork = true
	}

	var allocator bufpool.Allocator
	if rt.MessageBuffers > 0 && rt.MessageBufferSize > 0 {
		allocator = bufpool.NewStaticPoolAllocator(rt.MessageBuffers, rt.MessageBufferSize)
	} else {
		allocator = bufpool.DynamicAllocator{}
	}

	c := &Connection{
		runtime:         rt,
		awsMode:         netInfo.AWSMode,
		clientID:        clientID,
		transport:       transport,
		taskPool:        newDefaultTaskPool(),
		codec:           packets.DefaultCodec{},
		logger:          sugar,
		allocator:       allocator,
		subscriptions:   make(map[string]*subscription),
		references:      1,
		pendingSend:     oplist.New[Operation](),
		pendingResponse: make(map[uint16]*Operation),
	}
	if rt.EnableMetrics && rt.Registerer != nil {
		c.metrics = metrics.New(rt.Registerer, clientID)
	}

	cleanup := func(err error) (*Connection, error) {
		if ownNetwork {
			_ = transport.Close()
		}
		if c.metrics != nil {
			c.metrics.Close()
		}
		return nil, err
	}

	keepAliveSeconds := uint16(connectInfo.KeepAlive / time.Second)
	if netInfo.AWSMode {
		keepAliveSeconds = validate.ClampAWSKeepAlive(keepAliveSeconds)
	}
	c.keepAliveMs = uint32(keepAliveSeconds) * 1000
	c.nextKeepAliveMs = c.keepAliveMs

	if c.keepAliveMs != 0 {
		ping, err := c.codec.EncodePingreq()
		if err != nil {
			return cleanup(&StatusError{Status: InitFailed, OpType: OpConnect, Parent: err})
		}
		c.pingreqPacket = ping
		c.keepAliveArmed = true
		c.references++
	}

	transport.SetMalformedCallback(c.onMalformed)
	transport.SetReceiveCallback(c.onReceive)

	connectOp := c.refsMu_newOperation(OpConnect, Waitable)
	connectOp.packetID = c.refsMu_nextPacketID()
	connectOp.expectsAck = true

	pkt := &packets.ConnectPacket{
		ProtocolName:  "MQTT",
		ProtocolLevel: 4,
		CleanSession:  connectInfo.CleanSession,
		KeepAlive:     keepAliveSeconds,
		ClientID:      clientID,
	}
	if connectInfo.Credentials.Username != "" {
		pkt.UsernameFlag = true
		pkt.Username = connectInfo.Credentials.Username
	}
	if connectInfo.Credentials.Password != "" {
		pkt.PasswordFlag = true
		pkt.Password = connectInfo.Credentials.Password
	}
	if connectInfo.Will != nil {
		pkt.WillFlag = true
		pkt.WillTopic = connectInfo.Will.Topic
		pkt.WillMessage = connectInfo.Will.Payload
		pkt.WillQoS = uint8(connectInfo.Will.QoS)
		pkt.WillRetain = connectInfo.Will.Retained
	}

	packet, err := c.codec.EncodeConnect(pkt)
	if err != nil {
		c.refsMu.Lock()
		connectOp.destroy()
		c.refsMu.Unlock()
		return cleanup(&StatusError{Status: InitFailed, OpType: OpConnect, Parent: err})
	}
	connectOp.packet, err = c.allocateFrame(packet)
	if err != nil {
		c.refsMu.Lock()
		connectOp.destroy()
		c.refsMu.Unlock()
		return cleanup(&StatusError{Status: NoMemory, OpType: OpConnect, Parent: err})
	}

	if !connectInfo.CleanSession {
		for filter, cb := range connectInfo.PreviousSubscriptions {
			c.addSubscription(filter, AtMostOnce, connectOp.packetID, cb)
		}
	}

	c.refsMu.Lock()
	c.pendingConnect = connectOp
	c.refsMu.Unlock()

	c.enqueueSend(connectOp)

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	status, waitErr := connectOp.Wait(connectCtx)
	if status != Success {
		if !connectInfo.CleanSession {
			c.removeSubscriptionsByPacketID(connectOp.packetID)
		}
		c.refsMu.Lock()
		c.pendingConnect = nil
		c.refsMu.Unlock()
		_ = c.teardownNetwork()
		return cleanup(&StatusError{Status: status, OpType: OpConnect, Parent: waitErr})
	}

	if c.keepAliveMs != 0 {
		c.scheduleKeepAlive(time.Duration(c.nextKeepAliveMs) * time.Millisecond)
	}

	c.logger.Infow("connected", "client_id", clientID, "clean_session", connectInfo.CleanSession)

	return c, nil
}

// refsMu_newOperation and refsMu_nextPacketID exist only to make the
// locking obvious at their call sites in Connect and sendDisconnectAndWait.
func (c *Connection) refsMu_newOperation(opType OpType, flags OpFlags) *Operation {
	c.refsMu.Lock()
	defer c.refsMu.Unlock()
	return newOperation(c, opType, flags)
}

func (c *Connection) refsMu_nextPacketID() uint16 {
	c.refsMu.Lock()
	defer c.refsMu.Unlock()
	return c.nextPacketID()
}

// onReceive is the transport's ReceiveCallback; it runs on the transport's
// own reader goroutine.
func (c *Connection) onReceive(pkt packets.Packet) {
	if c.metrics != nil {
		if n, err := pkt.WriteTo(io.Discard); err == nil {
			c.metrics.BytesReceived.Add(float64(n))
		}
	}
	switch p := pkt.(type) {
	case *packets.ConnackPacket:
		c.handleConnack(p)
	case *packets.SubackPacket:
		c.handleSuback(p)
	case *packets.UnsubackPacket:
		c.handleUnsuback(p)
	case *packets.PublishPacket:
		c.handlePublish(p)
	case *packets.PubackPacket:
		c.handlePuback(p)
	case *packets.PingrespPacket:
		c.handlePingresp()
	default:
		c.logger.Debugw("unexpected inbound packet", "type", pkt.Type())
	}
}

// onMalformed is the transport's malformed-packet callback: a packet whose
// fixed header and body were read in full but whose body failed to decode.
// Ack-style packets carry a packet identifier as the first field of their
// body even when the rest fails to parse, so a malformed PUBACK/SUBACK/
// UNSUBACK can still complete the one Operation it was meant for with
// BadResponse instead of tearing down the whole connection. Anything else
// (a malformed CONNACK, or a packet type with no identifier to correlate
// against) can't be attributed to a single Operation, so it closes the
// connection the way any other framing failure does.
func (c *Connection) onMalformed(merr *packets.MalformedPacketError) {
	packetID, ok := merr.PacketID()
	if !ok {
		_ = c.teardownNetwork()
		return
	}

	c.refsMu.Lock()
	op, found := c.pendingResponse[packetID]
	if found {
		delete(c.pendingResponse, packetID)
	}
	c.refsMu.Unlock()
	if !found {
		_ = c.teardownNetwork()
		return
	}

	c.refsMu.Lock()
	op.complete(BadResponse, merr)
	op.release()
	c.refsMu.Unlock()
}

func (c *Connection) handleConnack(p *packets.ConnackPacket) {
	c.refsMu.Lock()
	op := c.pendingConnect
	c.pendingConnect = nil
	c.refsMu.Unlock()
	if op == nil {
		return
	}

	status := Success
	var err error
	if p.ReturnCode != packets.ConnAccepted {
		status = ServerRefused
		err = fmt.Errorf("broker refused CONNECT: return code %d", p.ReturnCode)
	}

	c.refsMu.Lock()
	op.complete(status, err)
	op.release()
	c.refsMu.Unlock()
}

func (c *Connection) handleSuback(p *packets.SubackPacket) {
	c.refsMu.Lock()
	op, ok := c.pendingResponse[p.PacketID]
	if ok {
		delete(c.pendingResponse, p.PacketID)
	}
	c.refsMu.Unlock()
	if !ok {
		return
	}

	// Return codes follow the order of the SUBSCRIBE's topic filters, so
	// that order is recovered from the serialized packet op still holds.
	accepted := make(map[string]bool)
	if hdr, err := packets.DecodeFixedHeader(bytes.NewReader(op.packet)); err == nil && hdr.RemainingLength <= len(op.packet) {
		if sp, err := packets.DecodeSubscribe(op.packet[len(op.packet)-hdr.RemainingLength:]); err == nil {
			for i, filter := range sp.Topics {
				if i < len(p.ReturnCodes) && p.ReturnCodes[i] != packets.SubackFailure {
					accepted[filter] = true
				}
			}
		}
	}
	op.conn.retainAccepted(p.PacketID, accepted)

	c.refsMu.Lock()
	op.complete(Success, nil)
	op.release()
	c.refsMu.Unlock()
}

func (c *Connection) handleUnsuback(p *packets.UnsubackPacket) {
	c.refsMu.Lock()
	op, ok := c.pendingResponse[p.PacketID]
	if ok {
		delete(c.pendingResponse, p.PacketID)
	}
	c.refsMu.Unlock()
	if !ok {
		return
	}
	c.refsMu.Lock()
	op.complete(Success, nil)
	op.release()
	c.refsMu.Unlock()
}

func (c *Connection) handlePuback(p *packets.PubackPacket) {
	c.refsMu.Lock()
	op, ok := c.pendingResponse[p.PacketID]
	if ok {
		delete(c.pendingResponse, p.PacketID)
	}
	c.refsMu.Unlock()
	if !ok {
		return
	}
	c.refsMu.Lock()
	op.complete(Success, nil)
	op.release()
	c.refsMu.Unlock()
}

func (c *Connection) handlePingresp() {
	c.refsMu.Lock()
	c.pingPending = false
	c.refsMu.Unlock()
}

func (c *Connection) handlePublish(p *packets.PublishPacket) {
	matches := c.matchPublish(p.Topic)
	msg := Message{
		Topic:     p.Topic,
		Payload:   p.Payload,
		QoS:       QoS(p.QoS),
		Retained:  p.Retain,
		Duplicate: p.Dup,
	}
	for _, s := range matches {
		s.callback(msg)
		c.releaseSubscription(s)
	}

	if p.QoS == uint8(AtLeastOnce) {
		c.sendPuback(p.PacketID)
	}
}

// sendPuback fires a PUBACK as a lightweight, untracked operation: nothing
// waits on it and it never retries, so there is nothing to correlate a
// response to.
func (c *Connection) sendPuback(packetID uint16) {
	ack := &packets.PubackPacket{PacketID: packetID}
	buf, err := encodePacket(ack)
	if err != nil {
		c.logger.Debugw("failed to encode PUBACK", "error", err)
		return
	}
	c.sendMu.Lock()
	_, _ = c.transport.Send(buf)
	c.sendMu.Unlock()
}

// allocateFrame copies src into a buffer obtained from the connection's
// Allocator, so the pool (if configured) backs every operation's wire
// bytes rather than just the codec's own scratch allocation. When the
// allocator is a bounded StaticPoolAllocator, exhaustion or a too-small
// slot is returned as an error rather than silently falling back to an
// unbounded heap buffer, which would defeat the pool's whole purpose.
func (c *Connection) allocateFrame(src []byte) ([]byte, error) {
	buf, err := c.allocator.Alloc(len(src))
	if err != nil {
		return nil, err
	}
	copy(buf, src)
	return buf, nil
}

// encodePacket serializes pkt without going through a Connection's
// possibly-overridden Codec; used for the internal PUBACK acks this
// runtime synthesizes itself rather than a caller-issued operation.
func encodePacket(pkt packets.Packet) ([]byte, error) {
	var buf []byte
	bw := &byteSliceWriter{buf: &buf}
	if _, err := pkt.WriteTo(bw); err != nil {
		return nil, err
	}
	return buf, nil
}

// byteSliceWriter is the minimal io.Writer a Packet.WriteTo needs when we
// want the serialized bytes back without pulling in bytes.Buffer for a
// single fire-and-forget PUBACK.
type byteSliceWriter struct {
	buf *[]byte
}

func (w *byteSliceWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}

// dropReferenceLocked drops one connection reference, destroying the
// Connection when it reaches zero. Caller must hold refsMu.
func (c *Connection) dropReferenceLocked() {
	c.references--
	if c.references > 0 {
		return
	}
	if c.metrics != nil {
		c.metrics.Close()
	}
	if closer, ok := c.taskPool.(interface{ Close() }); ok {
		closer.Close()
	}
}

// releaseKeepAliveRefLocked drops the connection reference held on behalf
// of the keep-alive job, exactly once, from whichever of {teardown, the
// job observing disconnected} gets there first. Caller must hold refsMu.
func (c *Connection) releaseKeepAliveRefLocked() {
	if !c.keepAliveArmed {
		return
	}
	c.keepAliveArmed = false
	c.dropReferenceLocked()
}

// Disconnect sends DISCONNECT (unless flags has CleanupOnly), tears down
// the network connection and fails every remaining operation, then drops
// the caller's reference. It is idempotent: calling it again on an
// already-disconnected Connection still drops the caller's reference.
func (c *Connection) Disconnect(ctx context.Context, flags OpFlags) error {
	c.refsMu.Lock()
	alreadyDisconnected := c.disconnected
	c.refsMu.Unlock()

	var sendErr, teardownErr error
	if !alreadyDisconnected && flags&CleanupOnly == 0 {
		sendErr = c.sendDisconnectAndWait(ctx)
	}

	if !alreadyDisconnected {
		teardownErr = c.teardownNetwork()
	}

	c.refsMu.Lock()
	c.dropReferenceLocked()
	c.refsMu.Unlock()

	return multierr.Append(sendErr, teardownErr)
}

func (c *Connection) sendDisconnectAndWait(ctx context.Context) error {
	op := c.refsMu_newOperation(OpDisconnect, Waitable)
	packet, err := c.codec.EncodeDisconnect()
	if err != nil {
		c.refsMu.Lock()
		op.destroy()
		c.refsMu.Unlock()
		return err
	}
	op.packet, err = c.allocateFrame(packet)
	if err != nil {
		c.refsMu.Lock()
		op.destroy()
		c.refsMu.Unlock()
		return &StatusError{Status: NoMemory, OpType: OpDisconnect, Parent: err}
	}

	c.enqueueSend(op)

	waitCtx, cancel := context.WithTimeout(ctx, c.runtime.ResponseWait)
	defer cancel()
	_, werr := op.Wait(waitCtx)
	return werr
}

// teardownNetwork marks the connection disconnected, closes the
// transport, fails every outstanding operation with NetworkError, and
// releases the keep-alive reference if armed. Safe to call once; a second
// call is a no-op.
func (c *Connection) teardownNetwork() error {
	c.refsMu.Lock()
	if c.disconnected {
		c.refsMu.Unlock()
		return nil
	}
	c.disconnected = true
	c.logger.Infow("tearing down network connection", "client_id", c.clientID)

	sendOps := c.pendingSend.Drain()
	responseOps := make([]*Operation, 0, len(c.pendingResponse))
	for _, op := range c.pendingResponse {
		responseOps = append(responseOps, op)
	}
	c.pendingResponse = make(map[uint16]*Operation)
	if pc := c.pendingConnect; pc != nil {
		responseOps = append(responseOps, pc)
		c.pendingConnect = nil
	}

	job := c.keepAliveJob
	c.keepAliveJob = nil
	c.releaseKeepAliveRefLocked()
	c.refsMu.Unlock()

	if job != nil {
		job.TryCancel()
	}

	err := c.transport.Close()

	c.refsMu.Lock()
	for _, op := range sendOps {
		op.complete(NetworkError, ErrDisconnected)
		op.release()
	}
	for _, op := range responseOps {
		op.complete(NetworkError, ErrDisconnected)
		op.release()
	}
	c.refsMu.Unlock()

	c.subMu.Lock()
	for filter, s := range c.subscriptions {
		s.unsubscribed = true
		delete(c.subscriptions, filter)
	}
	c.subMu.Unlock()

	return err
}

func (c *Connection) scheduleKeepAlive(delay time.Duration) {
	c.refsMu.Lock()
	if c.disconnected {
		c.refsMu.Unlock()
		return
	}
	c.refsMu.Unlock()
	handle := c.taskPool.Schedule(delay, c.fireKeepAlive)
	c.refsMu.Lock()
	c.keepAliveJob = handle
	c.refsMu.Unlock()
}

func (c *Connection) fireKeepAlive(ctx context.Context) {
	c.refsMu.Lock()
	if c.disconnected {
		c.releaseKeepAliveRefLocked()
		c.refsMu.Unlock()
		return
	}
	// Marked before the write so a PINGRESP that arrives before Send
	// returns still clears it.
	c.pingPending = true
	c.refsMu.Unlock()

	c.sendMu.Lock()
	n, err := c.transport.Send(c.pingreqPacket)
	c.sendMu.Unlock()
	if err != nil || n < len(c.pingreqPacket) {
		_ = c.teardownNetwork()
		return
	}

	deadline := time.NewTimer(c.runtime.ResponseWait)
	defer deadline.Stop()
	<-deadline.C

	c.refsMu.Lock()
	stillPending := c.pingPending
	disconnected := c.disconnected
	c.refsMu.Unlock()

	if disconnected {
		return
	}
	if stillPending {
		if c.metrics != nil {
			c.metrics.KeepAliveMisses.Inc()
		}
		_ = c.teardownNetwork()
		return
	}

	c.scheduleKeepAlive(time.Duration(c.keepAliveMs) * time.Millisecond)
}

// enqueueSend places op on pendingSend and schedules processSend on the
// task pool, decoupling the calling goroutine from the actual write. An
// operation expecting a correlated response is registered in
// pendingResponse here, before the write happens, so a response racing
// the scheduler never finds an empty table. CONNECT is the one exception:
// CONNACK carries no packet identifier, so it is correlated via
// pendingConnect instead (set by the caller before enqueueing).
func (c *Connection) enqueueSend(op *Operation) {
	if op.expectsAck && op.opType != OpConnect {
		c.refsMu.Lock()
		c.pendingResponse[op.packetID] = op
		c.refsMu.Unlock()
	}
	c.pendingSend.PushBack(op)
	c.taskPool.Schedule(0, func(ctx context.Context) { c.processSend(op) })
}

// processSend is the task-pool job that moves op off pendingSend and onto
// the wire.
func (c *Connection) processSend(op *Operation) {
	c.pendingSend.Remove(op)

	c.refsMu.Lock()
	disconnected := c.disconnected
	c.refsMu.Unlock()
	if disconnected {
		c.refsMu.Lock()
		c.failOperationLocked(op, ErrDisconnected)
		c.refsMu.Unlock()
		return
	}

	c.transmit(op)
}

// transmit writes op's packet through the send turnstile and advances its
// state machine: on a short write or transport error the operation
// completes with NetworkError; otherwise it either completes immediately
// (no ack expected, no retry armed) or is left in pendingResponse awaiting
// a correlated inbound packet, arming a retry timer if configured.
func (c *Connection) transmit(op *Operation) {
	c.sendMu.Lock()
	n, err := c.transport.Send(op.packet)
	c.sendMu.Unlock()

	if err == nil && c.metrics != nil {
		c.metrics.BytesSent.Add(float64(n))
	}

	c.refsMu.Lock()
	defer c.refsMu.Unlock()

	if err != nil || n < len(op.packet) {
		if err == nil {
			err = fmt.Errorf("short write: wrote %d of %d bytes", n, len(op.packet))
		}
		c.failOperationLocked(op, err)
		return
	}

	if !op.expectsAck && !op.retry.armed() {
		op.complete(Success, nil)
		op.release()
		return
	}

	if op.retry.armed() {
		delay := time.Duration(op.retry.nextPeriodMs) * time.Millisecond
		c.taskPool.Schedule(delay, func(ctx context.Context) { c.retryFire(op) })
	}
}

// failOperationLocked removes op from whichever correlation structure it
// is registered under and completes it with NetworkError. Caller must
// hold refsMu.
func (c *Connection) failOperationLocked(op *Operation, err error) {
	if op.opType == OpConnect {
		if c.pendingConnect == op {
			c.pendingConnect = nil
		}
	} else if op.expectsAck {
		delete(c.pendingResponse, op.packetID)
	}
	op.complete(NetworkError, err)
	op.release()
}

func (c *Connection) retryFire(op *Operation) {
	c.refsMu.Lock()
	if op.status != Pending {
		c.refsMu.Unlock()
		return
	}
	if c.disconnected {
		c.refsMu.Unlock()
		return
	}
	if op.retry.exhausted() {
		delete(c.pendingResponse, op.packetID)
		op.complete(RetryNoResponse, nil)
		op.release()
		c.refsMu.Unlock()
		return
	}
	op.retry.advance()
	if c.metrics != nil {
		c.metrics.Retries.Inc()
	}
	if c.awsMode && op.packetIDOffset >= 0 {
		binary.BigEndian.PutUint16(op.packet[op.packetIDOffset:], op.packetID)
	}
	c.refsMu.Unlock()

	c.transmit(op)
}
