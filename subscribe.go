package mqttrt

import (
	"context"
	"time"

	"github.com/skylinemq/mqttrt/internal/packets"
	"github.com/skylinemq/mqttrt/internal/validate"
)

// Subscribe submits a SUBSCRIBE operation covering every topic in info.
// Subscription records are installed optimistically, keyed by the
// operation's packet id, before the packet is handed to the scheduler;
// a SUBACK later prunes anything the broker refused, and an encoding or
// buffer allocation failure, or a timed-out Wait, prunes all of them via
// removeSubscriptionsByPacketID. A transport write failure does not remove
// them.
func (c *Connection) Subscribe(ctx context.Context, info SubscribeInfo, flags OpFlags) (*Operation, error) {
	if len(info.Topics) == 0 {
		return nil, &StatusError{Status: BadParameter, OpType: OpSubscribe}
	}
	if len(info.QoS) != 0 && len(info.QoS) != len(info.Topics) {
		return nil, &StatusError{Status: BadParameter, OpType: OpSubscribe}
	}
	for _, t := range info.Topics {
		if err := validate.SubscribeFilter(t); err != nil {
			return nil, &StatusError{Status: BadParameter, OpType: OpSubscribe, Parent: err}
		}
	}
	if info.Callback == nil {
		return nil, &StatusError{Status: BadParameter, OpType: OpSubscribe}
	}

	c.refsMu.Lock()
	if c.disconnected {
		c.refsMu.Unlock()
		return nil, &StatusError{Status: NetworkError, OpType: OpSubscribe, Parent: ErrDisconnected}
	}
	op := newOperation(c, OpSubscribe, flags)
	op.expectsAck = true
	op.packetID = c.nextPacketID()
	c.refsMu.Unlock()

	qos := make([]uint8, len(info.Topics))
	for i := range info.Topics {
		q := AtMostOnce
		if i < len(info.QoS) {
			q = info.QoS[i]
		}
		qos[i] = uint8(q)
		c.addSubscription(info.Topics[i], q, op.packetID, info.Callback)
	}

	pkt := &packets.SubscribePacket{
		PacketID: op.packetID,
		Topics:   info.Topics,
		QoS:      qos,
	}
	packet, err := c.codec.EncodeSubscribe(pkt)
	if err != nil {
		c.removeSubscriptionsByPacketID(op.packetID)
		c.refsMu.Lock()
		op.destroy()
		c.refsMu.Unlock()
		return nil, &StatusError{Status: InitFailed, OpType: OpSubscribe, Parent: err}
	}
	op.packet, err = c.allocateFrame(packet)
	if err != nil {
		c.removeSubscriptionsByPacketID(op.packetID)
		c.refsMu.Lock()
		op.destroy()
		c.refsMu.Unlock()
		return nil, &StatusError{Status: NoMemory, OpType: OpSubscribe, Parent: err}
	}

	if c.metrics != nil {
		op.countsInFlight = true
		c.metrics.OperationsInFlight.Inc()
	}

	c.enqueueSend(op)

	return op, nil
}

// Unsubscribe submits an UNSUBSCRIBE operation. Subscription records for
// the given filters are removed immediately, before the packet is even
// serialized: once a caller asks to unsubscribe, no further inbound
// PUBLISH should reach its callback, independent of whether the broker
// ever acknowledges it.
func (c *Connection) Unsubscribe(ctx context.Context, topics []string, flags OpFlags) (*Operation, error) {
	if len(topics) == 0 {
		return nil, &StatusError{Status: BadParameter, OpType: OpUnsubscribe}
	}
	for _, t := range topics {
		if err := validate.SubscribeFilter(t); err != nil {
			return nil, &StatusError{Status: BadParameter, OpType: OpUnsubscribe, Parent: err}
		}
	}

	c.refsMu.Lock()
	if c.disconnected {
		c.refsMu.Unlock()
		return nil, &StatusError{Status: NetworkError, OpType: OpUnsubscribe, Parent: ErrDisconnected}
	}
	op := newOperation(c, OpUnsubscribe, flags)
	op.expectsAck = true
	op.packetID = c.nextPacketID()
	c.refsMu.Unlock()

	for _, t := range topics {
		c.removeSubscription(t)
	}

	pkt := &packets.UnsubscribePacket{
		PacketID: op.packetID,
		Topics:   topics,
	}
	packet, err := c.codec.EncodeUnsubscribe(pkt)
	if err != nil {
		c.refsMu.Lock()
		op.destroy()
		c.refsMu.Unlock()
		return nil, &StatusError{Status: InitFailed, OpType: OpUnsubscribe, Parent: err}
	}
	op.packet, err = c.allocateFrame(packet)
	if err != nil {
		c.refsMu.Lock()
		op.destroy()
		c.refsMu.Unlock()
		return nil, &StatusError{Status: NoMemory, OpType: OpUnsubscribe, Parent: err}
	}

	if c.metrics != nil {
		op.countsInFlight = true
		c.metrics.OperationsInFlight.Inc()
	}

	c.enqueueSend(op)

	return op, nil
}

// SubscribeAndWait submits the SUBSCRIBE and blocks on its completion.
func (c *Connection) SubscribeAndWait(ctx context.Context, info SubscribeInfo, flags OpFlags) (Status, error) {
	op, err := c.Subscribe(ctx, info, flags|Waitable)
	if err != nil {
		return statusOf(err), err
	}
	return op.Wait(ctx)
}

// SubscribeTimed is SubscribeAndWait with a plain timeout.
func (c *Connection) SubscribeTimed(info SubscribeInfo, flags OpFlags, timeout time.Duration) (Status, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.SubscribeAndWait(ctx, info, flags)
}

// UnsubscribeAndWait submits the UNSUBSCRIBE and blocks on its completion.
func (c *Connection) UnsubscribeAndWait(ctx context.Context, topics []string, flags OpFlags) (Status, error) {
	op, err := c.Unsubscribe(ctx, topics, flags|Waitable)
	if err != nil {
		return statusOf(err), err
	}
	return op.Wait(ctx)
}

// UnsubscribeTimed is UnsubscribeAndWait with a plain timeout.
func (c *Connection) UnsubscribeTimed(topics []string, flags OpFlags, timeout time.Duration) (Status, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.UnsubscribeAndWait(ctx, topics, flags)
}
