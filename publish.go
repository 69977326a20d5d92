package mqttrt

import (
	"context"
	"time"

	"github.com/skylinemq/mqttrt/internal/packets"
	"github.com/skylinemq/mqttrt/internal/validate"
)

const defaultRetryWait = 1 * time.Second

// Publish submits a PUBLISH operation. QoS 0 has no broker acknowledgment to
// wait on, so Waitable is meaningless there: if set, it is dropped (a
// warning is logged) rather than honored against a completion that would
// resolve as soon as the bytes are enqueued rather than on any
// acknowledgment, which is not what a caller asking to wait expects. QoS 2
// is not implemented and always fails with BadParameter.
func (c *Connection) Publish(ctx context.Context, info PublishInfo, flags OpFlags) (*Operation, error) {
	if info.QoS == ExactlyOnce {
		return nil, &StatusError{Status: BadParameter, OpType: OpPublish}
	}
	if err := validate.PublishTopic(info.Topic); err != nil {
		return nil, &StatusError{Status: BadParameter, OpType: OpPublish, Parent: err}
	}
	if err := validate.Payload(info.Payload); err != nil {
		return nil, &StatusError{Status: BadParameter, OpType: OpPublish, Parent: err}
	}
	if info.QoS == AtMostOnce && flags&Waitable != 0 {
		c.logger.Warnw("Waitable has no effect on a QoS 0 publish; ignoring", "topic", info.Topic)
		flags &^= Waitable
	}

	c.refsMu.Lock()
	if c.disconnected {
		c.refsMu.Unlock()
		return nil, &StatusError{Status: NetworkError, OpType: OpPublish, Parent: ErrDisconnected}
	}
	op := newOperation(c, OpPublish, flags)
	op.expectsAck = opExpectsAck(OpPublish, info.QoS)

	pkt := &packets.PublishPacket{
		QoS:     uint8(info.QoS),
		Retain:  info.Retain,
		Topic:   info.Topic,
		Payload: info.Payload,
	}
	if info.QoS > AtMostOnce {
		op.packetID = c.nextPacketID()
		pkt.PacketID = op.packetID

		if info.RetryLimit > 0 {
			wait := info.RetryWait
			if wait <= 0 {
				wait = defaultRetryWait
			}
			op.retry = retrySchedule{
				limit:        info.RetryLimit,
				nextPeriodMs: uint32(wait / time.Millisecond),
				ceilingMs:    uint32(c.runtime.RetryMsCeiling / time.Millisecond),
			}
		}
	}
	c.refsMu.Unlock()

	packet, err := c.codec.EncodePublish(pkt)
	if err != nil {
		c.refsMu.Lock()
		op.destroy()
		c.refsMu.Unlock()
		return nil, &StatusError{Status: InitFailed, OpType: OpPublish, Parent: err}
	}
	op.packet, err = c.allocateFrame(packet)
	if err != nil {
		c.refsMu.Lock()
		op.destroy()
		c.refsMu.Unlock()
		return nil, &StatusError{Status: NoMemory, OpType: OpPublish, Parent: err}
	}

	if c.awsMode && info.QoS > AtMostOnce {
		remainingLength := packets.StringLen(info.Topic) + 2 + len(info.Payload)
		op.packetIDOffset = packets.HeaderLen(remainingLength) + packets.StringLen(info.Topic)
	}

	if c.metrics != nil {
		op.countsInFlight = true
		c.metrics.OperationsInFlight.Inc()
	}

	c.enqueueSend(op)

	return op, nil
}

// PublishAndWait submits the PUBLISH and blocks on its completion, honoring
// ctx's deadline. It forces Waitable regardless of the caller's flags. A
// QoS 0 PUBLISH has nothing to wait for: it returns Success once enqueued.
func (c *Connection) PublishAndWait(ctx context.Context, info PublishInfo, flags OpFlags) (Status, error) {
	if info.QoS == AtMostOnce {
		if _, err := c.Publish(ctx, info, flags&^Waitable); err != nil {
			return statusOf(err), err
		}
		return Success, nil
	}
	op, err := c.Publish(ctx, info, flags|Waitable)
	if err != nil {
		return statusOf(err), err
	}
	return op.Wait(ctx)
}

// PublishTimed is PublishAndWait with a plain timeout instead of a caller
// context, matching the timed_* convenience wrappers.
func (c *Connection) PublishTimed(info PublishInfo, flags OpFlags, timeout time.Duration) (Status, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.PublishAndWait(ctx, info, flags)
}
