package mqttrt

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

// retrySchedule tracks the QoS 1 PUBLISH retry/backoff state.
type retrySchedule struct {
	limit        uint32
	count        uint32
	nextPeriodMs uint32
	ceilingMs    uint32
}

// armed reports whether a retry schedule was configured (limit > 0); it
// stays true after the attempts run out, which exhausted reports.
func (r *retrySchedule) armed() bool {
	return r.limit > 0
}

// exhausted reports whether every retry attempt has been spent.
func (r *retrySchedule) exhausted() bool {
	return r.count >= r.limit
}

// advance records one retry attempt and doubles the backoff up to the
// ceiling, per the QoS 1 retry policy.
func (r *retrySchedule) advance() {
	r.count++
	next := r.nextPeriodMs * 2
	if r.ceilingMs > 0 && next > r.ceilingMs {
		next = r.ceilingMs
	}
	r.nextPeriodMs = next
}

// Operation is a single asynchronous user request plus its serialized wire
// packet and completion state. Its reference count lives under the owning
// Connection's refsMu — an Operation never has a lock of its own, so the
// connection's turnstile is the sole consistent reader of "did this drop to
// zero".
type Operation struct {
	opType OpType
	flags  OpFlags

	status Status // guarded by conn.refsMu

	packet         []byte
	packetID       uint16
	packetIDOffset int // byte offset of the packet-id field in packet; -1 if none (AWS-mode retry rewrite)

	// expectsAck marks an operation that moves to pendingResponse awaiting a
	// correlated inbound packet, rather than completing as soon as its
	// bytes are on the wire.
	expectsAck bool

	retry retrySchedule

	// countsInFlight marks an operation whose creation incremented
	// metrics.Set.OperationsInFlight; complete decrements it exactly once.
	countsInFlight bool

	references int // guarded by conn.refsMu

	callback func(*Operation)
	sem      *semaphore.Weighted // non-nil iff Waitable

	conn *Connection

	// err carries additional context (e.g. the parent network error) beyond
	// what Status alone conveys.
	err error
}

// Status returns the operation's current status. Safe to call at any time;
// it only stabilizes once Wait returns or the callback has fired.
func (op *Operation) Status() Status {
	op.conn.refsMu.Lock()
	defer op.conn.refsMu.Unlock()
	return op.status
}

// newOperation allocates an Operation bound to conn, taking one connection
// reference on its behalf: every live operation holds the connection open.
// Caller must hold conn.refsMu.
func newOperation(conn *Connection, opType OpType, flags OpFlags) *Operation {
	op := &Operation{
		opType:         opType,
		flags:          flags,
		status:         Pending,
		references:     1,
		conn:           conn,
		packetIDOffset: -1,
	}
	if flags&Waitable != 0 {
		op.sem = semaphore.NewWeighted(1)
		_ = op.sem.Acquire(context.Background(), 1) // starts at "count 0", released once on completion
		op.references++ // the waiter's own hold, separate from the scheduler's
	}
	conn.references++
	return op
}

// complete transitions the operation to a terminal status exactly once and
// fires its notification. Caller must hold conn.refsMu; complete releases
// it temporarily if invoking a user callback (callbacks never run under a
// lock, per the concurrency model).
func (op *Operation) complete(status Status, err error) {
	if op.status != Pending {
		return
	}
	op.status = status
	op.err = err

	if op.conn.allocator != nil && op.packet != nil {
		op.conn.allocator.Free(op.packet)
	}

	if op.countsInFlight {
		op.countsInFlight = false
		if op.conn.metrics != nil {
			op.conn.metrics.OperationsInFlight.Dec()
		}
	}

	if op.sem != nil {
		op.sem.Release(1)
		return
	}
	if op.callback != nil {
		cb := op.callback
		op.conn.refsMu.Unlock()
		cb(op)
		op.conn.refsMu.Lock()
	}
}

// release drops one reference, destroying the operation (dropping the
// connection reference it was created with) when it reaches zero. Caller
// must hold conn.refsMu.
func (op *Operation) release() {
	op.references--
	if op.references > 0 {
		return
	}
	op.conn.dropReferenceLocked()
}

// destroy drops every reference op currently holds. It's for a creation
// path that fails before the operation is ever handed to the scheduler or
// returned to a caller capable of calling Wait — there is no scheduler and
// no waiter left to release their own hold separately, so the creator owns
// both and must drop both itself. Caller must hold conn.refsMu.
func (op *Operation) destroy() {
	for op.references > 0 {
		op.release()
	}
}

// Wait blocks on the operation's completion signal up to ctx's deadline:
// verify the connection is not already disconnected, block on the
// semaphore, then release the waiter's own reference regardless of
// outcome.
func (op *Operation) Wait(ctx context.Context) (Status, error) {
	if op.sem == nil {
		return op.Status(), ErrRefConsumed
	}

	op.conn.refsMu.Lock()
	disconnected := op.conn.disconnected && op.status == Pending
	if disconnected {
		op.release()
	}
	op.conn.refsMu.Unlock()
	if disconnected {
		return NetworkError, ErrDisconnected
	}

	err := op.sem.Acquire(ctx, 1)

	op.conn.refsMu.Lock()
	defer op.conn.refsMu.Unlock()

	if err != nil {
		// Timed out or ctx cancelled before completion. The scheduler still
		// owns its reference; drop the waiter's. If this was a SUBSCRIBE,
		// remove any subscriptions provisionally added for this packet id.
		if op.opType == OpSubscribe {
			op.conn.refsMu.Unlock()
			op.conn.removeSubscriptionsByPacketID(op.packetID)
			op.conn.refsMu.Lock()
		}
		op.release()
		return Timeout, deadlineOrCancel(ctx)
	}

	status := op.status
	opErr := op.err
	op.release()
	return status, opErr
}

func deadlineOrCancel(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return context.DeadlineExceeded
}

// waitTimeout is Wait with a plain timeout instead of a caller context.
func (op *Operation) waitTimeout(timeout time.Duration) (Status, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return op.Wait(ctx)
}
