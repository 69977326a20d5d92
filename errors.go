package mqttrt

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the connection runtime.
var (
	// ErrDisconnected is returned when an operation is submitted to, or
	// already in flight on, a connection that has torn down.
	ErrDisconnected = errors.New("connection disconnected")

	// ErrWillTooLarge is returned when a will payload exceeds the
	// 65535-byte will-only restriction.
	ErrWillTooLarge = errors.New("will payload exceeds 65535 bytes")

	// ErrRefConsumed is returned when Wait is called on an operation that
	// was not created Waitable (including a QoS 0 publish whose Waitable
	// flag was dropped). A second Wait on a Waitable operation is not
	// detected.
	ErrRefConsumed = errors.New("operation reference already consumed")
)

// StatusError wraps a terminal Status with the context of which operation
// produced it.
type StatusError struct {
	Status Status
	OpType OpType
	Parent error
}

func (e *StatusError) Error() string {
	if e.Parent != nil {
		return fmt.Sprintf("%s %s: %s", OperationTypeName(e.OpType), e.Status, e.Parent)
	}
	return fmt.Sprintf("%s: %s", OperationTypeName(e.OpType), e.Status)
}

func (e *StatusError) Unwrap() error {
	return e.Parent
}

// Is allows errors.Is(err, SomeStatus) style checks against the Status enum.
func (e *StatusError) Is(target error) bool {
	var other *StatusError
	if errors.As(target, &other) {
		return e.Status == other.Status
	}
	return false
}

// statusOf extracts the Status an API call's rejection carries, for the
// AndWait wrappers that must return a Status even when the underlying call
// never reached the scheduler.
func statusOf(err error) Status {
	var serr *StatusError
	if errors.As(err, &serr) {
		return serr.Status
	}
	return InitFailed
}
