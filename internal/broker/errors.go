package broker

import "errors"

// Domain errors for the broker package.
//
// All three are expected business outcomes of a send, returned as typed
// errors and checked with errors.Is() at the control surface.
var (
	// ErrNotRegistered is returned when the target identifier is not in the
	// device store.
	ErrNotRegistered = errors.New("broker: device not registered")

	// ErrNotConnected is returned when the target device has no bound live
	// connection.
	ErrNotConnected = errors.New("broker: device not connected")

	// ErrTimeout is returned when no reply arrived within the deadline.
	// The command is not retried; delivery is best-effort.
	ErrTimeout = errors.New("broker: reply timeout")
)
