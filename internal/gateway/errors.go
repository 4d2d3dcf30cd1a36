package gateway

import "errors"

// Domain errors for the gateway package.
var (
	// ErrMissingIdentifier is returned when a connection attempt carries no
	// device identifier. The attempt is rejected before any state is bound.
	ErrMissingIdentifier = errors.New("gateway: missing device identifier")

	// ErrUnknownDevice is returned when the presented identifier is not in
	// the device store.
	ErrUnknownDevice = errors.New("gateway: unknown device")

	// ErrUnknownConnection is returned when pushing to a connection handle
	// that is no longer (or never was) in the arena.
	ErrUnknownConnection = errors.New("gateway: unknown connection")
)

// Disconnect reasons communicated to devices via force_disconnect.
const (
	// ReasonKeyDeleted is sent when the device's key is deleted from the
	// registry while it is connected.
	ReasonKeyDeleted = "Device key was deleted"

	// ReasonLivenessExpired is sent when the device exceeded the liveness
	// window without a heartbeat.
	ReasonLivenessExpired = "Connection timed out"
)
