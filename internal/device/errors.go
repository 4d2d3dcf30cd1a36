package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrNotFound) {
//	    // handle not found case
//	}
var (
	// ErrNotFound is returned when a device key or identifier does not exist.
	ErrNotFound = errors.New("device: not found")

	// ErrDuplicateKey is returned when creating a device with a key that is
	// already registered.
	ErrDuplicateKey = errors.New("device: duplicate key")

	// ErrMissingKey is returned when a key is required but empty.
	ErrMissingKey = errors.New("device: missing key")

	// ErrExpired is returned when a key's expiry has passed and it can no
	// longer be used for registration.
	ErrExpired = errors.New("device: key expired")

	// ErrPersistence is returned when loading or flushing the device list
	// fails.
	ErrPersistence = errors.New("device: persistence failure")
)
