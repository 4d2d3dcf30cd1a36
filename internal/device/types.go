package device

import (
	"time"

	"github.com/google/uuid"
)

// Device represents one registered physical device.
//
// The secret Key is supplied by the caller at creation and claims the
// server-generated Identifier. The Identifier is the public handle used by
// senders to address the device and by the device itself to authenticate its
// persistent connection. Neither is ever reassigned.
type Device struct {
	// ID is an opaque unique identifier assigned at creation, never reused.
	ID string `json:"id"`

	// Key is the caller-supplied secret. Unique across all devices,
	// immutable once set.
	Key string `json:"key"`

	// Identifier is the server-generated public handle. Unique, assigned at
	// creation, never reassigned.
	Identifier string `json:"deviceIdentifier"`

	// Expiry, when set and past, makes the key unusable for registration.
	// Existing bindings are unaffected.
	Expiry *time.Time `json:"expiry,omitempty"`

	// ConnectionID is the handle of the currently bound live connection.
	// It is a relation, not ownership: the connection's lifecycle belongs to
	// the gateway. Never persisted; a process restart cannot resurrect a
	// binding.
	ConnectionID string `json:"-"`

	// CreatedAt records when the device was registered.
	CreatedAt time.Time `json:"created_at"`
}

// Usable reports whether the device key can still be used for registration
// at the given instant: true iff no expiry is set or the expiry is in the
// future.
func (d *Device) Usable(now time.Time) bool {
	return d.Expiry == nil || d.Expiry.After(now)
}

// Copy returns an independent copy of the device so callers can never
// mutate store internals through a returned record.
func (d *Device) Copy() *Device {
	if d == nil {
		return nil
	}
	cpy := *d
	if d.Expiry != nil {
		expiry := *d.Expiry
		cpy.Expiry = &expiry
	}
	return &cpy
}

// GenerateID returns a new unique device ID.
//
// UUIDv4 is wide enough to treat as globally unique without a uniqueness
// check on the value itself.
func GenerateID() string {
	return uuid.New().String()
}

// GenerateIdentifier returns a new unique public device identifier.
func GenerateIdentifier() string {
	return uuid.New().String()
}
