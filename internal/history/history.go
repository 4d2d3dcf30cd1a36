// Package history keeps a local audit trail of SMS delivery attempts.
//
// Every relay attempt is recorded regardless of outcome, so operators can
// answer "what happened to that message" without a device in hand. The log
// lives in SQLite next to the broker and survives restarts.
package history

import (
	"context"
	"time"
)

// Delivery outcome values.
const (
	OutcomeDelivered    = "delivered"
	OutcomeFailed       = "failed"
	OutcomeTimeout      = "timeout"
	OutcomeNotConnected = "not_connected"
	OutcomeNotFound     = "not_found"
)

// Entry represents a single recorded SMS relay attempt.
type Entry struct {
	// ID is the auto-incremented primary key for the history row.
	ID int64 `json:"id"`

	// Identifier is the public identifier of the target device.
	Identifier string `json:"deviceIdentifier"`

	// Destination is the phone number the message was relayed to.
	Destination string `json:"destination"`

	// Message is the relayed message body.
	Message string `json:"message"`

	// Outcome is the final state of the attempt (delivered, failed,
	// timeout, not_connected, not_found).
	Outcome string `json:"outcome"`

	// Detail carries the device's reply text or the failure description.
	Detail string `json:"detail,omitempty"`

	// RequestID is the correlation ID of the attempt, when one was issued.
	RequestID string `json:"requestId,omitempty"`

	// CreatedAt is the timestamp of the attempt (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// Repository stores and retrieves delivery history.
//
// Implementations must be thread-safe and use UTC timestamps.
type Repository interface {
	// Record persists one relay attempt.
	Record(ctx context.Context, entry Entry) error

	// List returns recent attempts ordered newest first. An empty
	// identifier returns attempts for all devices; limit may be clamped
	// by the implementation.
	List(ctx context.Context, identifier string, limit int) ([]Entry, error)

	// Prune deletes entries older than the given duration and reports how
	// many rows were removed.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}
