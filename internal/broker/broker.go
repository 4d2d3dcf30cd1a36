package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaywire/smsgate/internal/device"
	"github.com/relaywire/smsgate/internal/gateway"
)

// DefaultReplyTimeout is the end-to-end ceiling for a send when the caller
// does not configure one.
const DefaultReplyTimeout = 4500 * time.Millisecond

// Registry is the device lookup surface the broker needs.
type Registry interface {
	LookupByIdentifier(identifier string) (*device.Device, error)
}

// Conns is the connection surface the broker pushes commands through.
// Implemented by *gateway.Gateway.
type Conns interface {
	Resolve(identifier string) (connID string, ok bool)
	Push(connID, event string, payload any) error
}

// Reply is a device's answer to a pushed command.
type Reply struct {
	Status  bool
	Message string
}

// Broker correlates pushed commands with asynchronous device replies.
//
// All public methods are safe for concurrent use. Concurrent sends to the
// same device are independent; each gets its own request ID and pending
// entry, so there is no head-of-line blocking.
type Broker struct {
	registry Registry
	conns    Conns
	timeout  time.Duration

	mu      sync.Mutex
	pending map[string]chan Reply
	logger  device.Logger
}

// New creates a broker over the given registry and connection surface.
// A non-positive timeout falls back to DefaultReplyTimeout.
func New(registry Registry, conns Conns, timeout time.Duration) *Broker {
	if timeout <= 0 {
		timeout = DefaultReplyTimeout
	}
	return &Broker{
		registry: registry,
		conns:    conns,
		timeout:  timeout,
		pending:  make(map[string]chan Reply),
		logger:   noopLogger{},
	}
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// SetLogger sets the logger for the broker.
func (b *Broker) SetLogger(logger device.Logger) {
	b.logger = logger
}

// Send pushes an SMS command to the device addressed by identifier and
// suspends the caller until the matching reply arrives or the deadline
// fires.
//
// Returns ErrNotRegistered for an unknown identifier, ErrNotConnected when
// no live connection is bound, ErrTimeout when no reply arrived within the
// deadline, or the context error if ctx is cancelled first.
func (b *Broker) Send(ctx context.Context, identifier, destination, message string) (Reply, error) {
	if _, err := b.registry.LookupByIdentifier(identifier); err != nil {
		return Reply{}, ErrNotRegistered
	}

	connID, ok := b.conns.Resolve(identifier)
	if !ok {
		return Reply{}, ErrNotConnected
	}

	// The request ID embeds the target identifier for debuggability; the
	// random suffix makes collision within the table's lifetime practically
	// impossible.
	requestID := identifier + ":" + uuid.New().String()

	// Buffered so the resolving side never blocks on a slow caller.
	replyCh := make(chan Reply, 1)
	b.mu.Lock()
	b.pending[requestID] = replyCh
	b.mu.Unlock()

	if err := b.conns.Push(connID, gateway.EventInsertSMS, gateway.SMSCommand{
		Destination: destination,
		Message:     message,
		RequestID:   requestID,
	}); err != nil {
		b.remove(requestID)
		return Reply{}, ErrNotConnected
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-timer.C:
		// The deadline won the race; remove the entry so a late reply is
		// dropped. If the reply path already removed it, the reply is in
		// flight. Resolve deletes the entry before sending on the buffered
		// channel, so this receive is bounded and the entry is honoured
		// exactly once either way.
		if !b.remove(requestID) {
			reply := <-replyCh
			return reply, nil
		}
		b.logger.Warn("sms reply timeout", "request_id", requestID)
		return Reply{}, ErrTimeout
	case <-ctx.Done():
		b.remove(requestID)
		return Reply{}, ctx.Err()
	}
}

// Resolve completes the pending entry for requestID with the given reply.
// Called by the gateway when an sms-response event arrives on any
// connection. Returns false for unknown or already-resolved request IDs;
// such replies are dropped, not treated as errors.
func (b *Broker) Resolve(requestID string, status bool, message string) bool {
	b.mu.Lock()
	replyCh, ok := b.pending[requestID]
	if ok {
		delete(b.pending, requestID)
	}
	b.mu.Unlock()

	if !ok {
		b.logger.Debug("dropping reply for unknown request", "request_id", requestID)
		return false
	}

	replyCh <- Reply{Status: status, Message: message}
	return true
}

// PendingCount returns the number of in-flight requests.
func (b *Broker) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// remove deletes the pending entry if it still exists. Returns true when
// this call performed the removal, false when the entry was already
// resolved by the reply path.
func (b *Broker) remove(requestID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pending[requestID]; !ok {
		return false
	}
	delete(b.pending, requestID)
	return true
}
