// Package events mirrors relay lifecycle and delivery events onto MQTT.
//
// The mirror is strictly best-effort: a publish failure is logged and
// forgotten, and never affects registration, connections, or the relay
// path itself.
package events

import (
	"encoding/json"
	"time"

	"github.com/relaywire/smsgate/internal/infrastructure/mqtt"
)

// Event type values carried in every payload.
const (
	TypeConnected    = "connected"
	TypeDisconnected = "disconnected"
	TypeRegistered   = "registered"
	TypeDeleted      = "deleted"
	TypeDelivery     = "delivery"
)

// Publisher is the transport surface the mirror needs. Satisfied by
// *mqtt.Client.
type Publisher interface {
	PublishEvent(topic string, payload []byte) error
}

// Logger receives publish failures. Compatible with logging.Logger.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// DeviceEvent is the payload for device lifecycle events.
type DeviceEvent struct {
	Type       string `json:"type"`
	Identifier string `json:"deviceIdentifier"`
	Reason     string `json:"reason,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// DeliveryEvent is the payload for SMS delivery outcome events.
type DeliveryEvent struct {
	Type        string `json:"type"`
	Identifier  string `json:"deviceIdentifier"`
	Destination string `json:"destination"`
	Outcome     string `json:"outcome"`
	RequestID   string `json:"requestId,omitempty"`
	LatencyMS   int64  `json:"latency_ms"`
	Timestamp   string `json:"timestamp"`
}

// Mirror publishes relay events to the MQTT broker.
//
// It implements the gateway's EventSink, so connection lifecycle events
// flow through without extra wiring.
type Mirror struct {
	pub    Publisher
	topics mqtt.Topics
	logger Logger
}

// NewMirror creates an event mirror over the given publisher.
func NewMirror(pub Publisher) *Mirror {
	return &Mirror{
		pub:    pub,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger used for publish failures.
func (m *Mirror) SetLogger(logger Logger) {
	m.logger = logger
}

// DeviceConnected mirrors a successful device bind.
func (m *Mirror) DeviceConnected(identifier string) {
	m.publishDevice(DeviceEvent{
		Type:       TypeConnected,
		Identifier: identifier,
	})
}

// DeviceDisconnected mirrors a connection teardown with its reason.
func (m *Mirror) DeviceDisconnected(identifier, reason string) {
	m.publishDevice(DeviceEvent{
		Type:       TypeDisconnected,
		Identifier: identifier,
		Reason:     reason,
	})
}

// DeviceRegistered mirrors a new device registration.
func (m *Mirror) DeviceRegistered(identifier string) {
	m.publishDevice(DeviceEvent{
		Type:       TypeRegistered,
		Identifier: identifier,
	})
}

// DeviceDeleted mirrors a device removal.
func (m *Mirror) DeviceDeleted(identifier string) {
	m.publishDevice(DeviceEvent{
		Type:       TypeDeleted,
		Identifier: identifier,
	})
}

// Delivery mirrors one SMS relay attempt and its outcome.
func (m *Mirror) Delivery(identifier, destination, outcome, requestID string, latency time.Duration) {
	event := DeliveryEvent{
		Type:        TypeDelivery,
		Identifier:  identifier,
		Destination: destination,
		Outcome:     outcome,
		RequestID:   requestID,
		LatencyMS:   latency.Milliseconds(),
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		m.logger.Warn("failed to encode delivery event", "identifier", identifier, "error", err)
		return
	}

	if err := m.pub.PublishEvent(m.topics.DeliveryEvent(identifier), payload); err != nil {
		m.logger.Warn("failed to mirror delivery event", "identifier", identifier, "error", err)
	}
}

// publishDevice stamps and publishes one device lifecycle event.
func (m *Mirror) publishDevice(event DeviceEvent) {
	event.Timestamp = time.Now().UTC().Format(time.RFC3339)

	payload, err := json.Marshal(event)
	if err != nil {
		m.logger.Warn("failed to encode device event", "identifier", event.Identifier, "error", err)
		return
	}

	if err := m.pub.PublishEvent(m.topics.DeviceEvent(event.Identifier), payload); err != nil {
		m.logger.Warn("failed to mirror device event",
			"identifier", event.Identifier,
			"type", event.Type,
			"error", err,
		)
	}
}
