package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/relaywire/smsgate/internal/device"
	"github.com/relaywire/smsgate/internal/infrastructure/config"
)

// writeTimeout bounds each socket write so a wedged device cannot stall the
// writer goroutine forever.
const writeTimeout = 10 * time.Second

// Registry is the device store surface the gateway needs: authentication
// lookups plus binding maintenance.
type Registry interface {
	LookupByIdentifier(identifier string) (*device.Device, error)
	Bind(identifier, connID string) error
	Unbind(identifier, connID string)
}

// ReplySink receives correlated device replies. Implemented by the broker.
type ReplySink interface {
	Resolve(requestID string, status bool, message string) bool
}

// EventSink receives connection lifecycle notifications. Optional.
type EventSink interface {
	DeviceConnected(identifier string)
	DeviceDisconnected(identifier, reason string)
}

// noopEvents is an EventSink that does nothing.
type noopEvents struct{}

func (noopEvents) DeviceConnected(string)            {}
func (noopEvents) DeviceDisconnected(string, string) {}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Devices are not browsers; origin checking does not apply.
		return true
	},
}

// Gateway owns every live device connection.
//
// Connections are kept in an arena keyed by an opaque handle so that device
// records can reference them weakly. All public methods are safe for
// concurrent use.
type Gateway struct {
	cfg      config.GatewayConfig
	registry Registry
	sink     ReplySink
	events   EventSink
	logger   device.Logger

	mu    sync.RWMutex
	conns map[string]*Conn
}

// New creates a gateway over the given device registry.
// The reply sink must be set with SetReplySink before connections are
// accepted; it is attached late because the broker is constructed on top of
// the gateway.
func New(cfg config.GatewayConfig, registry Registry) *Gateway {
	return &Gateway{
		cfg:      cfg,
		registry: registry,
		events:   noopEvents{},
		logger:   noopDeviceLogger{},
		conns:    make(map[string]*Conn),
	}
}

// noopDeviceLogger is a logger that does nothing.
type noopDeviceLogger struct{}

func (noopDeviceLogger) Debug(string, ...any) {}
func (noopDeviceLogger) Info(string, ...any)  {}
func (noopDeviceLogger) Warn(string, ...any)  {}
func (noopDeviceLogger) Error(string, ...any) {}

// SetLogger sets the logger for the gateway.
func (g *Gateway) SetLogger(logger device.Logger) {
	g.logger = logger
}

// SetReplySink wires the correlation broker in as the reply destination.
func (g *Gateway) SetReplySink(sink ReplySink) {
	g.sink = sink
}

// SetEventSink wires an optional lifecycle event destination.
func (g *Gateway) SetEventSink(events EventSink) {
	g.events = events
}

// HandleWS authenticates and upgrades one device connection attempt.
//
// The handshake must carry the device identifier in the "identifier" query
// parameter. A missing identifier or an identifier not present in the
// device store rejects the attempt before the upgrade, so no partial state
// is ever observable.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	identifier := r.URL.Query().Get("identifier")
	if identifier == "" {
		http.Error(w, ErrMissingIdentifier.Error(), http.StatusBadRequest)
		return
	}

	if _, err := g.registry.LookupByIdentifier(identifier); err != nil {
		http.Error(w, ErrUnknownDevice.Error(), http.StatusNotFound)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("websocket upgrade failed", "identifier", identifier, "error", err)
		return
	}

	c := &Conn{
		ID:            uuid.New().String(),
		Identifier:    identifier,
		gw:            g,
		ws:            ws,
		send:          make(chan []byte, g.cfg.SendBufferSize),
		done:          make(chan struct{}),
		lastHeartbeat: time.Now(),
	}

	g.mu.Lock()
	g.conns[c.ID] = c
	g.mu.Unlock()

	// Binding a new connection supersedes any stale reference left over
	// from an ungraceful prior disconnect; the stale connection is not
	// closed here, and its eventual teardown cannot erase this binding.
	if err := g.registry.Bind(identifier, c.ID); err != nil {
		// Device was deleted between the lookup and the bind.
		g.mu.Lock()
		delete(g.conns, c.ID)
		g.mu.Unlock()
		ws.Close() //nolint:errcheck // Reject path
		return
	}

	g.logger.Info("device connected", "identifier", identifier, "connection", c.ID)

	go c.writePump()
	go c.readPump()
	go c.watchdog()

	g.push(c, EventConnected, ConnectedPayload{
		Message:          "Connection established",
		DeviceIdentifier: identifier,
	})
	g.events.DeviceConnected(identifier)
}

// Resolve returns the live connection handle bound to the identifier, if
// any. Returns false when the device is unknown or unbound, or when the
// bound handle has already left the arena.
func (g *Gateway) Resolve(identifier string) (string, bool) {
	d, err := g.registry.LookupByIdentifier(identifier)
	if err != nil || d.ConnectionID == "" {
		return "", false
	}

	g.mu.RLock()
	_, live := g.conns[d.ConnectionID]
	g.mu.RUnlock()
	if !live {
		return "", false
	}
	return d.ConnectionID, true
}

// Push sends a fire-and-forget event to the connection with the given
// handle. Returns ErrUnknownConnection if the handle is not in the arena.
func (g *Gateway) Push(connID, event string, payload any) error {
	g.mu.RLock()
	c, ok := g.conns[connID]
	g.mu.RUnlock()
	if !ok {
		return ErrUnknownConnection
	}
	g.push(c, event, payload)
	return nil
}

// ForceClose pushes a force_disconnect event with the given reason and then
// severs the connection. Used by the registry delete path.
func (g *Gateway) ForceClose(connID, reason string) error {
	g.mu.RLock()
	c, ok := g.conns[connID]
	g.mu.RUnlock()
	if !ok {
		return ErrUnknownConnection
	}
	g.closeConn(c, reason)
	return nil
}

// Count returns the number of live connections.
func (g *Gateway) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

// CloseAll severs every live connection. Called on shutdown.
func (g *Gateway) CloseAll() {
	g.mu.RLock()
	conns := make([]*Conn, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.RUnlock()

	for _, c := range conns {
		g.closeConn(c, "")
	}
}

// push marshals and queues one event for a connection.
func (g *Gateway) push(c *Conn, event string, payload any) {
	data, err := encodeEvent(event, payload)
	if err != nil {
		g.logger.Error("failed to encode event", "event", event, "error", err)
		return
	}
	c.trySend(data)
}

// resolveReply routes an sms-response to the correlation broker. Replies
// for unknown request IDs are dropped silently.
func (g *Gateway) resolveReply(c *Conn, resp SMSResponse) {
	if g.sink == nil {
		g.logger.Warn("sms-response received with no reply sink configured", "identifier", c.Identifier)
		return
	}
	if !g.sink.Resolve(resp.RequestID, resp.Status, resp.Message) {
		g.logger.Debug("late or unknown sms-response dropped",
			"identifier", c.Identifier,
			"request_id", resp.RequestID,
		)
	}
}

// closeConn tears a connection down exactly once: a non-empty reason is
// pushed as force_disconnect first, then the connection leaves the arena,
// the device binding is cleared (identity-checked, so a stale teardown
// never erases a newer binding), the watchdog is cancelled, and the send
// channel is closed so the writer flushes and drops the socket.
func (g *Gateway) closeConn(c *Conn, reason string) {
	c.closeOnce.Do(func() {
		if reason != "" {
			g.push(c, EventForceDisconnect, ForceDisconnectPayload{Reason: reason})
		}

		g.mu.Lock()
		delete(g.conns, c.ID)
		g.mu.Unlock()

		g.registry.Unbind(c.Identifier, c.ID)

		close(c.done)
		close(c.send)

		g.logger.Info("device disconnected",
			"identifier", c.Identifier,
			"connection", c.ID,
			"reason", reasonOrTransport(reason),
		)
		g.events.DeviceDisconnected(c.Identifier, reasonOrTransport(reason))
	})
}

// reasonOrTransport labels reason-less closes as transport-level.
func reasonOrTransport(reason string) string {
	if reason == "" {
		return "transport closed"
	}
	return reason
}
