package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one bound device connection.
//
// The ID is the opaque handle stored on the device record; the websocket
// itself is owned here. Outbound messages go through the buffered send
// channel drained by a single writer goroutine, so no caller ever writes to
// the socket directly.
type Conn struct {
	// ID is the arena handle for this connection.
	ID string

	// Identifier is the public identifier of the bound device.
	Identifier string

	gw   *Gateway
	ws   *websocket.Conn
	send chan []byte

	// done stops the liveness watchdog; closed exactly once on teardown.
	done chan struct{}

	mu            sync.Mutex
	lastHeartbeat time.Time

	closeOnce sync.Once
}

// touch records a heartbeat, keeping the connection in its active state.
func (c *Conn) touch() {
	c.mu.Lock()
	c.lastHeartbeat = time.Now()
	c.mu.Unlock()
}

// sinceHeartbeat returns the elapsed time since the last heartbeat signal.
func (c *Conn) sinceHeartbeat() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastHeartbeat)
}

// trySend attempts to queue data for the writer goroutine.
// It silently handles closed channels (connection torn down during a push)
// and full buffers (slow device).
func (c *Conn) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
		// Device buffer full, skip
	}
}

// readPump reads messages from the device until the connection dies.
// Any exit path tears the connection down exactly once.
func (c *Conn) readPump() {
	defer c.gw.closeConn(c, "")

	c.ws.SetReadLimit(int64(c.gw.cfg.MaxMessageSize))

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.gw.logger.Warn("websocket read error", "identifier", c.Identifier, "error", err)
			} else {
				c.gw.logger.Debug("websocket closed", "identifier", c.Identifier)
			}
			return
		}
		c.handleMessage(message)
	}
}

// writePump drains the send channel onto the socket. It is the only writer.
// When the send channel is closed by teardown, any buffered frames (such as
// a final force_disconnect) are flushed before the socket is closed.
func (c *Conn) writePump() {
	defer c.ws.Close() //nolint:errcheck // Socket teardown; read side observes the close

	for message := range c.send {
		//nolint:errcheck // Best-effort deadline; write error caught below
		c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}

	// Channel closed: polite close frame, then drop the socket.
	//nolint:errcheck // Best-effort close message
	c.ws.WriteMessage(websocket.CloseMessage, nil)
}

// watchdog enforces the liveness window. It checks the heartbeat age on a
// fixed interval and forces the connection closed when the window is
// exceeded. The ticker is stopped when teardown closes the done channel.
func (c *Conn) watchdog() {
	ticker := time.NewTicker(c.gw.cfg.LivenessCheckIntervalDuration())
	defer ticker.Stop()

	window := c.gw.cfg.LivenessWindowDuration()

	for {
		select {
		case <-ticker.C:
			if age := c.sinceHeartbeat(); age > window {
				c.gw.logger.Warn("liveness window exceeded, closing connection",
					"identifier", c.Identifier,
					"silence", age.Round(time.Second),
				)
				c.gw.closeConn(c, ReasonLivenessExpired)
				return
			}
		case <-c.done:
			return
		}
	}
}

// handleMessage dispatches one inbound envelope.
func (c *Conn) handleMessage(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.gw.logger.Debug("dropping malformed message", "identifier", c.Identifier, "error", err)
		return
	}

	switch env.Event {
	case EventHeartbeat:
		c.touch()
	case EventSMSResponse:
		var resp SMSResponse
		if err := json.Unmarshal(env.Data, &resp); err != nil {
			c.gw.logger.Debug("dropping malformed sms-response", "identifier", c.Identifier, "error", err)
			return
		}
		// Any inbound traffic proves the device is alive.
		c.touch()
		c.gw.resolveReply(c, resp)
	default:
		c.gw.logger.Debug("dropping unknown event", "identifier", c.Identifier, "event", env.Event)
	}
}
