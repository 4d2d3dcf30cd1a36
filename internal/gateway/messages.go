package gateway

import "encoding/json"

// Wire event names exchanged with devices.
const (
	// EventConnected is sent once on successful bind.
	EventConnected = "connected"

	// EventInsertSMS pushes an SMS command to the device.
	EventInsertSMS = "insert-sms"

	// EventForceDisconnect is sent immediately before the server severs the
	// connection.
	EventForceDisconnect = "force_disconnect"

	// EventHeartbeat is sent by the device with an empty payload to reset
	// the liveness window.
	EventHeartbeat = "heartbeat"

	// EventSMSResponse carries the device's reply to an insert-sms push.
	EventSMSResponse = "sms-response"
)

// Envelope is the framing for every message on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ConnectedPayload is the data of the connected event.
type ConnectedPayload struct {
	Message          string `json:"message"`
	DeviceIdentifier string `json:"deviceIdentifier"`
}

// SMSCommand is the data of the insert-sms event.
type SMSCommand struct {
	Destination string `json:"destination"`
	Message     string `json:"message"`
	RequestID   string `json:"requestId"`
}

// SMSResponse is the data of the sms-response event.
type SMSResponse struct {
	RequestID string `json:"requestId"`
	Status    bool   `json:"status"`
	Message   string `json:"message"`
}

// ForceDisconnectPayload is the data of the force_disconnect event.
type ForceDisconnectPayload struct {
	Reason string `json:"reason"`
}

// encodeEvent marshals an event envelope for the wire.
func encodeEvent(event string, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = raw
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}
