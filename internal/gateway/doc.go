// Package gateway accepts and manages persistent device connections.
//
// Each WebSocket connection attempt is authenticated against the device
// store before any state becomes observable: the handshake must carry a
// registered device identifier. A successful attempt binds the connection
// handle to the device record, after which the connection moves through a
// liveness sub-state driven by application-level heartbeats.
//
// Connections live in an arena keyed by an opaque handle; device records
// hold only the handle string, never the connection object, so a stale
// record can never dangle into freed connection state. Clearing the binding
// on disconnect is identity-checked: an out-of-order teardown of a
// superseded connection never erases a newer binding.
//
// # Wire protocol
//
// Messages are JSON envelopes {"event": ..., "data": ...}:
//
//	server → device: connected, insert-sms, force_disconnect
//	device → server: heartbeat, sms-response
//
// Replies (sms-response) are handed to a ReplySink — the correlation
// broker — and matched there by request ID.
package gateway
