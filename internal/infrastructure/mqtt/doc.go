// Package mqtt provides the MQTT connection used to mirror relay events.
//
// The broker process is the source of truth for device and delivery state;
// this package only pushes copies of lifecycle and delivery events onto an
// MQTT broker so that dashboards and automations can observe the relay
// without polling the HTTP API.
//
// This package manages:
//   - Connection lifecycle with auto-reconnect and exponential backoff
//   - Last Will and Testament for crash detection
//   - Publishing with payload validation and timeouts
//   - Topic naming helpers for the smsgate/ hierarchy
//
// The mirror is optional. When mqtt.enabled is false in config.yaml the
// process never touches this package.
package mqtt
