// Package influxdb records relay metrics in InfluxDB v2.
//
// The relay pushes three kinds of measurements:
//   - sms_delivery: one point per relay attempt with latency and outcome
//   - connections: periodic gauge of live device connections
//   - devices: periodic gauge of registered devices
//
// Writes are non-blocking and batched by the underlying client; a write
// failure never affects the relay path. The integration is optional and
// controlled by influxdb.enabled in config.yaml.
package influxdb
