package influxdb

import (
	"context"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// defaultGaugeInterval is the gauge sampling cadence used when the
// configured interval is not positive.
const defaultGaugeInterval = 15 * time.Second

// WriteDelivery records one SMS relay attempt.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - identifier: Public identifier of the target device
//   - outcome: Final state of the attempt (delivered, failed, timeout, ...)
//   - latency: Time from push to reply (or to timeout)
func (c *Client) WriteDelivery(identifier string, outcome string, latency time.Duration) {
	c.WritePoint(
		"sms_delivery",
		map[string]string{
			"identifier": identifier,
			"outcome":    outcome,
		},
		map[string]interface{}{
			"latency_ms": float64(latency.Milliseconds()),
		},
	)
}

// WriteGauges records the connection and registration gauges.
//
// Called on each RunGauges tick so dashboards can graph fleet size against
// live connections.
func (c *Client) WriteGauges(connections, registered int) {
	c.WritePoint(
		"relay_gauges",
		map[string]string{},
		map[string]interface{}{
			"connections": connections,
			"registered":  registered,
		},
	)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// RunGauges samples the given source on a fixed cadence and records the
// result via WriteGauges until ctx is cancelled. A non-positive interval
// falls back to defaultGaugeInterval. Blocks; run in a goroutine.
func (c *Client) RunGauges(ctx context.Context, interval time.Duration, source func() (connections, registered int)) {
	if interval <= 0 {
		interval = defaultGaugeInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			connections, registered := source()
			c.WriteGauges(connections, registered)
		}
	}
}
