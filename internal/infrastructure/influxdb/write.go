package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteDispatchOutcome records the terminal outcome of one dispatched event.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - entityID: The entity that triggered the event
//   - category: Notification category (smoke, moisture, co, gas, ...)
//   - outcome: Aggregate outcome (delivered, partially_delivered, abandoned)
//   - recipients: Number of devices targeted
func (c *Client) WriteDispatchOutcome(entityID, category, outcome string, recipients int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"dispatch_outcomes",
		map[string]string{
			"category": category,
			"outcome":  outcome,
		},
		map[string]interface{}{
			"entity_id":  entityID,
			"recipients": recipients,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteDeliveryAttempt records a single push delivery attempt result.
//
// Parameters:
//   - deviceID: Target device identifier
//   - result: delivered, transient_failure, or permanent_failure
//   - attempts: Attempt count when the result was reached
//   - latency: Wall time from queueing to result
func (c *Client) WriteDeliveryAttempt(deviceID, result string, attempts int, latency time.Duration) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"delivery_attempts",
		map[string]string{
			"result": result,
		},
		map[string]interface{}{
			"device_id":  deviceID,
			"attempts":   attempts,
			"latency_ms": latency.Milliseconds(),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteQueueDepth records the dispatch queue depth for backpressure monitoring.
func (c *Client) WriteQueueDepth(depth, capacity int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"dispatch_queue",
		nil,
		map[string]interface{}{
			"depth":    depth,
			"capacity": capacity,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
