// Package influxdb records dispatch and delivery metrics to InfluxDB.
//
// Metrics are optional (config-gated) and strictly fire-and-forget: the
// write API is non-blocking and batched, so a slow or unavailable metrics
// backend can never delay a critical notification.
package influxdb
