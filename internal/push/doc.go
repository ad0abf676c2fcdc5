// Package push delivers notifications to the external push gateway.
//
// The gateway client maps HTTP responses onto a three-way outcome:
// delivered, transient failure (retry), permanent failure (token dead,
// unregister the device). The Sender wraps the client with bounded
// exponential backoff and jitter for transient failures; deciding what
// a permanent failure means for the registry is the dispatch engine's
// job, not this package's.
package push
