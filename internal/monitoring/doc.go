// Package monitoring owns the per-installation monitoring configuration:
// which sensor classes are watched wholesale and which entity ids are
// explicitly opted in to critical alerting.
//
// The configuration is read on every dispatched event, so the Store
// keeps an immutable versioned Snapshot behind an atomic pointer.
// Updates persist to SQLite, bump the version, and swap the pointer;
// readers never block and never observe a half-applied update.
package monitoring
