// Package database provides the SQLite connection and migration machinery
// for Emberlink's durable state: device registrations, monitoring
// configuration, and the delivery outcome log.
//
// Migrations are embedded into the binary (see the migrations package) and
// applied on startup, so deployments never need loose SQL files.
package database
