// Package registry tracks the mobile devices registered to receive
// notifications for a household.
//
// Durable state lives in SQLite behind the Repository interface. The
// Registry layers a write-through in-memory cache on top so recipient
// resolution on the dispatch hot path never waits on the database, and
// removal is linearizable with resolution: once Unregister returns, no
// subsequent ResolveRecipients call includes the device.
//
// Devices fade out in two stages. Past the staleness threshold they are
// excluded from delivery but kept; past the purge threshold the GC
// sweep deletes them outright.
package registry
