// Package dispatch orchestrates the path from hub event to delivered
// notification.
//
// A single intake goroutine consumes the hub feed, drops duplicate
// event ids, and shards events across a fixed worker pool by entity id,
// so events for one entity are processed in arrival order while
// different entities proceed in parallel. Each worker classifies,
// applies the cooldown and per-device caps, resolves recipients, and
// fans deliveries out concurrently. Intake never waits on delivery.
//
// Per event the engine walks Received, Classified, RateChecked,
// RecipientsResolved, Dispatching, then a terminal Delivered,
// PartiallyDelivered or Abandoned. Rejected and suppressed events
// terminate early at debug severity. Terminal outcomes are persisted to
// the delivery outcome log and broadcast to connected apps.
package dispatch
