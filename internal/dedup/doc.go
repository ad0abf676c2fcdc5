// Package dedup suppresses notification noise on two axes.
//
// Per entity: a cooldown window keyed by (entity id, new state) so a
// flapping sensor re-alerts at most once per window. Per device: a
// token-bucket cap on critical notifications per hour, protecting a
// household from correlated multi-sensor storms. Events suppressed by
// the device cap are not dropped; they accumulate and surface as one
// aggregated overflow notification when the bucket refills.
//
// Records are in-memory only. After a restart the worst case is one
// early re-alert per entity, which at-least-once delivery accepts.
package dedup
