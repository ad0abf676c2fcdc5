// Package hub consumes the home-automation hub's entity state-change feed.
//
// The hub publishes one JSON document per state transition to
// hub/event/state/{domain}/{object_id}. This package decodes those
// documents into StateChangeEvent values, drops malformed ones, keeps a
// snapshot cache of alarm-class sensor states, and hands valid events to
// a Sink (the dispatch engine's bounded intake queue).
//
// Intake applies backpressure rather than dropping: when the sink is
// full, Feed blocks on the MQTT handler goroutine and the broker's QoS 1
// session buffers the overflow.
package hub
