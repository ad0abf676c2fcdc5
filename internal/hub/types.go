package hub

import (
	"fmt"
	"strings"
	"time"
)

// Well-known entity state values. The hub reports binary sensors as
// on/off and substitutes unavailable/unknown during restarts or when a
// device drops off the network.
const (
	StateOn          = "on"
	StateOff         = "off"
	StateUnavailable = "unavailable"
	StateUnknown     = "unknown"
)

// EntityRef identifies a monitored source within the hub.
//
// Domain and ObjectID together form the hub-wide unique entity id
// ("binary_sensor.kitchen_smoke"). Class is the hub's device class for
// the entity (smoke, moisture, co, gas, battery, ...) and drives
// severity classification.
type EntityRef struct {
	Domain   string `json:"domain"`
	ObjectID string `json:"object_id"`
	Class    string `json:"class,omitempty"`
}

// EntityID returns the canonical "{domain}.{object_id}" identifier.
func (e EntityRef) EntityID() string {
	return e.Domain + "." + e.ObjectID
}

// ParseEntityID splits a canonical entity id into domain and object id.
func ParseEntityID(entityID string) (domain, objectID string, err error) {
	parts := strings.SplitN(entityID, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidEntityID, entityID)
	}
	return parts[0], parts[1], nil
}

// StateChangeEvent is one entity state transition as emitted by the hub.
//
// Events are ephemeral: they exist for the duration of dispatch
// processing and are never persisted beyond dedup bookkeeping. EventID
// is assigned by the hub and is the key for at-least-once dedup, since
// QoS 1 may deliver the same event twice.
type StateChangeEvent struct {
	EventID      string            `json:"event_id"`
	Entity       EntityRef         `json:"entity"`
	OldState     string            `json:"old_state"`
	NewState     string            `json:"new_state"`
	FriendlyName string            `json:"friendly_name,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

// Validate checks the fields dispatch cannot proceed without.
func (ev *StateChangeEvent) Validate() error {
	if ev.EventID == "" {
		return fmt.Errorf("%w: missing event_id", ErrMalformedEvent)
	}
	if ev.Entity.Domain == "" || ev.Entity.ObjectID == "" {
		return fmt.Errorf("%w: missing entity reference", ErrMalformedEvent)
	}
	if ev.NewState == "" {
		return fmt.Errorf("%w: missing new_state", ErrMalformedEvent)
	}
	return nil
}

// Name returns the human-readable entity name, falling back to the
// object id when the hub supplied no friendly name.
func (ev *StateChangeEvent) Name() string {
	if ev.FriendlyName != "" {
		return ev.FriendlyName
	}
	return ev.Entity.ObjectID
}
