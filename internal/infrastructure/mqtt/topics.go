package mqtt

import "fmt"

// Topic prefixes.
//
// The hub publishes state-change events under its own prefix
// (configurable, default "hub"); Emberlink publishes its own status
// under the emberlink prefix.
const (
	// DefaultHubPrefix is the default base for hub event topics.
	DefaultHubPrefix = "hub"

	// TopicPrefixSystem is the base for Emberlink system topics.
	TopicPrefixSystem = "emberlink/system"
)

// Topics provides builders for the MQTT topics Emberlink uses.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{Prefix: cfg.Hub.TopicPrefix}
//	eventTopic := topics.EntityState("binary_sensor", "kitchen_smoke")
//	// Returns: "hub/event/state/binary_sensor/kitchen_smoke"
type Topics struct {
	// Prefix overrides the hub topic prefix. Empty means DefaultHubPrefix.
	Prefix string
}

func (t Topics) hubPrefix() string {
	if t.Prefix == "" {
		return DefaultHubPrefix
	}
	return t.Prefix
}

// EntityState returns the topic for state-change events of a single entity.
//
// Example: hub/event/state/binary_sensor/kitchen_smoke
func (t Topics) EntityState(domain, objectID string) string {
	return fmt.Sprintf("%s/event/state/%s/%s", t.hubPrefix(), domain, objectID)
}

// AllEntityStates returns the wildcard topic matching every entity's
// state-change events.
//
// Example: hub/event/state/+/+
func (t Topics) AllEntityStates() string {
	return fmt.Sprintf("%s/event/state/+/+", t.hubPrefix())
}

// DomainStates returns the wildcard topic matching all entities of one domain.
//
// Example: hub/event/state/binary_sensor/+
func (t Topics) DomainStates(domain string) string {
	return fmt.Sprintf("%s/event/state/%s/+", t.hubPrefix(), domain)
}

// SystemStatus returns the topic for Emberlink's own online/offline status.
//
// Example: emberlink/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}
