package registry

import "time"

// Registration is one mobile device registered for a household.
type Registration struct {
	// ID is the client-generated stable device identifier.
	ID string `json:"id"`

	// HouseholdID scopes the device to one installation.
	HouseholdID string `json:"household_id"`

	// PushToken is the gateway delivery token. Refreshed on
	// re-registration; last writer wins.
	PushToken string `json:"push_token"`

	// CriticalEnabled gates DND-bypassing delivery to this device.
	CriticalEnabled bool `json:"critical_enabled"`

	RegisteredAt time.Time `json:"registered_at"`
	LastSeen     time.Time `json:"last_seen"`
}

// Clone returns an independent copy.
func (r *Registration) Clone() *Registration {
	c := *r
	return &c
}

// StaleAt reports whether the device's last-seen is older than the
// threshold at the given instant.
func (r *Registration) StaleAt(now time.Time, staleAfter time.Duration) bool {
	return now.Sub(r.LastSeen) > staleAfter
}
