package hub

import (
	"sort"
	"sync"
	"time"
)

// SensorState is the last observed state of one cached entity.
type SensorState struct {
	EntityID     string    `json:"entity_id"`
	Class        string    `json:"class"`
	State        string    `json:"state"`
	FriendlyName string    `json:"friendly_name,omitempty"`
	ChangedAt    time.Time `json:"changed_at"`
}

// Triggered reports whether the sensor is currently in its alarmed state.
func (s SensorState) Triggered() bool {
	return s.State == StateOn
}

// StateCache keeps the last observed state of entities whose class
// passes the filter. It backs the sensor snapshot API so clients can
// render current alarm status without a hub round trip.
type StateCache struct {
	mu     sync.RWMutex
	states map[string]SensorState
	filter func(class string) bool
}

// NewStateCache creates a cache retaining entities whose class passes
// filter. A nil filter retains everything.
func NewStateCache(filter func(class string) bool) *StateCache {
	return &StateCache{
		states: make(map[string]SensorState),
		filter: filter,
	}
}

// Observe records the event's resulting state if its class is retained.
func (c *StateCache) Observe(ev StateChangeEvent) {
	if c.filter != nil && !c.filter(ev.Entity.Class) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[ev.Entity.EntityID()] = SensorState{
		EntityID:     ev.Entity.EntityID(),
		Class:        ev.Entity.Class,
		State:        ev.NewState,
		FriendlyName: ev.FriendlyName,
		ChangedAt:    ev.Timestamp,
	}
}

// Get returns the cached state for an entity id.
func (c *StateCache) Get(entityID string) (SensorState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.states[entityID]
	return s, ok
}

// Snapshot returns all cached states ordered by entity id.
func (c *StateCache) Snapshot() []SensorState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]SensorState, 0, len(c.states))
	for _, s := range c.states {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

// Len returns the number of cached entities.
func (c *StateCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.states)
}
