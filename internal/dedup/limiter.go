package dedup

import (
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// dedupKey identifies one cooldown record.
type dedupKey struct {
	entityID string
	state    string
}

// overflowBucket accumulates events suppressed by a device's rate cap.
type overflowBucket struct {
	events     int
	categories map[string]struct{}
	since      time.Time
}

// OverflowSummary describes the suppressed events owed to one device,
// delivered as a single aggregated notification.
type OverflowSummary struct {
	DeviceID   string
	Events     int
	Categories []string
	Since      time.Time
}

// Limiter implements the per-entity cooldown and the per-device volume
// cap. Safe for concurrent use by all dispatch workers.
type Limiter struct {
	mu sync.Mutex

	cooldown time.Duration
	records  map[dedupKey]time.Time

	capPerHour int
	perDevice  map[string]*rate.Limiter
	overflow   map[string]*overflowBucket
}

// NewLimiter creates a limiter with the given per-entity cooldown and
// per-device hourly cap. A cap of zero disables the device cap.
func NewLimiter(cooldown time.Duration, capPerHour int) *Limiter {
	return &Limiter{
		cooldown:   cooldown,
		records:    make(map[dedupKey]time.Time),
		capPerHour: capPerHour,
		perDevice:  make(map[string]*rate.Limiter),
		overflow:   make(map[string]*overflowBucket),
	}
}

// ShouldDispatch reports whether a notification for (entityID, newState)
// is allowed at now, recording the dispatch when accepted.
//
// Elapsed time is clamped to zero so wall-clock skew never produces a
// negative window.
func (l *Limiter) ShouldDispatch(entityID, newState string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := dedupKey{entityID: entityID, state: newState}
	if last, ok := l.records[key]; ok {
		elapsed := now.Sub(last)
		if elapsed < 0 {
			elapsed = 0
		}
		if elapsed < l.cooldown {
			return false
		}
	}
	l.records[key] = now
	return true
}

// AllowDevice consumes one delivery token for the device. Returns false
// when the hourly cap is exhausted; the caller should then record the
// event via AddOverflow instead of delivering.
func (l *Limiter) AllowDevice(deviceID string) bool {
	if l.capPerHour <= 0 {
		return true
	}

	l.mu.Lock()
	limiter := l.deviceLimiterLocked(deviceID)
	l.mu.Unlock()

	return limiter.Allow()
}

// AddOverflow records one suppressed event for a capped device.
func (l *Limiter) AddOverflow(deviceID, category string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	bucket, ok := l.overflow[deviceID]
	if !ok {
		bucket = &overflowBucket{categories: make(map[string]struct{}), since: now}
		l.overflow[deviceID] = bucket
	}
	bucket.events++
	if category != "" {
		bucket.categories[category] = struct{}{}
	}
}

// CollectOverflow returns the aggregated summaries for devices whose
// rate bucket has refilled, consuming one token per returned device and
// clearing its backlog. Devices still capped keep accumulating.
func (l *Limiter) CollectOverflow() []OverflowSummary {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []OverflowSummary
	for deviceID, bucket := range l.overflow {
		if !l.deviceLimiterLocked(deviceID).Allow() {
			continue
		}

		categories := make([]string, 0, len(bucket.categories))
		for c := range bucket.categories {
			categories = append(categories, c)
		}
		sort.Strings(categories)

		out = append(out, OverflowSummary{
			DeviceID:   deviceID,
			Events:     bucket.events,
			Categories: categories,
			Since:      bucket.since,
		})
		delete(l.overflow, deviceID)
	}
	return out
}

// PendingOverflow returns a snapshot of the backlogged summaries
// without consuming rate tokens or clearing them. Used for health
// reporting and inspection.
func (l *Limiter) PendingOverflow() []OverflowSummary {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]OverflowSummary, 0, len(l.overflow))
	for deviceID, bucket := range l.overflow {
		categories := make([]string, 0, len(bucket.categories))
		for c := range bucket.categories {
			categories = append(categories, c)
		}
		sort.Strings(categories)
		out = append(out, OverflowSummary{
			DeviceID:   deviceID,
			Events:     bucket.events,
			Categories: categories,
			Since:      bucket.since,
		})
	}
	return out
}

// Prune drops cooldown records that expired before now, bounding the
// record map on installations with many churning entities.
func (l *Limiter) Prune(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, last := range l.records {
		if now.Sub(last) >= l.cooldown {
			delete(l.records, key)
		}
	}
}

// deviceLimiterLocked returns the device's token bucket, creating it on
// first use. Callers must hold l.mu.
func (l *Limiter) deviceLimiterLocked(deviceID string) *rate.Limiter {
	limiter, ok := l.perDevice[deviceID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(time.Hour/time.Duration(l.capPerHour)), l.capPerHour)
		l.perDevice[deviceID] = limiter
	}
	return limiter
}
