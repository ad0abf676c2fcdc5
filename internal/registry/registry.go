package registry

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Logger is the minimal logging interface used by the registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures registry lifecycle thresholds.
type Options struct {
	// StaleAfter excludes devices from delivery once last-seen is
	// older than this.
	StaleAfter time.Duration

	// PurgeAfter deletes devices once last-seen is older than this.
	// Must be >= StaleAfter.
	PurgeAfter time.Duration

	// GCInterval is how often the purge sweep runs.
	GCInterval time.Duration
}

// Registry manages device registrations with a write-through cache.
//
// All mutations take the write lock, persist to the repository, then
// update the cache, so ResolveRecipients (read lock) always observes a
// prefix-consistent view: a device removed by Unregister is gone from
// every later resolution.
type Registry struct {
	repo   Repository
	opts   Options
	logger Logger

	mu    sync.RWMutex
	cache map[string]*Registration

	// now is replaceable in tests.
	now func() time.Time
}

// New creates a registry. Call Load before serving.
func New(repo Repository, opts Options) *Registry {
	return &Registry{
		repo:   repo,
		opts:   opts,
		logger: noopLogger{},
		cache:  make(map[string]*Registration),
		now:    time.Now,
	}
}

// SetLogger replaces the registry's logger.
func (r *Registry) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Load populates the cache from the repository.
func (r *Registry) Load(ctx context.Context) error {
	regs, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading registrations: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]*Registration, len(regs))
	for i := range regs {
		r.cache[regs[i].ID] = regs[i].Clone()
	}
	r.logger.Info("device registrations loaded", "count", len(regs))
	return nil
}

// Register creates or refreshes a registration. Idempotent by device
// id: re-registering updates the token and last-seen rather than
// duplicating the entry, and preserves the original registration time
// and the critical opt-out choice.
func (r *Registry) Register(ctx context.Context, id, householdID, pushToken string) (*Registration, error) {
	if id == "" || householdID == "" || pushToken == "" {
		return nil, fmt.Errorf("%w: id, household id and push token are required", ErrInvalidRegistration)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	reg := &Registration{
		ID:              id,
		HouseholdID:     householdID,
		PushToken:       pushToken,
		CriticalEnabled: true,
		RegisteredAt:    now,
		LastSeen:        now,
	}
	if existing, ok := r.cache[id]; ok {
		reg.RegisteredAt = existing.RegisteredAt
		reg.CriticalEnabled = existing.CriticalEnabled
	}

	if err := r.repo.Upsert(ctx, reg); err != nil {
		return nil, fmt.Errorf("registering device %s: %w", id, err)
	}
	r.cache[id] = reg
	r.logger.Info("device registered", "device_id", id, "household_id", householdID)
	return reg.Clone(), nil
}

// Heartbeat refreshes a device's last-seen timestamp.
func (r *Registry) Heartbeat(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.cache[id]
	if !ok {
		return ErrNotFound
	}

	seen := r.now().UTC()
	if err := r.repo.UpdateLastSeen(ctx, id, seen); err != nil {
		return fmt.Errorf("recording heartbeat for %s: %w", id, err)
	}
	reg.LastSeen = seen
	return nil
}

// Unregister removes a device. Once this returns, no later
// ResolveRecipients call includes the device; an in-flight delivery to
// it is allowed to complete and fail harmlessly.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.cache[id]; !ok {
		return ErrNotFound
	}
	if err := r.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("unregistering device %s: %w", id, err)
	}
	delete(r.cache, id)
	r.logger.Info("device unregistered", "device_id", id)
	return nil
}

// SetCriticalEnabled flips a device's critical-delivery flag.
func (r *Registry) SetCriticalEnabled(ctx context.Context, id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.cache[id]
	if !ok {
		return ErrNotFound
	}
	if err := r.repo.SetCriticalEnabled(ctx, id, enabled); err != nil {
		return fmt.Errorf("setting critical flag for %s: %w", id, err)
	}
	reg.CriticalEnabled = enabled
	r.logger.Info("critical delivery flag changed", "device_id", id, "enabled", enabled)
	return nil
}

// Get returns a copy of one registration.
func (r *Registry) Get(id string) (*Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.cache[id]
	if !ok {
		return nil, ErrNotFound
	}
	return reg.Clone(), nil
}

// List returns copies of all registrations for a household.
func (r *Registry) List(householdID string) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Registration
	for _, reg := range r.cache {
		if reg.HouseholdID == householdID {
			out = append(out, *reg.Clone())
		}
	}
	return out
}

// ResolveRecipients returns the household's devices eligible for
// critical delivery: critical-enabled and seen within the staleness
// threshold. Stale devices are skipped but not deleted; the GC sweep
// handles removal.
func (r *Registry) ResolveRecipients(householdID string) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now().UTC()
	var out []Registration
	for _, reg := range r.cache {
		if reg.HouseholdID != householdID || !reg.CriticalEnabled {
			continue
		}
		if reg.StaleAt(now, r.opts.StaleAfter) {
			continue
		}
		out = append(out, *reg.Clone())
	}
	return out
}

// RunGC periodically purges registrations unseen past the purge
// threshold. Blocks until ctx is cancelled.
func (r *Registry) RunGC(ctx context.Context) {
	ticker := time.NewTicker(r.opts.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				r.logger.Error("registration gc sweep failed", "error", err)
			}
		}
	}
}

// Sweep deletes registrations unseen past the purge threshold.
func (r *Registry) Sweep(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().UTC().Add(-r.opts.PurgeAfter)
	ids, err := r.repo.DeleteSeenBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purging expired registrations: %w", err)
	}
	for _, id := range ids {
		delete(r.cache, id)
	}
	if len(ids) > 0 {
		r.logger.Info("purged inactive devices", "count", len(ids))
	}
	return nil
}
