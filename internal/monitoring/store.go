package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Logger is the minimal logging interface used by the store.
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

// Store serves the current configuration snapshot to dispatch workers
// and applies updates without a restart.
//
// Reads go through an atomic pointer and never contend with writers.
// Writes serialize on a mutex, persist first, then publish the new
// snapshot, so a crash between the two leaves the durable copy ahead of
// the in-memory one, never behind.
type Store struct {
	repo    Repository
	current atomic.Pointer[Snapshot]
	writeMu sync.Mutex
	logger  Logger
}

// NewStore creates a store backed by repo. Call Load before serving.
func NewStore(repo Repository) *Store {
	s := &Store{repo: repo, logger: noopLogger{}}
	s.current.Store(NewSnapshot(Config{}, 0))
	return s
}

// SetLogger replaces the store's logger.
func (s *Store) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Load reads the persisted configuration into the snapshot. A missing
// row is not an error; the store starts with an empty (nothing
// monitored) configuration at version 0.
func (s *Store) Load(ctx context.Context) error {
	cfg, version, err := s.repo.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrNotConfigured) {
			s.logger.Info("no monitoring configuration stored, starting empty")
			return nil
		}
		return fmt.Errorf("loading monitoring config: %w", err)
	}

	s.current.Store(NewSnapshot(cfg, version))
	s.logger.Info("monitoring configuration loaded",
		"version", version,
		"included_entities", len(cfg.IncludedEntityIDs))
	return nil
}

// Current returns the live snapshot. Never nil.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Update persists cfg as the successor of expected and publishes it.
// Dispatch workers observe the new snapshot on their next event.
// Returns ErrVersionConflict when expected is not the live version, so
// concurrent editors cannot silently overwrite each other.
func (s *Store) Update(ctx context.Context, cfg Config, expected int64) (*Snapshot, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current := s.current.Load().Version()
	if expected != current {
		return nil, fmt.Errorf("%w: submitted against v%d, live is v%d",
			ErrVersionConflict, expected, current)
	}

	next := current + 1
	if err := s.repo.Save(ctx, cfg, next); err != nil {
		return nil, fmt.Errorf("persisting monitoring config v%d: %w", next, err)
	}

	snap := NewSnapshot(cfg, next)
	s.current.Store(snap)
	s.logger.Info("monitoring configuration updated",
		"version", next,
		"included_entities", len(cfg.IncludedEntityIDs))
	return snap, nil
}
