package monitoring

import "errors"

var (
	// ErrNotConfigured indicates no monitoring configuration row exists yet.
	ErrNotConfigured = errors.New("monitoring: not configured")

	// ErrVersionConflict indicates a concurrent update won the version race.
	ErrVersionConflict = errors.New("monitoring: version conflict")
)
