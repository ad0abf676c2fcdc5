package dispatch

import "errors"

var (
	// ErrStopped indicates the engine is shutting down and no longer
	// accepts events.
	ErrStopped = errors.New("dispatch: engine stopped")
)
