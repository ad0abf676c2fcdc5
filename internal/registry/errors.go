package registry

import "errors"

var (
	// ErrNotFound indicates no registration exists for the device id.
	ErrNotFound = errors.New("registry: device not found")

	// ErrInvalidRegistration indicates a registration missing required fields.
	ErrInvalidRegistration = errors.New("registry: invalid registration")
)
