package hub

import "errors"

var (
	// ErrMalformedEvent indicates an event payload missing required fields.
	ErrMalformedEvent = errors.New("hub: malformed event")

	// ErrInvalidEntityID indicates an entity id not of the form domain.object_id.
	ErrInvalidEntityID = errors.New("hub: invalid entity id")
)
