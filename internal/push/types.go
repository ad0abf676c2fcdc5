package push

import "time"

// Outcome classifies one delivery attempt.
type Outcome string

const (
	// OutcomeDelivered means the gateway accepted the notification.
	OutcomeDelivered Outcome = "delivered"

	// OutcomeTransient means delivery failed but retrying may succeed
	// (network error, gateway 5xx, gateway rate limit).
	OutcomeTransient Outcome = "transient_failure"

	// OutcomePermanent means the token is invalid or revoked; retrying
	// is pointless and the device should be unregistered.
	OutcomePermanent Outcome = "permanent_failure"
)

// Payload is the notification body sent to the gateway. It carries
// everything the receiving client needs to render without a second
// round trip.
type Payload struct {
	EventID     string    `json:"event_id"`
	EntityID    string    `json:"entity_id"`
	Category    string    `json:"category"`
	TitleLocKey string    `json:"title_loc_key"`
	Body        string    `json:"body"`
	Timestamp   time.Time `json:"timestamp"`

	// Critical requests DND bypass on the receiving device.
	Critical bool `json:"critical"`
}

// Result is the terminal outcome of a delivery including retries.
type Result struct {
	Outcome  Outcome
	Attempts int
	Err      error
}

// Delivered reports whether the notification reached the gateway.
func (r Result) Delivered() bool { return r.Outcome == OutcomeDelivered }
