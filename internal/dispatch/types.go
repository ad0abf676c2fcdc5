package dispatch

import "time"

// EventOutcome is the aggregate terminal state of one dispatched event.
type EventOutcome string

const (
	// EventDelivered means every resolved recipient was reached.
	EventDelivered EventOutcome = "delivered"

	// EventPartiallyDelivered means some recipients were reached.
	EventPartiallyDelivered EventOutcome = "partially_delivered"

	// EventAbandoned means no recipient was reached after retries.
	EventAbandoned EventOutcome = "abandoned"

	// EventRateCapped means every recipient was over its volume cap;
	// the event is folded into aggregated overflow notifications.
	EventRateCapped EventOutcome = "rate_capped"

	// EventNoRecipients means no eligible device was registered.
	EventNoRecipients EventOutcome = "no_recipients"
)

// Notice is the app event feed document broadcast over WebSocket.
type Notice struct {
	Type       string    `json:"type"`
	EventID    string    `json:"event_id,omitempty"`
	EntityID   string    `json:"entity_id,omitempty"`
	Category   string    `json:"category,omitempty"`
	Level      string    `json:"level,omitempty"`
	State      string    `json:"state,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	Recipients int       `json:"recipients,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Notice type values.
const (
	NoticeCriticalDispatch = "critical_dispatch"
	NoticeWarningEvent     = "warning_event"
	NoticeOverflow         = "overflow_dispatch"
)
