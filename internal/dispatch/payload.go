package dispatch

import (
	"fmt"
	"strings"

	"github.com/emberlink/emberlink/internal/dedup"
	"github.com/emberlink/emberlink/internal/hub"
	"github.com/emberlink/emberlink/internal/push"
)

// categoryTitles maps notification categories to human phrasing for
// the notification body.
var categoryTitles = map[string]string{
	"smoke":    "Smoke",
	"moisture": "Water leak",
	"co":       "Carbon monoxide",
	"gas":      "Gas",
}

// buildPayload assembles the push payload for one critical event.
// The localization key follows notification.critical.{category}; the
// body is a ready-to-render fallback.
func buildPayload(ev hub.StateChangeEvent, category, householdName string) push.Payload {
	title := categoryTitles[category]
	if title == "" {
		title = "Critical"
	}

	body := fmt.Sprintf("%s alert: %s", title, ev.Name())
	if householdName != "" {
		body += " at " + householdName
	}

	return push.Payload{
		EventID:     ev.EventID,
		EntityID:    ev.Entity.EntityID(),
		Category:    category,
		TitleLocKey: "notification.critical." + category,
		Body:        body,
		Timestamp:   ev.Timestamp,
		Critical:    true,
	}
}

// buildOverflowPayload assembles the single aggregated notification a
// rate-capped device receives once its window reopens.
func buildOverflowPayload(eventID string, summary dedup.OverflowSummary, householdName string) push.Payload {
	body := fmt.Sprintf("%d critical events suppressed", summary.Events)
	if len(summary.Categories) > 0 {
		body += " (" + strings.Join(summary.Categories, ", ") + ")"
	}
	if householdName != "" {
		body += " at " + householdName
	}

	return push.Payload{
		EventID:     eventID,
		Category:    "aggregate",
		TitleLocKey: "notification.critical.aggregate",
		Body:        body,
		Timestamp:   summary.Since,
		Critical:    true,
	}
}
