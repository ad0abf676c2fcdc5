package classify

import (
	"github.com/emberlink/emberlink/internal/hub"
	"github.com/emberlink/emberlink/internal/monitoring"
)

// Level is the severity of a classification verdict.
type Level string

const (
	// LevelNone means the event warrants no notification.
	LevelNone Level = "none"

	// LevelWarning feeds the app event stream but never a push.
	LevelWarning Level = "warning"

	// LevelCritical produces a DND-bypassing push notification.
	LevelCritical Level = "critical"
)

// criticalClasses are sensor classes whose activation is life-safety
// relevant and eligible for critical push delivery.
var criticalClasses = map[string]struct{}{
	"co":       {},
	"gas":      {},
	"moisture": {},
	"smoke":    {},
}

// warningClasses are sensor classes surfaced on the app event feed at
// warning severity. They never bypass DND.
var warningClasses = map[string]struct{}{
	"battery":   {},
	"cold":      {},
	"heat":      {},
	"problem":   {},
	"safety":    {},
	"tamper":    {},
	"vibration": {},
}

// IsCriticalClass reports whether class is a critical sensor class.
func IsCriticalClass(class string) bool {
	_, ok := criticalClasses[class]
	return ok
}

// IsWarningClass reports whether class is a warning sensor class.
func IsWarningClass(class string) bool {
	_, ok := warningClasses[class]
	return ok
}

// IsAlarmClass reports whether class is tracked at either severity.
func IsAlarmClass(class string) bool {
	return IsCriticalClass(class) || IsWarningClass(class)
}

// Verdict is the outcome of classifying one event.
type Verdict struct {
	Level    Level
	Category string
}

// Critical reports whether the verdict demands push delivery.
func (v Verdict) Critical() bool { return v.Level == LevelCritical }

// Classify evaluates one event against the monitoring snapshot.
//
// Only activation transitions qualify: the new state must be the
// sensor's alarmed value. Unknown and unavailable states are treated as
// not triggered, so transient hub glitches cannot raise alarms. A
// triggered-to-triggered transition still classifies as critical when
// the state value changed; suppressing genuine re-alerts is the
// cooldown's job, not classification's.
func Classify(ev hub.StateChangeEvent, snap *monitoring.Snapshot) Verdict {
	if !triggered(ev.NewState) {
		return Verdict{Level: LevelNone}
	}
	if ev.NewState == ev.OldState {
		return Verdict{Level: LevelNone}
	}

	class := ev.Entity.Class

	if snap.Eligible(ev.Entity.Domain, class, ev.Entity.EntityID()) {
		return Verdict{Level: LevelCritical, Category: categoryFor(class)}
	}

	if IsWarningClass(class) {
		return Verdict{Level: LevelWarning, Category: class}
	}

	return Verdict{Level: LevelNone}
}

// triggered reports whether state is an alarmed value. Binary sensors
// report "on" when alarmed; everything else, including unavailable and
// unknown, fails closed.
func triggered(state string) bool {
	return state == hub.StateOn
}

// categoryFor names the notification category for a sensor class.
// Explicitly included entities of an unrecognized class fall back to
// the generic critical category.
func categoryFor(class string) string {
	if class != "" {
		return class
	}
	return "critical"
}
