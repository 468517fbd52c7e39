package model

import "time"

// Event is a single concrete calendar entry as handed to the layout engine:
// recurrence is already expanded and Start/End are in the display timezone.
// Layout code treats it as read-only.
type Event struct {
	SourceID string // calendar source ID (e.g., config ICS ID)
	UID      string // iCalendar UID

	// InstanceKey uniquely identifies one occurrence of a recurring event,
	// typically the RFC3339 local start time.
	InstanceKey string

	Title       string
	Description string
	Location    string

	AllDay bool

	Start time.Time
	End   time.Time
}

// Duration returns End-Start. It is negative for malformed events.
func (e Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// Ident returns a short human-readable identity used in errors and logs.
func (e Event) Ident() string {
	id := e.UID
	if id == "" {
		id = e.Title
	}
	if e.InstanceKey != "" {
		id += "@" + e.InstanceKey
	}
	return id
}
