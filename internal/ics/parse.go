// Package ics turns iCalendar feeds into the concrete events the week view
// lays out: fetch (with an HTTP cache), parse, then expand recurrences.
package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "einkcal/internal/log"
)

// VEvent is a parsed VEVENT before recurrence expansion.
type VEvent struct {
	Source Source

	UID      string
	Sequence int

	Summary     string
	Description string
	Location    string

	Start  time.Time
	End    time.Time
	AllDay bool

	RRule   string
	ExDates []time.Time

	// RecurrenceID is set on overrides of a single recurring instance.
	RecurrenceID *time.Time
}

// IsOverride reports whether the component replaces one instance of a series.
func (v VEvent) IsOverride() bool { return v.RecurrenceID != nil }

// Parse decodes one feed. Components that cannot be interpreted are logged
// and skipped; cancelled components are dropped.
func Parse(src Source, body []byte) ([]VEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("ics: empty body")
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ics: parse %s: %w", src.ID, err)
	}

	var out []VEvent
	for _, comp := range cal.Events() {
		if p := comp.GetProperty(ical.ComponentPropertyStatus); p != nil && strings.EqualFold(p.Value, "CANCELLED") {
			continue
		}
		ev, err := parseVEvent(src, comp)
		if err != nil {
			appLog.Warn("ics vevent skipped", "id", src.ID, "err", err)
			continue
		}
		out = append(out, ev)
	}
	appLog.Debug("ics parsed", "id", src.ID, "events", len(out))
	return out, nil
}

func parseVEvent(src Source, comp *ical.VEvent) (VEvent, error) {
	ev := VEvent{Source: src}

	uid := comp.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return ev, errors.New("missing UID")
	}
	ev.UID = uid.Value
	if p := comp.GetProperty(ical.ComponentPropertySequence); p != nil {
		ev.Sequence, _ = strconv.Atoi(strings.TrimSpace(p.Value))
	}
	ev.Summary = propValue(comp, ical.ComponentPropertySummary)
	ev.Description = propValue(comp, ical.ComponentPropertyDescription)
	ev.Location = propValue(comp, ical.ComponentPropertyLocation)

	dtStart := comp.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return ev, fmt.Errorf("%s: missing DTSTART", ev.UID)
	}
	ev.AllDay = isDateValue(dtStart)

	if ev.AllDay {
		start, err := parseTime(dtStart.Value, nil)
		if err != nil {
			return ev, fmt.Errorf("%s: DTSTART: %w", ev.UID, err)
		}
		ev.Start = start
		ev.End = start.AddDate(0, 0, 1)
		if p := comp.GetProperty(ical.ComponentPropertyDtEnd); p != nil {
			if end, err := parseTime(p.Value, nil); err == nil && end.After(start) {
				ev.End = end
			}
		}
	} else {
		start, err := comp.GetStartAt()
		if err != nil {
			return ev, fmt.Errorf("%s: DTSTART: %w", ev.UID, err)
		}
		ev.Start = start
		ev.End = start
		if end, err := comp.GetEndAt(); err == nil && !end.IsZero() {
			ev.End = end
		}
	}

	if p := comp.GetProperty(ical.ComponentPropertyRrule); p != nil {
		ev.RRule = p.Value
	}
	// Exceptions without TZID share the zone of DTSTART.
	for _, p := range comp.GetProperties(ical.ComponentPropertyExdate) {
		loc := tzidLocation(p, ev.Start.Location())
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseTime(part, loc); err == nil {
				ev.ExDates = append(ev.ExDates, t)
			}
		}
	}
	if p := comp.GetProperty(ical.ComponentPropertyRecurrenceId); p != nil {
		t, err := parseTime(p.Value, tzidLocation(p, ev.Start.Location()))
		if err != nil {
			return ev, fmt.Errorf("%s: RECURRENCE-ID: %w", ev.UID, err)
		}
		ev.RecurrenceID = &t
	}
	return ev, nil
}

func propValue(comp *ical.VEvent, prop ical.ComponentProperty) string {
	if p := comp.GetProperty(prop); p != nil {
		return p.Value
	}
	return ""
}

// isDateValue detects VALUE=DATE or a bare YYYYMMDD value.
func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func tzidLocation(p *ical.IANAProperty, fallback *time.Location) *time.Location {
	tz, ok := p.ICalParameters["TZID"]
	if !ok || len(tz) == 0 {
		return fallback
	}
	loc, err := time.LoadLocation(tz[0])
	if err != nil {
		return fallback
	}
	return loc
}

// parseTime handles the three iCalendar time forms. Floating and date-only
// values are read in loc, or UTC when loc is nil; date-only values are
// later re-anchored to the display zone by their calendar date.
func parseTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if loc == nil {
		loc = time.UTC
	}
	switch {
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}
