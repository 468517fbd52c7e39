package ics

import (
	"cmp"
	"errors"
	"slices"
	"time"

	"github.com/teambition/rrule-go"

	appLog "einkcal/internal/log"
	"einkcal/internal/model"
)

const defaultMaxPerSeries = 5000

// ExpandOptions selects the window and zone events are produced for.
type ExpandOptions struct {
	// Location is the display zone; nil means time.Local.
	Location *time.Location
	// From and To bound the half-open window [From, To).
	From, To time.Time
	// MaxPerSeries caps the instances of one recurring series.
	MaxPerSeries int
}

// Expansion is the outcome of Expand.
type Expansion struct {
	Events []model.Event
	// Truncated lists UIDs whose series hit MaxPerSeries.
	Truncated []string
}

// Expand turns parsed components into concrete events overlapping the
// window. Recurring series are expanded with their RRULE minus EXDATEs, and
// instances replaced by a RECURRENCE-ID override are emitted from the
// override instead. The result is sorted by start time.
func Expand(vevents []VEvent, opts ExpandOptions) (Expansion, error) {
	var res Expansion
	if !opts.To.After(opts.From) {
		return res, errors.New("ics: expand window is empty")
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.MaxPerSeries <= 0 {
		opts.MaxPerSeries = defaultMaxPerSeries
	}

	replaced := make(map[string][]time.Time)
	for _, v := range vevents {
		if v.IsOverride() {
			replaced[v.UID] = append(replaced[v.UID], *v.RecurrenceID)
		}
	}

	for _, v := range vevents {
		switch {
		case v.IsOverride() || v.RRule == "":
			if ev, ok := toEvent(v, v.Start, v.End, opts); ok {
				res.Events = append(res.Events, ev)
			}
		default:
			events, capped := expandSeries(v, replaced[v.UID], opts)
			res.Events = append(res.Events, events...)
			if capped {
				res.Truncated = append(res.Truncated, v.UID)
				appLog.Warn("ics series truncated", "uid", v.UID, "cap", opts.MaxPerSeries)
			}
		}
	}

	slices.SortStableFunc(res.Events, func(a, b model.Event) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return cmp.Compare(a.Title, b.Title)
	})
	return res, nil
}

func expandSeries(v VEvent, replaced []time.Time, opts ExpandOptions) ([]model.Event, bool) {
	r, err := rrule.StrToRRule(v.RRule)
	if err != nil {
		appLog.Error("ics rrule invalid", err, "uid", v.UID, "rrule", v.RRule)
		return nil, false
	}
	r.DTStart(v.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range v.ExDates {
		set.ExDate(ex.In(v.Start.Location()))
	}

	dur := v.End.Sub(v.Start)
	// Widen the lower bound so instances already running at From are kept.
	from := opts.From.Add(-dur).Add(-24 * time.Hour).In(v.Start.Location())
	to := opts.To.Add(24 * time.Hour).In(v.Start.Location())
	starts := set.Between(from, to, true)

	capped := false
	if len(starts) > opts.MaxPerSeries {
		starts = starts[:opts.MaxPerSeries]
		capped = true
	}

	var out []model.Event
	for _, s := range starts {
		if slices.ContainsFunc(replaced, s.Equal) {
			continue
		}
		if ev, ok := toEvent(v, s, s.Add(dur), opts); ok {
			out = append(out, ev)
		}
	}
	return out, capped
}

// toEvent converts one instance into the display zone and reports whether
// it overlaps the window. All-day instances keep their calendar dates.
func toEvent(v VEvent, start, end time.Time, opts ExpandOptions) (model.Event, bool) {
	loc := opts.Location
	if v.AllDay {
		days := int(end.Sub(start).Hours()+12) / 24
		start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
		end = start.AddDate(0, 0, max(days, 1))
	} else {
		start, end = start.In(loc), end.In(loc)
	}

	if end.Equal(start) {
		if start.Before(opts.From) || !start.Before(opts.To) {
			return model.Event{}, false
		}
	} else if !start.Before(opts.To) || !end.After(opts.From) {
		return model.Event{}, false
	}

	key := start
	if v.RecurrenceID != nil {
		key = v.RecurrenceID.In(loc)
	}
	return model.Event{
		SourceID:    v.Source.ID,
		UID:         v.UID,
		InstanceKey: key.Format(time.RFC3339),
		Title:       v.Summary,
		Description: v.Description,
		Location:    v.Location,
		AllDay:      v.AllDay,
		Start:       start,
		End:         end,
	}, true
}
