// Package layout places calendar events on a grid.WeekGrid and renders the
// week view as an ordered sequence of draw commands.
//
// Placement works per day: events are bucketed by the calendar date of
// their start, sorted, and greedily coloured into sub-columns. Every event
// of a day shares that day's sub-column count, so overlapping clusters
// render at a uniform width.
package layout

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"einkcal/internal/draw"
	"einkcal/internal/grid"
	"einkcal/internal/model"
)

// Sizes are the requested font sizes per text role, in pixels.
type Sizes struct {
	Header    int
	Day       int
	DayNumber int
	Time      int
	Event     int
}

// Options tune placement and rendering. The zero value is not useful; start
// from DefaultOptions.
type Options struct {
	// MinEventHeight is the smallest rendered block height.
	MinEventHeight int
	// InnerPadding is subtracted from every block's width.
	InnerPadding int
	// TextInset is the gap between a block edge and its title.
	TextInset int
	// SlotDuration is how long a zero-duration event counts for when
	// resolving overlaps.
	SlotDuration time.Duration
	// RuleWidth is the thickness of the black band separators.
	RuleWidth int
	// Ellipsis is appended to truncated titles. The built-in bitmap fonts
	// are ASCII only, hence "..." rather than U+2026.
	Ellipsis string

	Sizes Sizes

	// Highlight lists case-insensitive title keywords whose blocks are
	// drawn inverted.
	Highlight []string
	// ShowAllDay lists all-day events in the day header band. When false
	// they are dropped.
	ShowAllDay bool

	// Now stamps the header and footer and selects the highlighted day.
	// Zero disables all three.
	Now time.Time
	// Battery is a preformatted footer status such as "Battery 87%".
	Battery string

	// Fonts measures text. Nil falls back to draw.MonoFonts.
	Fonts draw.Fonts
}

// DefaultOptions returns the settings used for a 1264x1680 e-ink panel.
func DefaultOptions() Options {
	return Options{
		MinEventHeight: 22,
		InnerPadding:   6,
		TextInset:      6,
		SlotDuration:   15 * time.Minute,
		RuleWidth:      8,
		Ellipsis:       "...",
		Sizes: Sizes{
			Header:    48,
			Day:       24,
			DayNumber: 36,
			Time:      20,
			Event:     18,
		},
		ShowAllDay: true,
	}
}

// InvalidEventError reports an event that ends before it starts.
type InvalidEventError struct {
	Index int
	Event model.Event
}

func (e *InvalidEventError) Error() string {
	return fmt.Sprintf("layout: event %d (%s) ends before it starts: end %s < start %s",
		e.Index, e.Event.Ident(),
		e.Event.End.Format(time.RFC3339), e.Event.Start.Format(time.RFC3339))
}

// Slot is the placement of one timed event.
type Slot struct {
	Event          model.Event
	Index          int // position in the input slice
	DayIndex       int
	SubColumn      int
	SubColumnCount int

	X, Width      int
	YTop, YBottom int
}

// Height is YBottom-YTop.
func (s Slot) Height() int { return s.YBottom - s.YTop }

// Result is the outcome of Arrange.
type Result struct {
	// Slots are ordered by day, then by start, end and input order.
	Slots []Slot
	// AllDay holds the all-day events shown under each day header.
	AllDay [grid.DaysPerWeek][]model.Event
	// Dropped counts events outside the displayed week (or hidden all-day
	// events).
	Dropped int
}

// DaySlots returns the slots of one day.
func (r *Result) DaySlots(day int) []Slot {
	var out []Slot
	for _, s := range r.Slots {
		if s.DayIndex == day {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks every event, including those outside the displayed week.
func Validate(events []model.Event) error {
	for i, ev := range events {
		if ev.End.Before(ev.Start) {
			return &InvalidEventError{Index: i, Event: ev}
		}
	}
	return nil
}

type pending struct {
	ev    model.Event
	index int
	end   time.Time // end used for overlap resolution
}

// Arrange buckets events into days and resolves overlaps. It never mutates
// events.
func Arrange(g *grid.WeekGrid, events []model.Event, opts Options) (*Result, error) {
	if g == nil {
		return nil, fmt.Errorf("layout: nil grid")
	}
	if err := Validate(events); err != nil {
		return nil, err
	}

	res := &Result{}
	var buckets [grid.DaysPerWeek][]pending

	for i, ev := range events {
		if ev.AllDay {
			if !opts.ShowAllDay || !placeAllDay(g, res, ev) {
				res.Dropped++
			}
			continue
		}
		day := g.DayIndex(ev.Start)
		if day < 0 || day >= grid.DaysPerWeek {
			res.Dropped++
			continue
		}
		end := ev.End
		if end.Equal(ev.Start) {
			end = ev.Start.Add(opts.SlotDuration)
		}
		buckets[day] = append(buckets[day], pending{ev: ev, index: i, end: end})
	}

	for day, bucket := range buckets {
		res.Slots = append(res.Slots, arrangeDay(g, day, bucket, opts)...)
	}
	return res, nil
}

// placeAllDay lists ev under every displayed day it covers. All-day end
// times are exclusive midnights.
func placeAllDay(g *grid.WeekGrid, res *Result, ev model.Event) bool {
	first := g.DayIndex(ev.Start)
	last := first
	if ev.End.After(ev.Start) {
		last = g.DayIndex(ev.End.Add(-time.Nanosecond))
	}
	placed := false
	for d := max(first, 0); d <= min(last, grid.DaysPerWeek-1); d++ {
		res.AllDay[d] = append(res.AllDay[d], ev)
		placed = true
	}
	return placed
}

func arrangeDay(g *grid.WeekGrid, day int, bucket []pending, opts Options) []Slot {
	if len(bucket) == 0 {
		return nil
	}

	sorted := slices.Clone(bucket)
	slices.SortStableFunc(sorted, func(a, b pending) int {
		if c := a.ev.Start.Compare(b.ev.Start); c != 0 {
			return c
		}
		if c := a.end.Compare(b.end); c != 0 {
			return c
		}
		return cmp.Compare(a.index, b.index)
	})

	// Interval colouring: ends[i] is when sub-column i frees up.
	var ends []time.Time
	subs := make([]int, len(sorted))
	for i, p := range sorted {
		col := -1
		for c, end := range ends {
			if !end.After(p.ev.Start) {
				col = c
				break
			}
		}
		if col < 0 {
			col = len(ends)
			ends = append(ends, p.end)
		} else {
			ends[col] = p.end
		}
		subs[i] = col
	}
	count := len(ends)

	subWidth := g.ColumnWidth / count
	width := max(subWidth-opts.InnerPadding, 1)

	slots := make([]Slot, len(sorted))
	for i, p := range sorted {
		top, bottom := verticalSpan(g, day, p.ev, opts.MinEventHeight)
		slots[i] = Slot{
			Event:          p.ev,
			Index:          p.index,
			DayIndex:       day,
			SubColumn:      subs[i],
			SubColumnCount: count,
			X:              g.ColumnX(day) + subs[i]*subWidth,
			Width:          width,
			YTop:           top,
			YBottom:        bottom,
		}
	}
	return slots
}

// verticalSpan maps an event to body rows, guaranteeing minH whenever the
// body is tall enough and never leaving the body.
func verticalSpan(g *grid.WeekGrid, day int, ev model.Event, minH int) (int, int) {
	top := g.Y(day, ev.Start)
	bottom := max(g.Y(day, ev.End), top+minH)
	if bottom > g.BodyBottom {
		bottom = g.BodyBottom
		if bottom-top < minH {
			top = max(g.BodyTop, bottom-minH)
		}
	}
	return top, bottom
}

func highlighted(title string, keywords []string) bool {
	lower := strings.ToLower(title)
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" && strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
