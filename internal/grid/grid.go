// Package grid computes the week-view geometry: seven equal day columns
// between the canvas margins, stacked header/day-header/body/footer bands,
// and a piecewise-linear mapping from time of day to body pixel rows.
//
// The grid knows nothing about events; it is a pure function of its Config.
package grid

import (
	"fmt"
	"math"
	"time"
)

// DaysPerWeek is the number of day columns in the grid.
const DaysPerWeek = 7

const minutesPerDay = 24 * 60

// Anchor pins a time of day to a vertical position in the body, expressed
// as a fraction of the body height (0 = top, 1 = bottom).
type Anchor struct {
	TimeOfDay time.Duration
	Fraction  float64
}

// DefaultAnchors maps 6AM to the top of the body and 9PM to its bottom.
func DefaultAnchors() []Anchor {
	return []Anchor{
		{TimeOfDay: 6 * time.Hour, Fraction: 0},
		{TimeOfDay: 21 * time.Hour, Fraction: 1},
	}
}

// DefaultMarkInterval is the spacing of labelled time-axis marks.
const DefaultMarkInterval = 3 * time.Hour

// Config is the explicit input of New.
type Config struct {
	CanvasWidth  int
	CanvasHeight int
	Margin       int

	// WeekStart is any instant on the first displayed day. It is truncated
	// to midnight in its own Location, which becomes the grid's location.
	WeekStart time.Time

	HeaderHeight    int
	DayHeaderHeight int
	FooterHeight    int

	// Anchors must hold at least two entries, strictly increasing in both
	// TimeOfDay and Fraction.
	Anchors []Anchor

	// MarkInterval spaces the time-axis marks starting at the first anchor.
	// Zero places one mark on each anchor.
	MarkInterval time.Duration
}

// ConfigError reports an unusable grid configuration.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("grid: invalid %s: %s", e.Field, e.Reason)
}

// Mark is one labelled row of the time axis.
type Mark struct {
	Label     string
	TimeOfDay time.Duration
	Y         int
}

// WeekGrid is the computed geometry. Vertical bands are half-open pixel
// ranges [top, bottom).
type WeekGrid struct {
	WeekStart time.Time
	Days      [DaysPerWeek]time.Time

	CanvasWidth  int
	CanvasHeight int
	Margin       int
	ColumnWidth  int

	HeaderTop       int
	HeaderBottom    int
	DayHeaderTop    int
	DayHeaderBottom int
	BodyTop         int
	BodyBottom      int
	FooterTop       int
	FooterBottom    int

	TimeAxis []Mark

	anchors []Anchor
}

// New validates cfg and builds the grid.
func New(cfg Config) (*WeekGrid, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}

	loc := cfg.WeekStart.Location()
	start := time.Date(cfg.WeekStart.Year(), cfg.WeekStart.Month(), cfg.WeekStart.Day(), 0, 0, 0, 0, loc)

	g := &WeekGrid{
		WeekStart:    start,
		CanvasWidth:  cfg.CanvasWidth,
		CanvasHeight: cfg.CanvasHeight,
		Margin:       cfg.Margin,
		// Floor division; leftover pixels widen the right margin.
		ColumnWidth: (cfg.CanvasWidth - 2*cfg.Margin) / DaysPerWeek,
		anchors:     append([]Anchor(nil), cfg.Anchors...),
	}
	for i := range g.Days {
		// AddDate keeps midnight across DST transitions.
		g.Days[i] = start.AddDate(0, 0, i)
	}

	g.HeaderTop = cfg.Margin
	g.HeaderBottom = g.HeaderTop + cfg.HeaderHeight
	g.DayHeaderTop = g.HeaderBottom
	g.DayHeaderBottom = g.DayHeaderTop + cfg.DayHeaderHeight
	g.BodyTop = g.DayHeaderBottom
	g.FooterBottom = cfg.CanvasHeight - cfg.Margin
	g.FooterTop = g.FooterBottom - cfg.FooterHeight
	g.BodyBottom = g.FooterTop

	g.TimeAxis = g.buildMarks(cfg.MarkInterval)
	return g, nil
}

func validate(cfg Config) error {
	switch {
	case cfg.CanvasWidth <= 0:
		return &ConfigError{Field: "canvas width", Reason: fmt.Sprintf("%d is not positive", cfg.CanvasWidth)}
	case cfg.CanvasHeight <= 0:
		return &ConfigError{Field: "canvas height", Reason: fmt.Sprintf("%d is not positive", cfg.CanvasHeight)}
	case cfg.Margin < 0:
		return &ConfigError{Field: "margin", Reason: fmt.Sprintf("%d is negative", cfg.Margin)}
	case cfg.HeaderHeight < 0 || cfg.DayHeaderHeight < 0 || cfg.FooterHeight < 0:
		return &ConfigError{Field: "band height", Reason: "header, day header and footer heights must not be negative"}
	case cfg.WeekStart.IsZero():
		return &ConfigError{Field: "week start", Reason: "not set"}
	}

	if inner := cfg.CanvasWidth - 2*cfg.Margin; inner < DaysPerWeek {
		return &ConfigError{
			Field:  "canvas width",
			Reason: fmt.Sprintf("%d px between margins cannot fit %d columns", inner, DaysPerWeek),
		}
	}
	body := cfg.CanvasHeight - 2*cfg.Margin - cfg.HeaderHeight - cfg.DayHeaderHeight - cfg.FooterHeight
	if body < 1 {
		return &ConfigError{
			Field:  "canvas height",
			Reason: fmt.Sprintf("%d px leaves no room for the grid body after margins and bands", cfg.CanvasHeight),
		}
	}

	if len(cfg.Anchors) < 2 {
		return &ConfigError{Field: "time axis anchors", Reason: "need at least two"}
	}
	for i, a := range cfg.Anchors {
		if a.TimeOfDay < 0 || a.TimeOfDay > 24*time.Hour {
			return &ConfigError{Field: "time axis anchors", Reason: fmt.Sprintf("anchor %d time %s outside the day", i, a.TimeOfDay)}
		}
		if a.Fraction < 0 || a.Fraction > 1 || math.IsNaN(a.Fraction) {
			return &ConfigError{Field: "time axis anchors", Reason: fmt.Sprintf("anchor %d fraction %v outside [0,1]", i, a.Fraction)}
		}
		if i == 0 {
			continue
		}
		prev := cfg.Anchors[i-1]
		if a.TimeOfDay <= prev.TimeOfDay || a.Fraction <= prev.Fraction {
			return &ConfigError{Field: "time axis anchors", Reason: fmt.Sprintf("anchor %d is not strictly after anchor %d", i, i-1)}
		}
	}
	if cfg.MarkInterval < 0 {
		return &ConfigError{Field: "mark interval", Reason: "negative"}
	}
	return nil
}

// Location is the timezone all grid dates are expressed in.
func (g *WeekGrid) Location() *time.Location {
	return g.WeekStart.Location()
}

// WeekEnd is the exclusive end of the displayed window.
func (g *WeekGrid) WeekEnd() time.Time {
	return g.WeekStart.AddDate(0, 0, DaysPerWeek)
}

// GridRight is the x just past the last column. Any remainder of the floor
// division lies between it and the right margin.
func (g *WeekGrid) GridRight() int {
	return g.Margin + DaysPerWeek*g.ColumnWidth
}

// ColumnX is the left edge of day column i.
func (g *WeekGrid) ColumnX(i int) int {
	return g.Margin + i*g.ColumnWidth
}

// BodyHeight is the pixel height of the time grid.
func (g *WeekGrid) BodyHeight() int {
	return g.BodyBottom - g.BodyTop
}

// DayIndex returns the calendar-day offset of t from WeekStart in the grid
// location. Values outside [0,7) mean t is outside the displayed week.
func (g *WeekGrid) DayIndex(t time.Time) int {
	return dayDiff(g.WeekStart, t.In(g.Location()))
}

// Y maps t to a body row, measured from the start of day column day.
// Instants before the first anchor clamp to it, instants after the last
// anchor (including any later calendar day) clamp to the last one.
func (g *WeekGrid) Y(day int, t time.Time) int {
	t = t.In(g.Location())
	ref := g.WeekStart.AddDate(0, 0, day)
	minutes := float64(dayDiff(ref, t)*minutesPerDay) +
		float64(t.Hour()*60+t.Minute()) +
		float64(t.Second())/60 + float64(t.Nanosecond())/6e10
	return g.yForMinutes(minutes)
}

// YForTimeOfDay maps a time-of-day offset to a body row.
func (g *WeekGrid) YForTimeOfDay(d time.Duration) int {
	return g.yForMinutes(d.Minutes())
}

func (g *WeekGrid) yForMinutes(m float64) int {
	frac := g.fraction(m)
	return g.BodyTop + int(math.Floor(frac*float64(g.BodyHeight())))
}

func (g *WeekGrid) fraction(m float64) float64 {
	first := g.anchors[0]
	last := g.anchors[len(g.anchors)-1]
	if m <= first.TimeOfDay.Minutes() {
		return first.Fraction
	}
	if m >= last.TimeOfDay.Minutes() {
		return last.Fraction
	}
	for i := 1; i < len(g.anchors); i++ {
		a, b := g.anchors[i-1], g.anchors[i]
		am, bm := a.TimeOfDay.Minutes(), b.TimeOfDay.Minutes()
		if m <= bm {
			return a.Fraction + (m-am)/(bm-am)*(b.Fraction-a.Fraction)
		}
	}
	return last.Fraction
}

func (g *WeekGrid) buildMarks(interval time.Duration) []Mark {
	var times []time.Duration
	if interval == 0 {
		for _, a := range g.anchors {
			times = append(times, a.TimeOfDay)
		}
	} else {
		first := g.anchors[0].TimeOfDay
		last := g.anchors[len(g.anchors)-1].TimeOfDay
		for d := first; d <= last; d += interval {
			times = append(times, d)
		}
	}

	marks := make([]Mark, 0, len(times))
	for _, d := range times {
		y := g.YForTimeOfDay(d)
		// Keep the axis strictly increasing on tiny bodies.
		if n := len(marks); n > 0 && y <= marks[n-1].Y {
			continue
		}
		marks = append(marks, Mark{Label: ClockLabel(d), TimeOfDay: d, Y: y})
	}
	return marks
}

// ClockLabel formats a time-of-day offset as "6AM", "12PM" or "3:30PM".
func ClockLabel(d time.Duration) string {
	total := int(d.Minutes()) % minutesPerDay
	h, m := total/60, total%60
	suffix := "AM"
	if h >= 12 {
		suffix = "PM"
	}
	h12 := h % 12
	if h12 == 0 {
		h12 = 12
	}
	if m == 0 {
		return fmt.Sprintf("%d%s", h12, suffix)
	}
	return fmt.Sprintf("%d:%02d%s", h12, m, suffix)
}

// WeekStartFor returns midnight of the most recent firstDay on or before t,
// in t's location.
func WeekStartFor(t time.Time, firstDay time.Weekday) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	back := (int(day.Weekday()) - int(firstDay) + DaysPerWeek) % DaysPerWeek
	return day.AddDate(0, 0, -back)
}

// dayDiff counts calendar days from a's date to b's date using their wall
// clocks, so DST days still count as one.
func dayDiff(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da) / (24 * time.Hour))
}
