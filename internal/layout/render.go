package layout

import (
	"fmt"
	"strings"

	"einkcal/internal/draw"
	"einkcal/internal/grid"
	"einkcal/internal/model"
)

// Render arranges events and paints the whole week view onto c. Validation
// errors are returned before anything is painted.
//
// Emission order (and therefore z-order): background, header, day headers,
// column separators, time axis, event blocks day by day, footer.
func Render(c draw.Canvas, g *grid.WeekGrid, events []model.Event, opts Options) (*Result, error) {
	if c == nil {
		return nil, fmt.Errorf("layout: nil canvas")
	}
	res, err := Arrange(g, events, opts)
	if err != nil {
		return nil, err
	}

	r := &renderer{c: c, g: g, opts: opts, fonts: opts.Fonts}
	if r.fonts == nil {
		r.fonts = draw.MonoFonts{}
	}

	r.background()
	r.header()
	r.dayHeaders(res)
	r.columns()
	r.timeAxis()
	for _, s := range res.Slots {
		r.event(s)
	}
	r.footer()
	return res, nil
}

type renderer struct {
	c     draw.Canvas
	g     *grid.WeekGrid
	opts  Options
	fonts draw.Fonts
}

func (r *renderer) paint(cmd draw.Command) {
	r.c.Paint(cmd)
}

func (r *renderer) innerWidth() int {
	return r.g.CanvasWidth - 2*r.g.Margin
}

func (r *renderer) background() {
	w, h := r.c.Size()
	r.paint(draw.Rect{X: 0, Y: 0, W: w, H: h, Filled: true, Tone: draw.White})
}

// rule paints a black separator at the bottom of a band, clipped to it.
func (r *renderer) rule(top, bottom int) {
	h := min(r.opts.RuleWidth, bottom-top)
	if h <= 0 {
		return
	}
	r.paint(draw.Rect{X: r.g.Margin, Y: bottom - h, W: r.innerWidth(), H: h, Filled: true, Tone: draw.Black})
}

func (r *renderer) header() {
	g := r.g
	if g.HeaderBottom <= g.HeaderTop {
		return
	}
	inset := r.opts.TextInset

	if !r.opts.Now.IsZero() {
		now := r.opts.Now.In(g.Location())
		face := r.fonts.Load(draw.RoleHeader, r.opts.Sizes.Header)
		title := draw.Truncate(face, now.Format("Monday, January 2, 2006"), r.innerWidth()*2/3, r.opts.Ellipsis)
		if title != "" {
			r.paint(draw.Text{X: g.Margin, Y: g.HeaderTop + inset, Value: title, Role: draw.RoleHeader, Size: r.opts.Sizes.Header})
		}
	}

	// Week range, right aligned.
	last := g.Days[grid.DaysPerWeek-1]
	span := g.WeekStart.Format("Jan 2") + " - " + last.Format("Jan 2")
	face := r.fonts.Load(draw.RoleDay, r.opts.Sizes.Day)
	if w := face.Width(span); w <= r.innerWidth()/3 {
		r.paint(draw.Text{X: g.CanvasWidth - g.Margin - w, Y: g.HeaderTop + inset, Value: span, Role: draw.RoleDay, Size: r.opts.Sizes.Day})
	}

	r.rule(g.HeaderTop, g.HeaderBottom)
}

func (r *renderer) dayHeaders(res *Result) {
	g := r.g
	if g.DayHeaderBottom <= g.DayHeaderTop {
		return
	}
	inset := r.opts.TextInset
	ruleH := min(r.opts.RuleWidth, g.DayHeaderBottom-g.DayHeaderTop)
	cellBottom := g.DayHeaderBottom - ruleH

	today := -1
	if !r.opts.Now.IsZero() {
		today = g.DayIndex(r.opts.Now)
	}

	dayFace := r.fonts.Load(draw.RoleDay, r.opts.Sizes.Day)
	numFace := r.fonts.Load(draw.RoleDay, r.opts.Sizes.DayNumber)
	eventFace := r.fonts.Load(draw.RoleEvent, r.opts.Sizes.Event)
	textW := g.ColumnWidth - 2*inset

	for i, day := range g.Days {
		x := g.ColumnX(i)
		tone := draw.Black
		if i == today {
			r.paint(draw.Rect{X: x, Y: g.DayHeaderTop, W: g.ColumnWidth, H: cellBottom - g.DayHeaderTop, Filled: true, Tone: draw.Black})
			tone = draw.White
		}

		y := g.DayHeaderTop + inset
		name := draw.Truncate(dayFace, strings.ToUpper(day.Format("Mon")), textW, "")
		if name != "" {
			r.paint(draw.Text{X: x + inset, Y: y, Value: name, Role: draw.RoleDay, Size: r.opts.Sizes.Day, Tone: tone})
		}
		y += dayFace.Height()

		num := draw.Truncate(numFace, day.Format("2"), textW, "")
		if num != "" && y+numFace.Height() <= cellBottom {
			r.paint(draw.Text{X: x + inset, Y: y, Value: num, Role: draw.RoleDay, Size: r.opts.Sizes.DayNumber, Tone: tone})
		}
		y += numFace.Height()

		r.allDay(res.AllDay[i], x+inset, y, textW, cellBottom, eventFace, tone)
	}

	r.rule(g.DayHeaderTop, g.DayHeaderBottom)
}

// allDay lists titles one per line; when they do not all fit, the last
// visible line becomes "+N more".
func (r *renderer) allDay(events []model.Event, x, y, maxW, bottom int, face draw.Face, tone draw.Tone) {
	lineH := face.Height()
	if len(events) == 0 || lineH <= 0 {
		return
	}
	fit := (bottom - y) / lineH
	if fit <= 0 {
		return
	}
	for i, ev := range events {
		if i == fit-1 && len(events) > fit {
			more := draw.Truncate(face, fmt.Sprintf("+%d more", len(events)-i), maxW, "")
			if more != "" {
				r.paint(draw.Text{X: x, Y: y, Value: more, Role: draw.RoleEvent, Size: r.opts.Sizes.Event, Tone: tone})
			}
			return
		}
		if s := draw.Truncate(face, ev.Title, maxW, r.opts.Ellipsis); s != "" {
			r.paint(draw.Text{X: x, Y: y, Value: s, Role: draw.RoleEvent, Size: r.opts.Sizes.Event, Tone: tone})
		}
		y += lineH
	}
}

func (r *renderer) columns() {
	g := r.g
	for i := 0; i <= grid.DaysPerWeek; i++ {
		x := g.ColumnX(i)
		r.paint(draw.Line{X1: x, Y1: g.BodyTop, X2: x, Y2: g.BodyBottom, Width: 1, Tone: draw.Gray})
	}
}

func (r *renderer) timeAxis() {
	g := r.g
	face := r.fonts.Load(draw.RoleTime, r.opts.Sizes.Time)
	for _, m := range g.TimeAxis {
		r.paint(draw.Line{X1: g.Margin, Y1: m.Y, X2: g.GridRight(), Y2: m.Y, Width: 1, Tone: draw.Gray})

		labelY := m.Y + 2
		if labelY+face.Height() > g.BodyBottom {
			labelY = m.Y - 2 - face.Height()
		}
		if labelY < g.BodyTop {
			continue
		}
		label := draw.Truncate(face, m.Label, g.ColumnWidth-2*r.opts.TextInset, "")
		if label != "" {
			r.paint(draw.Text{X: g.Margin + r.opts.TextInset, Y: labelY, Value: label, Role: draw.RoleTime, Size: r.opts.Sizes.Time})
		}
	}
}

func (r *renderer) event(s Slot) {
	inverted := highlighted(s.Event.Title, r.opts.Highlight)

	textTone := draw.Black
	if inverted {
		r.paint(draw.Rect{X: s.X, Y: s.YTop, W: s.Width, H: s.Height(), Filled: true, Tone: draw.Black})
		textTone = draw.White
	} else {
		// Blank out guide lines under the block, then outline it.
		r.paint(draw.Rect{X: s.X, Y: s.YTop, W: s.Width, H: s.Height(), Filled: true, Tone: draw.White})
		r.paint(draw.Rect{X: s.X, Y: s.YTop, W: s.Width, H: s.Height(), StrokeWidth: 2, Tone: draw.Black})
	}

	face := r.fonts.Load(draw.RoleEvent, r.opts.Sizes.Event)
	inset := r.opts.TextInset
	title := draw.Truncate(face, s.Event.Title, s.Width-2*inset, r.opts.Ellipsis)
	if title == "" {
		return
	}
	y := s.YTop + inset
	if s.Height() < face.Height()+2*inset {
		y = s.YTop + 1
	}
	r.paint(draw.Text{X: s.X + inset, Y: y, Value: title, Role: draw.RoleEvent, Size: r.opts.Sizes.Event, Tone: textTone})
}

func (r *renderer) footer() {
	g := r.g
	if g.FooterBottom <= g.FooterTop {
		return
	}
	h := min(r.opts.RuleWidth, g.FooterBottom-g.FooterTop)
	if h > 0 {
		r.paint(draw.Rect{X: g.Margin, Y: g.FooterTop, W: r.innerWidth(), H: h, Filled: true, Tone: draw.Black})
	}

	face := r.fonts.Load(draw.RoleDay, r.opts.Sizes.Day)
	y := g.FooterTop + h + r.opts.TextInset
	if y+face.Height() > g.FooterBottom {
		return
	}
	half := r.innerWidth() / 2

	if !r.opts.Now.IsZero() {
		stamp := "Last updated: " + r.opts.Now.In(g.Location()).Format("3:04 PM")
		if s := draw.Truncate(face, stamp, half, r.opts.Ellipsis); s != "" {
			r.paint(draw.Text{X: g.Margin + r.opts.TextInset, Y: y, Value: s, Role: draw.RoleDay, Size: r.opts.Sizes.Day})
		}
	}
	if r.opts.Battery != "" {
		if s := draw.Truncate(face, r.opts.Battery, half, r.opts.Ellipsis); s != "" {
			x := g.CanvasWidth - g.Margin - r.opts.TextInset - face.Width(s)
			r.paint(draw.Text{X: x, Y: y, Value: s, Role: draw.RoleDay, Size: r.opts.Sizes.Day})
		}
	}
}
