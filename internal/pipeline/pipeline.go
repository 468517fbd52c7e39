// Package pipeline runs one refresh cycle: fetch the configured calendars,
// expand the current week, lay it out and write the artifacts the reader
// picks up.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"einkcal/internal/battery"
	"einkcal/internal/config"
	"einkcal/internal/convert"
	"einkcal/internal/grid"
	"einkcal/internal/ics"
	"einkcal/internal/layout"
	appLog "einkcal/internal/log"
	"einkcal/internal/model"
	"einkcal/internal/raster"
)

// Output is the result of one cycle.
type Output struct {
	RenderedAt time.Time
	Grid       *grid.WeekGrid
	Events     []model.Event
	Layout     *layout.Result
	Image      *image.Gray
	PNG        []byte

	// Truncated lists recurring series that hit the expansion cap.
	Truncated []string
	// SourceErrors describes feeds that could not be fetched or parsed.
	SourceErrors []string
}

// Renderer owns the long-lived pieces of the pipeline. It is safe for
// concurrent use; cycles are serialized.
type Renderer struct {
	cfg     *config.Config
	fetcher *ics.Fetcher
	battery battery.Reader
	fonts   *raster.Fonts
	now     func() time.Time

	runMu sync.Mutex

	mu   sync.RWMutex
	last *Output
}

// Option customizes a Renderer.
type Option func(*Renderer)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Renderer) { r.now = now }
}

// WithBattery overrides the reader chosen from the config.
func WithBattery(b battery.Reader) Option {
	return func(r *Renderer) { r.battery = b }
}

// WithFetcher overrides the feed fetcher.
func WithFetcher(f *ics.Fetcher) Option {
	return func(r *Renderer) { r.fetcher = f }
}

// New builds a Renderer for cfg.
func New(cfg *config.Config, opts ...Option) *Renderer {
	r := &Renderer{
		cfg:     cfg,
		fetcher: ics.NewFetcher(cfg.Output.CacheDir, nil),
		battery: BatteryReader(cfg.Battery),
		fonts:   raster.NewFonts(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// BatteryReader picks the gauge for bc; nil when disabled.
func BatteryReader(bc config.BatteryConfig) battery.Reader {
	switch {
	case !bc.Enabled:
		return nil
	case bc.Mock:
		return battery.Fixed(100)
	default:
		return &battery.I2C{Bus: bc.Bus, Addr: bc.Addr}
	}
}

// Location resolves the display zone, falling back to time.Local.
func Location(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

// GridConfig translates the display section into a grid configuration for
// the week starting at weekStart.
func GridConfig(d config.DisplayConfig, weekStart time.Time) (grid.Config, error) {
	anchors, err := d.GridAnchors()
	if err != nil {
		return grid.Config{}, err
	}
	// A negative interval asks for one mark per anchor.
	interval := time.Duration(max(d.MarkIntervalMinutes, 0)) * time.Minute
	return grid.Config{
		CanvasWidth:     d.Width,
		CanvasHeight:    d.Height,
		Margin:          d.Margin,
		WeekStart:       weekStart,
		HeaderHeight:    d.HeaderHeight,
		DayHeaderHeight: d.DayHeaderHeight,
		FooterHeight:    d.FooterHeight,
		Anchors:         anchors,
		MarkInterval:    interval,
	}, nil
}

// LayoutOptions translates the config into layout options.
func LayoutOptions(cfg *config.Config) layout.Options {
	d := cfg.Display
	opts := layout.DefaultOptions()
	opts.MinEventHeight = d.MinEventHeight
	opts.InnerPadding = d.InnerPadding
	opts.TextInset = d.TextInset
	opts.RuleWidth = d.RuleWidth
	opts.SlotDuration = time.Duration(d.SlotMinutes) * time.Minute
	opts.Ellipsis = d.Ellipsis
	opts.Sizes = layout.Sizes{
		Header:    d.FontSizes.Header,
		Day:       d.FontSizes.Day,
		DayNumber: d.FontSizes.DayNumber,
		Time:      d.FontSizes.Time,
		Event:     d.FontSizes.Event,
	}
	opts.Highlight = cfg.Highlight
	opts.ShowAllDay = cfg.ShowAllDay
	return opts
}

// Sources converts the configured subscriptions, skipping entries without a
// URL. The ID falls back to the name, then the URL.
func Sources(cfg *config.Config) []ics.Source {
	out := make([]ics.Source, 0, len(cfg.ICS))
	for _, c := range cfg.ICS {
		if c.URL == "" {
			continue
		}
		id := c.ID
		if id == "" {
			id = c.Name
		}
		if id == "" {
			id = c.URL
		}
		out = append(out, ics.Source{ID: id, URL: c.URL})
	}
	return out
}

// Events fetches all sources and expands them over [from, to). Feed
// failures are logged and returned as messages; they never fail the call.
func (r *Renderer) Events(ctx context.Context, loc *time.Location, from, to time.Time) (ics.Expansion, []string, error) {
	var problems []string
	feeds, errs := r.fetcher.FetchAll(ctx, Sources(r.cfg))
	for _, err := range errs {
		problems = append(problems, err.Error())
	}

	var vevents []ics.VEvent
	for _, f := range feeds {
		parsed, err := ics.Parse(f.Source, f.Body)
		if err != nil {
			appLog.Error("ics parse failed", err, "id", f.Source.ID)
			problems = append(problems, err.Error())
			continue
		}
		vevents = append(vevents, parsed...)
	}

	exp, err := ics.Expand(vevents, ics.ExpandOptions{Location: loc, From: from, To: to})
	if err != nil {
		return ics.Expansion{}, problems, err
	}
	return exp, problems, nil
}

// Render runs one cycle without touching the filesystem outputs and
// remembers the result as Last.
func (r *Renderer) Render(ctx context.Context) (*Output, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	loc := Location(r.cfg.Timezone)
	now := r.now().In(loc)

	gc, err := GridConfig(r.cfg.Display, grid.WeekStartFor(now, r.cfg.FirstWeekday()))
	if err != nil {
		return nil, err
	}
	g, err := grid.New(gc)
	if err != nil {
		return nil, err
	}

	exp, problems, err := r.Events(ctx, loc, g.WeekStart, g.WeekEnd())
	if err != nil {
		return nil, err
	}
	events := dropMalformed(exp.Events)

	opts := LayoutOptions(r.cfg)
	opts.Now = now
	opts.Battery = battery.Footer(ctx, r.battery)
	opts.Fonts = r.fonts

	canvas := raster.New(g.CanvasWidth, g.CanvasHeight, r.fonts)
	res, err := layout.Render(canvas, g, events, opts)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := canvas.WritePNG(&buf); err != nil {
		return nil, err
	}

	out := &Output{
		RenderedAt:   now,
		Grid:         g,
		Events:       events,
		Layout:       res,
		Image:        canvas.Image(),
		PNG:          buf.Bytes(),
		Truncated:    exp.Truncated,
		SourceErrors: problems,
	}
	r.mu.Lock()
	r.last = out
	r.mu.Unlock()

	appLog.Info("render completed",
		"week_start", g.WeekStart.Format("2006-01-02"),
		"events", len(events),
		"slots", len(res.Slots),
		"dropped", res.Dropped,
		"source_errors", len(problems),
	)
	return out, nil
}

// Run renders and writes the PNG, plus the packed 1bpp plane when dump is
// set or an explicit dump path is configured.
func (r *Renderer) Run(ctx context.Context, dump bool) (*Output, error) {
	out, err := r.Render(ctx)
	if err != nil {
		return nil, err
	}
	if err := writeFileAtomic(r.cfg.Output.PNGPath, out.PNG); err != nil {
		return out, fmt.Errorf("pipeline: write png: %w", err)
	}
	appLog.Debug("png written", "path", r.cfg.Output.PNGPath, "bytes", len(out.PNG))

	dumpPath := r.cfg.Output.DumpPath
	if dumpPath == "" && dump {
		dumpPath = strings.TrimSuffix(r.cfg.Output.PNGPath, filepath.Ext(r.cfg.Output.PNGPath)) + ".bin"
	}
	if dumpPath == "" {
		return out, nil
	}
	plane, err := convert.PackGray(out.Image, convert.DefaultThreshold)
	if err != nil {
		return out, err
	}
	if err := writeFileAtomic(dumpPath, plane); err != nil {
		return out, fmt.Errorf("pipeline: write dump: %w", err)
	}
	appLog.Debug("1bpp plane written", "path", dumpPath, "bytes", len(plane))
	return out, nil
}

// Last returns the most recent successful render, or nil.
func (r *Renderer) Last() *Output {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

// dropMalformed removes events ending before they start. A broken feed
// entry should cost one event, not the whole picture.
func dropMalformed(events []model.Event) []model.Event {
	out := events[:0:0]
	for _, ev := range events {
		if ev.End.Before(ev.Start) {
			appLog.Warn("event ends before it starts; skipped", "event", ev.Ident())
			continue
		}
		out = append(out, ev)
	}
	return out
}

func writeFileAtomic(path string, data []byte) error {
	if path == "" {
		return errors.New("empty output path")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".einkcal-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
