package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"einkcal/internal/grid"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the HTTP API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// AnchorConfig pins a wall-clock time ("06:00") to a fraction of the grid
// body height.
type AnchorConfig struct {
	Time     string  `yaml:"time" json:"time"`
	Fraction float64 `yaml:"fraction" json:"fraction"`
}

// FontSizes are requested text heights in pixels per role.
type FontSizes struct {
	Header    int `yaml:"header" json:"header"`
	Day       int `yaml:"day" json:"day"`
	DayNumber int `yaml:"day_number" json:"day_number"`
	Time      int `yaml:"time" json:"time"`
	Event     int `yaml:"event" json:"event"`
}

// DisplayConfig describes the target panel and the week grid drawn on it.
// The defaults match a Kindle Oasis held upright (1264x1680).
type DisplayConfig struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
	Margin int `yaml:"margin" json:"margin"`

	HeaderHeight    int `yaml:"header_height" json:"header_height"`
	DayHeaderHeight int `yaml:"day_header_height" json:"day_header_height"`
	FooterHeight    int `yaml:"footer_height" json:"footer_height"`

	// Anchors map times of day to the body; see grid.Anchor.
	Anchors []AnchorConfig `yaml:"anchors" json:"anchors"`
	// MarkIntervalMinutes spaces the labelled time-axis rows.
	MarkIntervalMinutes int `yaml:"mark_interval_minutes" json:"mark_interval_minutes"`

	MinEventHeight int    `yaml:"min_event_height" json:"min_event_height"`
	InnerPadding   int    `yaml:"inner_padding" json:"inner_padding"`
	TextInset      int    `yaml:"text_inset" json:"text_inset"`
	RuleWidth      int    `yaml:"rule_width" json:"rule_width"`
	SlotMinutes    int    `yaml:"slot_minutes" json:"slot_minutes"`
	Ellipsis       string `yaml:"ellipsis" json:"ellipsis"`

	FontSizes FontSizes `yaml:"font_sizes" json:"font_sizes"`
}

// OutputConfig controls where rendered artifacts go.
type OutputConfig struct {
	// PNGPath is the grayscale image the reader displays.
	PNGPath string `yaml:"png_path" json:"png_path"`
	// DumpPath, if set (or forced by -dump), receives the packed 1bpp plane.
	DumpPath string `yaml:"dump_path" json:"dump_path"`
	// CacheDir stores ICS HTTP cache entries.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
}

// BatteryConfig enables the footer battery gauge.
type BatteryConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Mock reports a fixed level instead of talking to I2C.
	Mock bool `yaml:"mock" json:"mock"`
	// Bus is the periph.io I2C bus name ("" for the default bus).
	Bus string `yaml:"bus" json:"bus"`
	// Addr is the 7-bit I2C address of the fuel gauge.
	Addr uint16 `yaml:"addr" json:"addr"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used as canonical display zone (e.g. "Asia/Seoul").
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is the weekday shown in the leftmost column ("sunday",
	// "monday", ...). Defaults to sunday.
	WeekStart string `yaml:"week_start" json:"week_start"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// used for periodic re-rendering.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// ShowAllDay lists all-day events under the day headers.
	ShowAllDay bool `yaml:"show_all_day" json:"show_all_day"`

	// Highlight is a list of keywords that cause events to be rendered inverted.
	Highlight []string `yaml:"highlight" json:"highlight"`

	// ICS is the list of subscribed ICS sources.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	Display DisplayConfig `yaml:"display" json:"display"`
	Output  OutputConfig  `yaml:"output" json:"output"`
	Battery BatteryConfig `yaml:"battery" json:"battery"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen    = "127.0.0.1:8080"
	defaultTimezone  = "UTC"
	defaultWeekStart = "sunday"
	defaultCron      = "*/15 * * * *"
	defaultLogLevel  = "info"
	defaultPNGPath   = "/var/lib/einkcal/calendar.png"
	defaultCacheDir  = "/var/lib/einkcal/ics-cache"
	defaultGaugeAddr = 0x57
)

// DefaultDisplay returns the Kindle Oasis layout.
func DefaultDisplay() DisplayConfig {
	return DisplayConfig{
		Width:           1264,
		Height:          1680,
		Margin:          20,
		HeaderHeight:    110,
		DayHeaderHeight: 150,
		FooterHeight:    120,
		Anchors: []AnchorConfig{
			{Time: "06:00", Fraction: 0},
			{Time: "21:00", Fraction: 1},
		},
		MarkIntervalMinutes: 180,
		MinEventHeight:      22,
		InnerPadding:        6,
		TextInset:           6,
		RuleWidth:           8,
		SlotMinutes:         15,
		Ellipsis:            "...",
		FontSizes: FontSizes{
			Header:    48,
			Day:       24,
			DayNumber: 36,
			Time:      20,
			Event:     18,
		},
	}
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      defaultListen,
		Timezone:    defaultTimezone,
		WeekStart:   defaultWeekStart,
		RefreshCron: defaultCron,
		LogLevel:    defaultLogLevel,
		ShowAllDay:  true,
		Highlight:   []string{"holiday", "deadline"},
		ICS:         []ICSConfig{},
		Display:     DefaultDisplay(),
		Output: OutputConfig{
			PNGPath:  defaultPNGPath,
			CacheDir: defaultCacheDir,
		},
		Battery: BatteryConfig{Addr: defaultGaugeAddr},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	// Unknown weekday names fall back to sunday to avoid surprising layouts.
	if _, ok := weekdays[strings.ToLower(strings.TrimSpace(c.WeekStart))]; !ok {
		c.WeekStart = defaultWeekStart
	}
	c.WeekStart = strings.ToLower(strings.TrimSpace(c.WeekStart))
	if c.RefreshCron == "" {
		c.RefreshCron = defaultCron
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.Highlight == nil {
		c.Highlight = []string{}
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	c.Display.normalize()
	if c.Output.PNGPath == "" {
		c.Output.PNGPath = defaultPNGPath
	}
	if c.Output.CacheDir == "" {
		c.Output.CacheDir = defaultCacheDir
	}
	if c.Battery.Addr == 0 {
		c.Battery.Addr = defaultGaugeAddr
	}
}

// normalize only fills zero values; geometry is validated by grid.New so a
// bad panel size surfaces as a grid.ConfigError instead of being papered over.
func (d *DisplayConfig) normalize() {
	def := DefaultDisplay()
	if d.Width == 0 {
		d.Width = def.Width
	}
	if d.Height == 0 {
		d.Height = def.Height
	}
	if len(d.Anchors) == 0 {
		d.Anchors = def.Anchors
	}
	if d.MarkIntervalMinutes == 0 {
		d.MarkIntervalMinutes = def.MarkIntervalMinutes
	}
	if d.MinEventHeight <= 0 {
		d.MinEventHeight = def.MinEventHeight
	}
	if d.SlotMinutes <= 0 {
		d.SlotMinutes = def.SlotMinutes
	}
	if d.Ellipsis == "" {
		d.Ellipsis = def.Ellipsis
	}
	if d.FontSizes.Header <= 0 {
		d.FontSizes.Header = def.FontSizes.Header
	}
	if d.FontSizes.Day <= 0 {
		d.FontSizes.Day = def.FontSizes.Day
	}
	if d.FontSizes.DayNumber <= 0 {
		d.FontSizes.DayNumber = def.FontSizes.DayNumber
	}
	if d.FontSizes.Time <= 0 {
		d.FontSizes.Time = def.FontSizes.Time
	}
	if d.FontSizes.Event <= 0 {
		d.FontSizes.Event = def.FontSizes.Event
	}
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// FirstWeekday returns the configured first column weekday.
func (c *Config) FirstWeekday() time.Weekday {
	if d, ok := weekdays[strings.ToLower(strings.TrimSpace(c.WeekStart))]; ok {
		return d
	}
	return time.Sunday
}

// GridAnchors parses the configured anchors.
func (d DisplayConfig) GridAnchors() ([]grid.Anchor, error) {
	out := make([]grid.Anchor, 0, len(d.Anchors))
	for i, a := range d.Anchors {
		tod, err := parseTimeOfDay(a.Time)
		if err != nil {
			return nil, fmt.Errorf("config: display.anchors[%d]: %w", i, err)
		}
		out = append(out, grid.Anchor{TimeOfDay: tod, Fraction: a.Fraction})
	}
	return out, nil
}

// parseTimeOfDay accepts "HH:MM"; "24:00" denotes the end of the day.
func parseTimeOfDay(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "24:00" {
		return 24 * time.Hour, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q (want HH:MM)", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	// Decode onto the defaults so omitted keys keep them while explicit
	// zeros and false survive.
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".einkcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
