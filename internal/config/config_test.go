package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "config.yaml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Display.Width != 1264 || cfg.Display.Height != 1680 || cfg.Display.Margin != 20 {
		t.Errorf("display = %+v, want Kindle defaults", cfg.Display)
	}
	if cfg.FirstWeekday() != time.Sunday {
		t.Errorf("FirstWeekday = %v, want Sunday", cfg.FirstWeekday())
	}
	st, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if st.Mode().Perm() != 0o600 {
		t.Errorf("perm = %o, want 600", st.Mode().Perm())
	}
}

func TestLoadPartialNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
week_start: Monday
display:
  width: 800
  height: 600
  margin: 10
  anchors:
    - {time: "07:00", fraction: 0}
    - {time: "12:00", fraction: 0.6}
    - {time: "22:00", fraction: 1}
ics:
  - id: work
    url: https://example.com/work.ics
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.FirstWeekday() != time.Monday {
		t.Errorf("FirstWeekday = %v, want Monday", cfg.FirstWeekday())
	}
	if cfg.Display.Width != 800 || cfg.Display.Margin != 10 {
		t.Errorf("explicit display values overwritten: %+v", cfg.Display)
	}
	if cfg.Display.FontSizes.Event != 18 || cfg.Display.Ellipsis != "..." {
		t.Errorf("defaults not filled: %+v", cfg.Display)
	}
	if cfg.Listen == "" || cfg.RefreshCron == "" || cfg.Output.PNGPath == "" {
		t.Errorf("top-level defaults not filled: %+v", cfg)
	}
	if !cfg.ShowAllDay {
		t.Error("ShowAllDay = false, want default true when omitted")
	}
	def := DefaultDisplay()
	d := cfg.Display
	if d.HeaderHeight != def.HeaderHeight || d.DayHeaderHeight != def.DayHeaderHeight || d.FooterHeight != def.FooterHeight {
		t.Errorf("bands = %d/%d/%d, want defaults %d/%d/%d",
			d.HeaderHeight, d.DayHeaderHeight, d.FooterHeight,
			def.HeaderHeight, def.DayHeaderHeight, def.FooterHeight)
	}
	if d.InnerPadding != def.InnerPadding || d.TextInset != def.TextInset || d.RuleWidth != def.RuleWidth {
		t.Errorf("padding/inset/rule = %d/%d/%d, want defaults", d.InnerPadding, d.TextInset, d.RuleWidth)
	}
	if len(cfg.ICS) != 1 || cfg.ICS[0].ID != "work" {
		t.Errorf("ICS = %+v", cfg.ICS)
	}

	anchors, err := cfg.Display.GridAnchors()
	if err != nil {
		t.Fatalf("GridAnchors error: %v", err)
	}
	if len(anchors) != 3 || anchors[1].TimeOfDay != 12*time.Hour || anchors[1].Fraction != 0.6 {
		t.Errorf("anchors = %+v", anchors)
	}
}

func TestLoadKeepsExplicitZeros(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
timezone: Asia/Seoul
show_all_day: false
display:
  width: 800
  height: 600
  margin: 0
  footer_height: 0
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.ShowAllDay {
		t.Error("ShowAllDay = true, want explicit false kept")
	}
	if cfg.Display.Margin != 0 || cfg.Display.FooterHeight != 0 {
		t.Errorf("margin/footer = %d/%d, want explicit zeros kept", cfg.Display.Margin, cfg.Display.FooterHeight)
	}
	if cfg.Display.HeaderHeight != DefaultDisplay().HeaderHeight {
		t.Errorf("HeaderHeight = %d, want default", cfg.Display.HeaderHeight)
	}
}

func TestUnknownWeekStartFallsBack(t *testing.T) {
	cfg := &Config{WeekStart: "someday"}
	cfg.Normalize()
	if cfg.WeekStart != "sunday" {
		t.Errorf("WeekStart = %q, want sunday", cfg.WeekStart)
	}
}

func TestGridAnchorsRejectsBadTime(t *testing.T) {
	d := DefaultDisplay()
	d.Anchors = []AnchorConfig{{Time: "6am", Fraction: 0}, {Time: "24:00", Fraction: 1}}
	if _, err := d.GridAnchors(); err == nil {
		t.Fatal("expected error for malformed anchor time")
	}
	d.Anchors[0].Time = "06:30"
	anchors, err := d.GridAnchors()
	if err != nil {
		t.Fatalf("GridAnchors error: %v", err)
	}
	if anchors[0].TimeOfDay != 6*time.Hour+30*time.Minute || anchors[1].TimeOfDay != 24*time.Hour {
		t.Errorf("anchors = %+v", anchors)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Highlight = []string{"exam"}
	cfg.BasicAuth = &BasicAuthConfig{Username: "u", Password: "p"}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(got.Highlight) != 1 || got.Highlight[0] != "exam" {
		t.Errorf("Highlight = %v", got.Highlight)
	}
	if got.BasicAuth == nil || got.BasicAuth.Username != "u" {
		t.Errorf("BasicAuth = %+v", got.BasicAuth)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %d entries", len(entries))
	}
}
