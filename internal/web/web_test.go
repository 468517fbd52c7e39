package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"einkcal/internal/battery"
	"einkcal/internal/config"
	"einkcal/internal/pipeline"
)

const feed = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//einkcal//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:standup\r\n" +
	"DTSTART:20261012T090000Z\r\n" +
	"DTEND:20261012T093000Z\r\n" +
	"SUMMARY:Standup\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func clock() time.Time {
	return time.Date(2026, 10, 14, 10, 5, 0, 0, time.UTC)
}

func newTestServer(t *testing.T, auth *config.BasicAuthConfig) (*Server, *config.Config) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "work.ics")
	if err := os.WriteFile(path, []byte(feed), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.ICS = []config.ICSConfig{{ID: "work", URL: path}}
	cfg.Output.PNGPath = filepath.Join(dir, "calendar.png")
	cfg.Output.CacheDir = filepath.Join(dir, "cache")
	cfg.BasicAuth = auth

	r := pipeline.New(cfg, pipeline.WithClock(clock), pipeline.WithBattery(battery.Fixed(87)))
	return NewServer(cfg, r, WithClock(clock), WithBattery(battery.Fixed(87))), cfg
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, &config.BasicAuthConfig{Username: "u", Password: "p"})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("health = %d %q, want 200 OK without credentials", rec.Code, rec.Body.String())
	}
}

func TestBasicAuth(t *testing.T) {
	s, _ := newTestServer(t, &config.BasicAuthConfig{Username: "u", Password: "p"})
	h := s.Handler()

	tests := []struct {
		name       string
		user, pass string
		setAuth    bool
		want       int
	}{
		{"missing", "", "", false, http.StatusUnauthorized},
		{"wrong password", "u", "nope", true, http.StatusUnauthorized},
		{"valid", "u", "p", true, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/battery", nil)
			if tt.setAuth {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestCalendarPNG(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/calendar.png", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.HasPrefix(rec.Body.String(), "\x89PNG") {
		t.Error("body is not a PNG")
	}
}

func TestPreviewWithoutRenderServesDisk(t *testing.T) {
	s, cfg := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/preview.png", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 before any render", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status = %d, body %s", rec.Code, rec.Body.String())
	}
	if _, err := os.Stat(cfg.Output.PNGPath); err != nil {
		t.Errorf("refresh did not write png: %v", err)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/preview.png", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("preview after refresh = %d", rec.Code)
	}
}

func TestLayoutJSON(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/layout", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp layoutResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Columns) != 7 {
		t.Errorf("columns = %d, want 7", len(resp.Columns))
	}
	if resp.Columns[0].W != 174 {
		t.Errorf("column width = %d, want 174", resp.Columns[0].W)
	}
	if len(resp.Slots) != 1 || resp.Slots[0].Event.Title != "Standup" || resp.Slots[0].Day != 1 {
		t.Errorf("slots = %+v", resp.Slots)
	}
}

func TestEventsJSON(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events?days=1&backfill=3", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp eventsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Events) != 1 || resp.Events[0].Title != "Standup" {
		t.Errorf("events = %+v", resp.Events)
	}
	if resp.DisplayTimeZone != "UTC" {
		t.Errorf("DisplayTimeZone = %q", resp.DisplayTimeZone)
	}
}

func TestBatteryJSON(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/battery", nil))
	var st battery.Status
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Percent != 87 {
		t.Errorf("Percent = %d, want 87", st.Percent)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/refresh", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/refresh = %d, want 405", rec.Code)
	}
}
