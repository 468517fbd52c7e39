package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"einkcal/internal/battery"
	"einkcal/internal/config"
	"einkcal/internal/ics"
	appLog "einkcal/internal/log"
	"einkcal/internal/model"
	"einkcal/internal/pipeline"
)

// cacheTTL bounds how stale a cached response may be.
const cacheTTL = 30 * time.Second

// Server exposes the rendered calendar and the data behind it over HTTP.
type Server struct {
	cfg      *config.Config
	renderer *pipeline.Renderer
	battery  battery.Reader
	mux      *http.ServeMux
	now      func() time.Time

	eventsMu    sync.RWMutex
	eventsCache *eventsCache

	batteryMu    sync.RWMutex
	batteryCache *batteryCache
}

// Option customizes a Server.
type Option func(*Server)

// WithBattery sets the reader behind /api/battery.
func WithBattery(r battery.Reader) Option {
	return func(s *Server) { s.battery = r }
}

// WithClock replaces time.Now for cache expiry and event windows.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer constructs a Server rendering through r.
func NewServer(cfg *config.Config, r *pipeline.Renderer, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		renderer: r,
		mux:      http.NewServeMux(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.registerRoutes()
	return s
}

// Handler returns the root handler, wrapped in basic auth when configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled treats an empty username or password as disabled.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware guards every route except /health.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="einkcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Serve listens on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/layout", s.handleLayout)
	s.mux.HandleFunc("GET /api/battery", s.handleBattery)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("GET /calendar.png", s.handleCalendar)
	s.mux.HandleFunc("GET /preview.png", s.handlePreview)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// latest returns the last render if it is younger than cacheTTL, rendering
// a fresh one otherwise.
func (s *Server) latest(ctx context.Context) (*pipeline.Output, error) {
	if out := s.renderer.Last(); out != nil && s.now().Sub(out.RenderedAt) < cacheTTL {
		return out, nil
	}
	return s.renderer.Render(ctx)
}

// handleCalendar serves the current week as PNG, rendering on demand.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	out, err := s.latest(r.Context())
	if err != nil {
		appLog.Error("render for /calendar.png failed", err)
		writeError(w, http.StatusInternalServerError, "render failed")
		return
	}
	writePNG(w, out)
}

// handlePreview serves the last render without triggering a new one, so a
// polling reader never waits on the network.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	out := s.renderer.Last()
	if out == nil {
		http.ServeFile(w, r, s.cfg.Output.PNGPath)
		return
	}
	writePNG(w, out)
}

func writePNG(w http.ResponseWriter, out *pipeline.Output) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(out.PNG)))
	w.Header().Set("Last-Modified", out.RenderedAt.UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.PNG)
}

// handleRefresh forces a full cycle including the on-disk artifacts.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	out, err := s.renderer.Run(r.Context(), false)
	if err != nil {
		appLog.Error("refresh failed", err)
		writeError(w, http.StatusInternalServerError, "refresh failed")
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{
		RenderedAt:   out.RenderedAt,
		Events:       len(out.Events),
		SourceErrors: out.SourceErrors,
	})
}

type refreshResponse struct {
	RenderedAt   time.Time `json:"rendered_at"`
	Events       int       `json:"events"`
	SourceErrors []string  `json:"source_errors,omitempty"`
}

// layoutResponse is the JSON shape of /api/layout.
type layoutResponse struct {
	RenderedAt time.Time         `json:"rendered_at"`
	WeekStart  time.Time         `json:"week_start"`
	Canvas     [2]int            `json:"canvas"`
	Columns    []columnDTO       `json:"columns"`
	Slots      []slotDTO         `json:"slots"`
	AllDay     [][]eventDTO      `json:"all_day"`
	Marks      []markDTO         `json:"time_axis"`
	Dropped    int               `json:"dropped"`
	Bands      map[string][2]int `json:"bands"`
}

type columnDTO struct {
	Date time.Time `json:"date"`
	X    int       `json:"x"`
	W    int       `json:"w"`
}

type slotDTO struct {
	Event          eventDTO `json:"event"`
	Day            int      `json:"day"`
	SubColumn      int      `json:"sub_column"`
	SubColumnCount int      `json:"sub_column_count"`
	X              int      `json:"x"`
	Y              int      `json:"y"`
	W              int      `json:"w"`
	H              int      `json:"h"`
}

type markDTO struct {
	Label string `json:"label"`
	Y     int    `json:"y"`
}

// handleLayout exposes the geometry of the latest render for debugging.
func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	out, err := s.latest(r.Context())
	if err != nil {
		appLog.Error("render for /api/layout failed", err)
		writeError(w, http.StatusInternalServerError, "render failed")
		return
	}
	g := out.Grid
	resp := layoutResponse{
		RenderedAt: out.RenderedAt,
		WeekStart:  g.WeekStart,
		Canvas:     [2]int{g.CanvasWidth, g.CanvasHeight},
		Dropped:    out.Layout.Dropped,
		Bands: map[string][2]int{
			"header":     {g.HeaderTop, g.HeaderBottom},
			"day_header": {g.DayHeaderTop, g.DayHeaderBottom},
			"body":       {g.BodyTop, g.BodyBottom},
			"footer":     {g.FooterTop, g.FooterBottom},
		},
	}
	for i, d := range g.Days {
		resp.Columns = append(resp.Columns, columnDTO{Date: d, X: g.ColumnX(i), W: g.ColumnWidth})
		day := make([]eventDTO, 0, len(out.Layout.AllDay[i]))
		for _, ev := range out.Layout.AllDay[i] {
			day = append(day, toEventDTO(ev))
		}
		resp.AllDay = append(resp.AllDay, day)
	}
	for _, m := range g.TimeAxis {
		resp.Marks = append(resp.Marks, markDTO{Label: m.Label, Y: m.Y})
	}
	resp.Slots = make([]slotDTO, 0, len(out.Layout.Slots))
	for _, sl := range out.Layout.Slots {
		resp.Slots = append(resp.Slots, slotDTO{
			Event:          toEventDTO(sl.Event),
			Day:            sl.DayIndex,
			SubColumn:      sl.SubColumn,
			SubColumnCount: sl.SubColumnCount,
			X:              sl.X,
			Y:              sl.YTop,
			W:              sl.Width,
			H:              sl.Height(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleBattery reports the gauge, cached for cacheTTL to spare the bus.
func (s *Server) handleBattery(w http.ResponseWriter, r *http.Request) {
	if s.battery == nil {
		writeError(w, http.StatusNotFound, "battery gauge not configured")
		return
	}
	now := s.now()

	s.batteryMu.RLock()
	bc := s.batteryCache
	s.batteryMu.RUnlock()
	if bc != nil && now.Sub(bc.updatedAt) < cacheTTL {
		writeJSON(w, http.StatusOK, bc.status)
		return
	}

	status, err := s.battery.Read(r.Context())
	if err != nil {
		appLog.Error("battery read failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read battery")
		return
	}
	s.batteryMu.Lock()
	s.batteryCache = &batteryCache{status: status, updatedAt: now}
	s.batteryMu.Unlock()

	writeJSON(w, http.StatusOK, status)
}

// eventsResponse is the JSON shape of /api/events.
type eventsResponse struct {
	Events          []eventDTO `json:"events"`
	TruncatedUIDs   []string   `json:"truncated_uids,omitempty"`
	SourceErrors    []string   `json:"source_errors,omitempty"`
	RangeStart      time.Time  `json:"range_start"`
	RangeEnd        time.Time  `json:"range_end"`
	DisplayTimeZone string     `json:"display_timezone"`
	WeekStart       string     `json:"week_start"`
}

type eventsCache struct {
	key       string
	resp      eventsResponse
	updatedAt time.Time
}

type batteryCache struct {
	status    battery.Status
	updatedAt time.Time
}

type eventDTO struct {
	SourceID    string    `json:"source_id"`
	UID         string    `json:"uid"`
	InstanceKey string    `json:"instance_key"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	AllDay      bool      `json:"all_day"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

func toEventDTO(ev model.Event) eventDTO {
	return eventDTO{
		SourceID:    ev.SourceID,
		UID:         ev.UID,
		InstanceKey: ev.InstanceKey,
		Title:       ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
		AllDay:      ev.AllDay,
		Start:       ev.Start,
		End:         ev.End,
	}
}

// handleEvents returns expanded events for a window around now.
//
// GET /api/events?days=7&backfill=1
//   - days:     days ahead of now (default 7)
//   - backfill: days before now (default 1)
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	days := parseIntDefault(q.Get("days"), 7)
	if days <= 0 {
		days = 7
	}
	backfill := max(parseIntDefault(q.Get("backfill"), 1), 0)
	key := strconv.Itoa(days) + "/" + strconv.Itoa(backfill)

	s.eventsMu.RLock()
	ec := s.eventsCache
	s.eventsMu.RUnlock()
	if ec != nil && ec.key == key && s.now().Sub(ec.updatedAt) < cacheTTL {
		writeJSON(w, http.StatusOK, ec.resp)
		return
	}

	loc := pipeline.Location(s.cfg.Timezone)
	now := s.now().In(loc)
	from := now.AddDate(0, 0, -backfill)
	to := now.AddDate(0, 0, days)

	appLog.Debug("api events request", "days", days, "backfill", backfill)

	exp, problems, err := s.renderer.Events(r.Context(), loc, from, to)
	if err != nil {
		appLog.Error("api events: expand failed", err)
		writeError(w, http.StatusInternalServerError, "failed to expand events")
		return
	}
	resp := eventsResponse{
		Events:          eventDTOs(exp),
		TruncatedUIDs:   exp.Truncated,
		SourceErrors:    problems,
		RangeStart:      from,
		RangeEnd:        to,
		DisplayTimeZone: loc.String(),
		WeekStart:       s.cfg.WeekStart,
	}

	s.eventsMu.Lock()
	s.eventsCache = &eventsCache{key: key, resp: resp, updatedAt: s.now()}
	s.eventsMu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func eventDTOs(exp ics.Expansion) []eventDTO {
	out := make([]eventDTO, 0, len(exp.Events))
	for _, ev := range exp.Events {
		out = append(out, toEventDTO(ev))
	}
	return out
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
