package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"attendcal/internal/config"
	"attendcal/internal/importer"
	appLog "attendcal/internal/log"
	"attendcal/internal/reconcile"
)

// Trigger starts an import of one year now.
type Trigger interface {
	RunYear(ctx context.Context, year, mode string) (*reconcile.Report, error)
}

// ReportSource lists the latest report of each year.
type ReportSource interface {
	LastReports() []*reconcile.Report
}

// Server provides the admin HTTP API: health, last import reports and the
// manual import trigger.
type Server struct {
	cfg     *config.Config
	trigger Trigger
	reports ReportSource
	mux     *http.ServeMux
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, trigger Trigger, reports ReportSource) *Server {
	s := &Server{
		cfg:     cfg,
		trigger: trigger,
		reports: reports,
		mux:     http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
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
			w.Header().Set("WWW-Authenticate", `Basic realm="attendcal", charset="UTF-8"`)
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
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/reports", s.handleReports)
	s.mux.HandleFunc("/api/sync", s.handleSync)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// reportDTO is the JSON view of a reconcile.Report.
type reportDTO struct {
	Year         string    `json:"year"`
	Mode         string    `json:"mode"`
	OK           bool      `json:"ok"`
	Slots        int       `json:"slots"`
	Created      int       `json:"created"`
	Recreated    int       `json:"recreated"`
	Updated      int       `json:"updated"`
	Unchanged    int       `json:"unchanged"`
	Covered      int       `json:"covered"`
	Deleted      int       `json:"deleted"`
	Protected    int       `json:"protected"`
	Consolidated int       `json:"consolidated"`
	Error        string    `json:"error,omitempty"`
	SlotErrors   []string  `json:"slot_errors,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

func toDTO(r *reconcile.Report) reportDTO {
	dto := reportDTO{
		Year:         r.Year,
		Mode:         r.Mode,
		OK:           r.OK(),
		Slots:        r.Slots,
		Created:      r.Created,
		Recreated:    r.Recreated,
		Updated:      r.Updated,
		Unchanged:    r.Unchanged,
		Covered:      r.Covered,
		Deleted:      r.Deleted,
		Protected:    r.Protected,
		Consolidated: r.Consolidated,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
	}
	if r.Err != nil {
		dto.Error = r.Err.Error()
	}
	for _, e := range r.Errors {
		dto.SlotErrors = append(dto.SlotErrors, e.Error())
	}
	return dto
}

// handleReports returns the latest report of every year.
//
// GET /api/reports
func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	reports := s.reports.LastReports()
	out := make([]reportDTO, 0, len(reports))
	for _, rep := range reports {
		out = append(out, toDTO(rep))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleSync imports one year synchronously and returns its report.
//
// POST /api/sync?year=3A&mode=manual
//   - year: required, must have a configured link
//   - mode: "manual" (default) or "scheduled"
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	year := q.Get("year")
	if year == "" {
		writeError(w, http.StatusBadRequest, "year is required")
		return
	}
	mode := q.Get("mode")
	switch mode {
	case "":
		mode = reconcile.ModeManual
	case reconcile.ModeManual, reconcile.ModeScheduled:
	default:
		writeError(w, http.StatusBadRequest, "mode must be manual or scheduled")
		return
	}

	rep, err := s.trigger.RunYear(r.Context(), year, mode)
	if errors.Is(err, importer.ErrUnknownYear) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		appLog.Error("api sync failed", err, "year", year)
		writeError(w, http.StatusInternalServerError, "sync failed")
		return
	}
	writeJSON(w, http.StatusOK, toDTO(rep))
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
