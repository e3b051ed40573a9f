package web

import (
	"bufio"
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sevcal/internal/calendar"
	"sevcal/internal/codec"
	"sevcal/internal/config"
	appLog "sevcal/internal/log"
	"sevcal/internal/metrics"
)

// Server exposes the calendar over HTTP: a JSON API, a websocket that
// announces state changes, Prometheus metrics and the embedded UI.
type Server struct {
	cfg      *config.Config
	cal      *calendar.Calendar
	hub      *Hub
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	mux      *http.ServeMux

	cancelSub func()
}

// embeddedStatic contains the single-page UI.
//
//go:embed all:static
var embeddedStatic embed.FS

// Options carries the optional collaborators of NewServer.
type Options struct {
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// NewServer constructs a new Server and subscribes its websocket hub to
// cal. Close releases the subscription.
func NewServer(cfg *config.Config, cal *calendar.Calendar, opts Options) *Server {
	s := &Server{
		cfg:      cfg,
		cal:      cal,
		hub:      NewHub(),
		metrics:  opts.Metrics,
		gatherer: opts.Gatherer,
		mux:      http.NewServeMux(),
	}
	s.cancelSub = cal.Subscribe(s.hub.OnChange)
	s.registerRoutes()
	return s
}

// Close unsubscribes from the calendar.
func (s *Server) Close() {
	if s.cancelSub != nil {
		s.cancelSub()
	}
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := s.instrument(s.mux)
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
	// Empty username or password means disabled.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health and /metrics with
// HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="sevcal", charset="UTF-8"`)
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

// Run serves until ctx is cancelled and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
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
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if s.gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	s.mux.HandleFunc("GET /api/state", s.handleState)
	s.mux.HandleFunc("GET /api/index", s.handleIndex)
	s.mux.HandleFunc("GET /api/days/{date}", s.handleDay)

	s.mux.HandleFunc("PUT /api/events", s.handleSetEvents)
	s.mux.HandleFunc("POST /api/events", s.handleSaveEvent)
	s.mux.HandleFunc("PUT /api/events/{id}", s.handleSaveEvent)
	s.mux.HandleFunc("DELETE /api/events/{id}", s.handleRemoveEvent)
	s.mux.HandleFunc("PATCH /api/events/{id}/dates/{date}", s.handleUpdateEntry)
	s.mux.HandleFunc("DELETE /api/events/{id}/dates/{date}", s.handleRemoveDateEntry)

	s.mux.HandleFunc("POST /api/blackouts", s.handleSaveBlackout)
	s.mux.HandleFunc("PUT /api/blackouts/{id}", s.handleSaveBlackout)
	s.mux.HandleFunc("DELETE /api/blackouts/{id}", s.handleRemoveBlackout)
	s.mux.HandleFunc("POST /api/blackouts/{id}/dates/{date}", s.handleAddBlackoutGroupDate)
	s.mux.HandleFunc("DELETE /api/blackouts/{id}/dates/{date}", s.handleRemoveBlackoutGroupDate)
	s.mux.HandleFunc("POST /api/blackout-dates/{date}", s.handleAddBlackoutDate)
	s.mux.HandleFunc("DELETE /api/blackout-dates/{date}", s.handleRemoveBlackoutDate)

	s.mux.HandleFunc("PUT /api/settings", s.handleSettings)
	s.mux.HandleFunc("GET /api/export", s.handleExport)
	s.mux.HandleFunc("GET /api/export.ics", s.handleExportICS)
	s.mux.HandleFunc("POST /api/import", s.handleImport)
	s.mux.HandleFunc("POST /api/import/base64", s.handleImportBase64)
	s.mux.HandleFunc("POST /api/reset", s.handleReset)
	s.mux.HandleFunc("GET /api/ws", s.handleWS)

	// Everything else is the embedded UI.
	s.mux.Handle("/", s.staticFileServer())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r, s.cal.Revision())
}

// staticFileServer serves the embedded files from internal/web/static.
func (s *Server) staticFileServer() http.Handler {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		appLog.Error("failed to initialize embedded static filesystem", err)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "static UI not available", http.StatusServiceUnavailable)
		})
	}

	fileServer := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		// Unknown /api/* paths must 404 rather than return HTML.
		if path == "/api" || strings.HasPrefix(path, "/api/") {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code for metrics. It passes Hijack
// through so websocket upgrades still work.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) instrument(next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.ObserveRequest(r.Method, strconv.Itoa(rec.status), time.Since(start).Seconds())
	})
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

// writeCalendarError maps calendar and codec errors onto status codes.
func writeCalendarError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, codec.ErrInvalidJSON):
		writeError(w, http.StatusBadRequest, codec.ErrInvalidJSON.Error())
	case errors.Is(err, codec.ErrUnrecognized),
		errors.Is(err, codec.ErrEmptyPayload),
		errors.Is(err, calendar.ErrNoSelection),
		errors.Is(err, calendar.ErrInvalidDate):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, calendar.ErrEventNotFound),
		errors.Is(err, calendar.ErrEntryNotFound),
		errors.Is(err, calendar.ErrGroupNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		appLog.Error("request failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
