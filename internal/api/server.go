// Package api serves the ground station's live state over HTTP: JSON
// snapshots of the current flight, completed images, a server-sent event
// stream and debug charts.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/raptorhab/internal/db"
	"github.com/banshee-data/raptorhab/internal/monitoring"
	"github.com/banshee-data/raptorhab/internal/session"
	"github.com/banshee-data/raptorhab/internal/timeutil"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	session *session.Session
	hub     *session.Hub
	db      *db.DB
	clock   timeutil.Clock

	inactivity time.Duration
	keepAlive  time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithDB enables the flight history endpoints.
func WithDB(database *db.DB) Option {
	return func(s *Server) { s.db = database }
}

// WithClock sets the clock used to age telemetry and stamp manual wind
// profiles.
func WithClock(c timeutil.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// WithInactivityTimeout sets how long without packets before the link is
// reported as silent.
func WithInactivityTimeout(d time.Duration) Option {
	return func(s *Server) { s.inactivity = d }
}

// NewServer returns a server over sess. hub feeds /api/events and must be
// registered as an observer of sess.
func NewServer(sess *session.Session, hub *session.Hub, opts ...Option) *Server {
	s := &Server{
		session:    sess,
		hub:        hub,
		clock:      timeutil.RealClock{},
		inactivity: session.DefaultInactivityTimeout,
		keepAlive:  15 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/telemetry", s.listTelemetry)
	mux.HandleFunc("/api/telemetry/latest", s.showLatestTelemetry)
	mux.HandleFunc("/api/prediction", s.showPrediction)
	mux.HandleFunc("/api/burst", s.showBurst)
	mux.HandleFunc("/api/images", s.listImages)
	mux.HandleFunc("/api/images/{id}", s.serveImage)
	mux.HandleFunc("/api/messages", s.listMessages)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/wind", s.handleWind)
	mux.HandleFunc("/api/session/reset", s.resetSession)
	mux.HandleFunc("/api/events", s.streamEvents)
	mux.HandleFunc("/api/flights", s.listFlights)
	mux.HandleFunc("/api/version", s.showVersion)
	s.attachDebug(mux)
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("failed to write response: %v", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// requireGet rejects anything but GET and reports whether to continue.
func (s *Server) requireGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

// intParam parses an optional positive integer query parameter.
func intParam(r *http.Request, name string, def, max int) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, false
	}
	return min(n, max), true
}
