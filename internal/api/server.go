// Package api is the request/response boundary of the calendar.
//
// Server exposes a store.Calendar over HTTP with a uniform JSON envelope:
//
//	{"success": true,  "data": ...}
//	{"success": false, "error": "..."}
//
// Client is the transport shim: it implements store.Calendar by calling a
// Server, so callers without direct backend access use the same contract
// as the in-process facade.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/roach88/famcal/internal/record"
	"github.com/roach88/famcal/internal/snapshot"
	"github.com/roach88/famcal/internal/store"
)

// MaxBodyBytes caps request bodies.
const MaxBodyBytes = 1 << 20

// Response is the envelope of every JSON reply.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Deleted is the data of a DELETE reply.
type Deleted struct {
	Deleted bool `json:"deleted"`
}

// TaskRequest is the body of POST /api/tasks.
type TaskRequest struct {
	Task string `json:"task"`
}

// Server serves a Calendar.
type Server struct {
	cal    store.Calendar
	mux    *http.ServeMux
	now    func() time.Time
	ics    []snapshot.ICSOption
	logger *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithClock overrides the time source used by the stats route.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// WithICSOptions sets the options used by the iCalendar feed.
func WithICSOptions(opts ...snapshot.ICSOption) Option {
	return func(s *Server) {
		s.ics = opts
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// NewServer builds a Server over cal with every route registered.
func NewServer(cal store.Calendar, opts ...Option) *Server {
	s := &Server{
		cal:    cal,
		mux:    http.NewServeMux(),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/events", s.handleGetEvents)
	s.mux.HandleFunc("POST /api/events", s.handleSaveEvent)
	s.mux.HandleFunc("DELETE /api/events", s.handleDeleteEvent)
	s.mux.HandleFunc("GET /api/events/range", s.handleEventsInRange)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)

	s.mux.HandleFunc("GET /api/tasks", s.handleGetTasks)
	s.mux.HandleFunc("POST /api/tasks", s.handleSaveTask)
	s.mux.HandleFunc("DELETE /api/tasks", s.handleDeleteTask)

	s.mux.HandleFunc("GET /api/probe", s.handleProbe)
	s.mux.HandleFunc("GET /api/export", s.handleExport)
	s.mux.HandleFunc("POST /api/import", s.handleImport)
	s.mux.HandleFunc("POST /api/reset", s.handleReset)
	s.mux.HandleFunc("GET /api/calendar.ics", s.handleICS)

	s.mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, Response{Success: true, Data: "ok"})
	})
}

// Handler returns the routes wrapped in request logging.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func (s *Server) ok(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: data})
}

// fail answers with the envelope. Invalid input is the caller's fault;
// everything else is reported as a server error.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, record.ErrInvalid) {
		status = http.StatusBadRequest
	} else {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, Response{Success: false, Error: err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: request body: %v", record.ErrInvalid, err)
	}
	return nil
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.cal.Events(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, events)
}

func (s *Server) handleSaveEvent(w http.ResponseWriter, r *http.Request) {
	var e record.Event
	if err := decodeBody(w, r, &e); err != nil {
		s.fail(w, r, err)
		return
	}
	saved, err := s.cal.SaveEvent(r.Context(), record.NormalizeEvent(e))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, saved)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		s.fail(w, r, fmt.Errorf("%w: event id is required", record.ErrInvalid))
		return
	}
	deleted, err := s.cal.DeleteEvent(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, Deleted{Deleted: deleted})
}

func (s *Server) handleEventsInRange(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	events, err := store.EventsInRange(r.Context(), s.cal, q.Get("start"), q.Get("end"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, events)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := store.ComputeStats(r.Context(), s.cal, s.now())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, st)
}

func (s *Server) handleGetTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.cal.Tasks(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, tasks)
}

func (s *Server) handleSaveTask(w http.ResponseWriter, r *http.Request) {
	var req TaskRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	name, err := s.cal.SaveTask(r.Context(), record.NormalizeTask(req.Task))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, name)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		s.fail(w, r, fmt.Errorf("%w: task name is required", record.ErrInvalid))
		return
	}
	deleted, err := s.cal.DeleteTask(r.Context(), name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, Deleted{Deleted: deleted})
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	st, err := s.cal.Status(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, st)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	snap, err := s.cal.Snapshot(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, snap)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	snap, err := snapshot.Decode(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.cal.Restore(r.Context(), snap); err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, map[string]int{"events": len(snap.Events), "tasks": len(snap.Tasks)})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.cal.Reset(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, nil)
}

func (s *Server) handleICS(w http.ResponseWriter, r *http.Request) {
	snap, err := s.cal.Snapshot(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := snapshot.EncodeICS(&buf, snap, s.ics...); err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	_, _ = buf.WriteTo(w)
}
