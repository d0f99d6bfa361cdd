package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"dslog-monitor/internal/analysis"
	"dslog-monitor/internal/db"
	"dslog-monitor/internal/ingest"
	"dslog-monitor/internal/metrics"
	"dslog-monitor/internal/models"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server represents the API server
type Server struct {
	db     *db.Database
	ingest *ingest.Ingester
	log    zerolog.Logger
	router *mux.Router
}

// NewServer creates a new API server
func NewServer(database *db.Database, log zerolog.Logger) *Server {
	s := &Server{
		db:     database,
		ingest: ingest.New(database, log, true),
		log:    log,
		router: mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Log endpoints
	s.router.HandleFunc("/api/v1/logs", s.handleListLogs).Methods("GET")
	s.router.HandleFunc("/api/v1/logs", s.handleIngestLog).Methods("POST")
	s.router.HandleFunc("/api/v1/logs/{id}", s.handleGetLog).Methods("GET")
	s.router.HandleFunc("/api/v1/logs/{id}/telemetry", s.handleLogTelemetry).Methods("GET")
	s.router.HandleFunc("/api/v1/logs/{id}/events", s.handleLogEvents).Methods("GET")
	s.router.HandleFunc("/api/v1/logs/{id}/summary", s.handleLogSummary).Methods("GET")
	s.router.HandleFunc("/api/v1/logs/{id}/chart", s.handleLogChart).Methods("GET")

	// Brownout endpoint
	s.router.HandleFunc("/api/v1/brownouts", s.handleBrownouts).Methods("GET")

	// Stats endpoint
	s.router.HandleFunc("/api/v1/stats", s.handleStats).Methods("GET")

	// Add middleware
	s.router.Use(s.loggingMiddleware)
	s.router.Use(metricsMiddleware)
	s.router.Use(jsonMiddleware)
}

// Router returns the configured router
func (s *Server) Router() *mux.Router {
	return s.router
}

// Middleware
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "unknown"
		if cr := mux.CurrentRoute(r); cr != nil {
			if tpl, err := cr.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Response helpers
type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Meta    *meta       `json:"meta,omitempty"`
}

type meta struct {
	Total   int   `json:"total,omitempty"`
	Limit   int   `json:"limit,omitempty"`
	Offset  int   `json:"offset,omitempty"`
	QueryMs int64 `json:"query_ms,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Success: false, Error: message})
}

func respondWithMeta(w http.ResponseWriter, data interface{}, m *meta) {
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(apiResponse{Success: true, Data: data, Meta: m})
}

// Query parameter helpers
func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + name)
	}
	return n, nil
}

func timeParam(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, errors.New("invalid " + name + " (use RFC3339)")
	}
	return t, nil
}

// Handlers
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.db.ListLogs(r.URL.Query().Get("kind"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondWithMeta(w, logs, &meta{Total: len(logs)})
}

type ingestRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleIngestLog(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Path == "" {
		respondError(w, http.StatusBadRequest, "path is required")
		return
	}

	res, err := s.ingest.File(req.Path)
	switch {
	case errors.Is(err, ingest.ErrAlreadyIngested):
		respondError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, res.Log)
}

// lookupLog writes a 404 and returns nil when the log does not exist.
func (s *Server) lookupLog(w http.ResponseWriter, r *http.Request) *models.LogFile {
	l, err := s.db.GetLog(mux.Vars(r)["id"])
	if errors.Is(err, sql.ErrNoRows) {
		respondError(w, http.StatusNotFound, "log not found")
		return nil
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return nil
	}
	return l
}

func (s *Server) handleGetLog(w http.ResponseWriter, r *http.Request) {
	l := s.lookupLog(w, r)
	if l == nil {
		return
	}
	respondJSON(w, http.StatusOK, l)
}

func (s *Server) telemetryQuery(r *http.Request, logID string, defLimit int) (models.TelemetryQuery, error) {
	q := models.TelemetryQuery{LogID: logID}
	var err error
	if q.Limit, err = intParam(r, "limit", defLimit); err != nil {
		return q, err
	}
	if q.Offset, err = intParam(r, "offset", 0); err != nil {
		return q, err
	}
	if q.StartTime, err = timeParam(r, "start_time"); err != nil {
		return q, err
	}
	if q.EndTime, err = timeParam(r, "end_time"); err != nil {
		return q, err
	}
	q.BrownoutOnly = r.URL.Query().Get("brownout") == "true"
	return q, nil
}

func (s *Server) handleLogTelemetry(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	l := s.lookupLog(w, r)
	if l == nil {
		return
	}

	q, err := s.telemetryQuery(r, l.ID, 100)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	results, err := s.db.QueryTelemetry(q)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondWithMeta(w, results, &meta{
		Total:   len(results),
		Limit:   q.Limit,
		Offset:  q.Offset,
		QueryMs: time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleLogEvents(w http.ResponseWriter, r *http.Request) {
	l := s.lookupLog(w, r)
	if l == nil {
		return
	}

	limit, err := intParam(r, "limit", 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := s.db.QueryEvents(l.ID, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondWithMeta(w, events, &meta{Total: len(events), Limit: limit, Offset: offset})
}

func (s *Server) handleLogSummary(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	l := s.lookupLog(w, r)
	if l == nil {
		return
	}

	recs, err := s.db.QueryTelemetry(models.TelemetryQuery{LogID: l.ID})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	summary := analysis.Summarize(recs)
	summary.LogID = l.ID
	respondWithMeta(w, summary, &meta{QueryMs: time.Since(start).Milliseconds()})
}

func (s *Server) handleBrownouts(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 100)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	brownouts, err := s.db.GetBrownouts(r.URL.Query().Get("log_id"), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, brownouts)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.GetStats()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, stats)
}
