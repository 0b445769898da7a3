package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"eco-drive-assistant/internal/db"
	"eco-drive-assistant/internal/gsi"
	"eco-drive-assistant/internal/models"
	"eco-drive-assistant/internal/parser"
	"eco-drive-assistant/internal/performance"

	"github.com/gorilla/mux"
)

// Monitor exposes the live state of a running assistant
type Monitor interface {
	Indicator() gsi.State
	Window() *performance.FeedbackWindow
}

// Server represents the API server
type Server struct {
	db      *db.Database
	monitor Monitor
	router  *mux.Router
	now     func() time.Time
}

// NewServer creates a new API server. monitor may be nil when no assistant
// is running.
func NewServer(database *db.Database, monitor Monitor) *Server {
	s := &Server{
		db:      database,
		monitor: monitor,
		router:  mux.NewRouter(),
		now:     time.Now,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Trip endpoints
	s.router.HandleFunc("/api/v1/trips", s.handleListTrips).Methods("GET")
	s.router.HandleFunc("/api/v1/trips/{id}", s.handleGetTrip).Methods("GET")
	s.router.HandleFunc("/api/v1/trips/{id}/samples", s.handleTripSamples).Methods("GET")
	s.router.HandleFunc("/api/v1/trips/{id}/performance", s.handleTripPerformance).Methods("GET")

	// Sample endpoints
	s.router.HandleFunc("/api/v1/samples", s.handleQuerySamples).Methods("GET")
	s.router.HandleFunc("/api/v1/samples", s.handleCreateSample).Methods("POST")
	s.router.HandleFunc("/api/v1/samples/batch", s.handleBatchSamples).Methods("POST")

	// Eco-driving endpoints
	s.router.HandleFunc("/api/v1/feedback", s.handleFeedback).Methods("GET")
	s.router.HandleFunc("/api/v1/gsi", s.handleGSI).Methods("GET")

	// Stats endpoint
	s.router.HandleFunc("/api/v1/stats", s.handleStats).Methods("GET")

	// Add middleware
	s.router.Use(loggingMiddleware)
	s.router.Use(jsonMiddleware)
}

// Router returns the configured router
func (s *Server) Router() *mux.Router {
	return s.router
}

// Middleware
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %v", r.Method, r.URL.Path, time.Since(start))
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

func intParam(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Handlers
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleListTrips(w http.ResponseWriter, r *http.Request) {
	trips, err := s.db.ListTrips(intParam(r, "limit", 100))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, trips)
}

func (s *Server) handleGetTrip(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	trip, err := s.db.GetTrip(id)
	if errors.Is(err, db.ErrNotFound) {
		respondError(w, http.StatusNotFound, "trip not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, trip)
}

// tripSamples loads the samples of the trip named in the path, writing the
// error response itself when it fails.
func (s *Server) tripSamples(w http.ResponseWriter, r *http.Request) (string, []models.TelemetrySample, bool) {
	id := mux.Vars(r)["id"]

	if _, err := s.db.GetTrip(id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(w, http.StatusNotFound, "trip not found")
		} else {
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return id, nil, false
	}

	samples, err := s.db.TripSamples(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return id, nil, false
	}
	return id, samples, true
}

func (s *Server) handleTripSamples(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	_, samples, ok := s.tripSamples(w, r)
	if !ok {
		return
	}

	respondWithMeta(w, samples, &meta{
		Total:   len(samples),
		QueryMs: time.Since(start).Milliseconds(),
	})
}

type tripPerformanceResponse struct {
	*performance.TripPerformance
	Metrics models.TripMetrics `json:"metrics"`
}

func (s *Server) handleTripPerformance(w http.ResponseWriter, r *http.Request) {
	id, samples, ok := s.tripSamples(w, r)
	if !ok {
		return
	}

	t := performance.NewTripPerformance(id, samples)
	respondJSON(w, http.StatusOK, tripPerformanceResponse{TripPerformance: t, Metrics: t.Metrics()})
}

func (s *Server) handleQuerySamples(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	q := models.SampleQuery{
		TripID: r.URL.Query().Get("trip_id"),
		Limit:  intParam(r, "limit", 100),
		Offset: intParam(r, "offset", 0),
	}

	if v := r.URL.Query().Get("start_time"); v != "" {
		q.StartTime, _ = time.Parse(time.RFC3339, v)
	}
	if v := r.URL.Query().Get("end_time"); v != "" {
		q.EndTime, _ = time.Parse(time.RFC3339, v)
	}
	if v := r.URL.Query().Get("min_speed"); v != "" {
		q.MinSpeed, _ = strconv.ParseFloat(v, 64)
	}
	if v := r.URL.Query().Get("max_speed"); v != "" {
		q.MaxSpeed, _ = strconv.ParseFloat(v, 64)
	}

	results, err := s.db.QuerySamples(q)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	queryMs := time.Since(start).Milliseconds()
	respondWithMeta(w, results, &meta{
		Total:   len(results),
		Limit:   q.Limit,
		Offset:  q.Offset,
		QueryMs: queryMs,
	})
}

func (s *Server) handleCreateSample(w http.ResponseWriter, r *http.Request) {
	var sample models.TelemetrySample
	if err := json.NewDecoder(r.Body).Decode(&sample); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if sample.TripID == "" {
		respondError(w, http.StatusBadRequest, "trip_id is required")
		return
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = s.now()
	}
	if errs := parser.ValidateSample(&sample); len(errs) > 0 {
		respondError(w, http.StatusBadRequest, errs[0])
		return
	}
	if _, err := s.db.GetTrip(sample.TripID); errors.Is(err, db.ErrNotFound) {
		respondError(w, http.StatusNotFound, "trip not found")
		return
	}

	if err := s.db.InsertSample(&sample); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, sample)
}

func (s *Server) handleBatchSamples(w http.ResponseWriter, r *http.Request) {
	var records []models.TelemetrySample
	if err := json.NewDecoder(r.Body).Decode(&records); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON array")
		return
	}

	if len(records) == 0 {
		respondError(w, http.StatusBadRequest, "empty array")
		return
	}

	// Set timestamps for records without one
	now := s.now()
	for i := range records {
		if records[i].TripID == "" {
			respondError(w, http.StatusBadRequest, "trip_id is required")
			return
		}
		if records[i].Timestamp.IsZero() {
			records[i].Timestamp = now
		}
	}

	count, err := s.db.InsertSamples(records)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, map[string]int64{"inserted": count})
}

type feedbackResponse struct {
	Days        int            `json:"days"`
	EcoDriving  int            `json:"eco_driving"`
	Tier        int            `json:"tier"`
	Scores      map[string]int `json:"scores"`
	TripIDs     []string       `json:"trip_ids"`
	SampleCount int            `json:"sample_count"`
}

func newFeedbackResponse(days int, fw *performance.FeedbackWindow) feedbackResponse {
	return feedbackResponse{
		Days:        days,
		EcoDriving:  fw.EcoDriving,
		Tier:        performance.Tier(fw.EcoDriving),
		Scores:      fw.FactorScores(),
		TripIDs:     fw.TripIDs,
		SampleCount: fw.SampleCount,
	}
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	days := intParam(r, "days", performance.DefaultWindowDays)
	if days <= 0 {
		respondError(w, http.StatusBadRequest, "days must be positive")
		return
	}

	// The running assistant already keeps the default window scored.
	if s.monitor != nil && days == performance.DefaultWindowDays {
		if fw := s.monitor.Window(); fw != nil {
			respondJSON(w, http.StatusOK, newFeedbackResponse(days, fw))
			return
		}
	}

	fw, _, err := performance.LoadFeedbackWindow(s.db, s.now(), days)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondWithMeta(w, newFeedbackResponse(days, fw), &meta{
		Total:   len(fw.TripIDs),
		QueryMs: time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleGSI(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		respondError(w, http.StatusServiceUnavailable, "assistant not running")
		return
	}
	respondJSON(w, http.StatusOK, s.monitor.Indicator())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.GetStats()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, stats)
}
