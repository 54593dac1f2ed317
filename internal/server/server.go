// Package server is the HTTP boundary: routing, middleware, and the
// JSON envelopes the frontend consumes.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/pharmaflow/pharmaflow-backend/internal/analysis"
	"github.com/pharmaflow/pharmaflow-backend/internal/commander"
	"github.com/pharmaflow/pharmaflow-backend/internal/config"
	"github.com/pharmaflow/pharmaflow-backend/internal/errkind"
	"github.com/pharmaflow/pharmaflow-backend/internal/graph"
	"github.com/pharmaflow/pharmaflow-backend/internal/ingest"
	"github.com/pharmaflow/pharmaflow-backend/internal/metrics"
	"github.com/pharmaflow/pharmaflow-backend/internal/monitor"
	"github.com/pharmaflow/pharmaflow-backend/internal/store"
	"github.com/pharmaflow/pharmaflow-backend/internal/tools"
)

// Server wires every component behind the HTTP surface.
type Server struct {
	cfg          *config.Config
	logger       *zap.Logger
	store        store.Store
	registry     *tools.Registry
	orchestrator *analysis.Orchestrator
	commander    *commander.Commander
	monitor      *monitor.Monitor
	graphs       *graph.Service
	importer     *graph.Importer
	ingestor     *ingest.Ingestor
}

func New(
	cfg *config.Config,
	logger *zap.Logger,
	st store.Store,
	registry *tools.Registry,
	orchestrator *analysis.Orchestrator,
	cmd *commander.Commander,
	mon *monitor.Monitor,
	graphs *graph.Service,
	importer *graph.Importer,
	ingestor *ingest.Ingestor,
) *Server {
	return &Server{
		cfg:          cfg,
		logger:       logger,
		store:        st,
		registry:     registry,
		orchestrator: orchestrator,
		commander:    cmd,
		monitor:      mon,
		graphs:       graphs,
		importer:     importer,
		ingestor:     ingestor,
	}
}

// Router builds the full route table with middleware and CORS.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/ws/monitor", s.handleMonitorWS).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()

	// Process graph
	api.HandleFunc("/graph/structure", s.handleGraphStructure).Methods("GET")
	api.HandleFunc("/graph/risks/tree", s.handleRiskTree).Methods("GET")
	api.HandleFunc("/graph/nodes/{code}/risks", s.handleNodeRisks).Methods("GET")
	api.HandleFunc("/graph/import", s.handleGraphImport).Methods("POST")

	// Statistical tools
	api.HandleFunc("/lss/tools", s.handleListTools).Methods("GET")
	api.HandleFunc("/lss/tools/{tool_key}/run", s.handleRunTool).Methods("POST")
	api.HandleFunc("/lss/spc/analyze", s.handleSPCAnalyze).Methods("POST")
	api.HandleFunc("/lss/pareto/analyze", s.handleParetoAnalyze).Methods("POST")
	api.HandleFunc("/lss/histogram/analyze", s.handleHistogramAnalyze).Methods("POST")
	api.HandleFunc("/lss/boxplot/analyze", s.handleBoxplotAnalyze).Methods("POST")

	// Analysis dimensions
	api.HandleFunc("/analysis/batch", s.handleAnalyzeBatch).Methods("POST")
	api.HandleFunc("/analysis/process", s.handleAnalyzeProcess).Methods("POST")
	api.HandleFunc("/analysis/workshop", s.handleAnalyzeWorkshop).Methods("POST")
	api.HandleFunc("/analysis/person", s.handleAnalyzePerson).Methods("POST")
	api.HandleFunc("/analysis/time", s.handleAnalyzeTime).Methods("POST")
	api.HandleFunc("/analysis/daily", s.handleDailySummary).Methods("POST")

	// Instructions
	api.HandleFunc("/instructions", s.handleListInstructions).Methods("GET")
	api.HandleFunc("/instructions/generate", s.handleGenerateInstructions).Methods("POST")
	api.HandleFunc("/instructions/{id:[0-9]+}/read", s.handleMarkRead).Methods("POST")
	api.HandleFunc("/instructions/{id:[0-9]+}/done", s.handleMarkDone).Methods("POST")

	// Monitoring
	api.HandleFunc("/monitor/node/{code}", s.handleNodeMonitor).Methods("GET")
	api.HandleFunc("/monitor/latest", s.handleLatestStatus).Methods("GET")

	// Data ingestion
	api.HandleFunc("/ingest/measurement", s.handleIngestMeasurement).Methods("POST")

	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

// ListenAddr is the bind address from configuration.
func (s *Server) ListenAddr() string {
	return fmt.Sprintf(":%d", s.cfg.Server.Port)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if err := s.store.Ping(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]string{"status": status, "service": "pharmaflow-backend"})
}

// ─── Middleware ──────────────────────────────────────────────────────────────

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())

		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.statusCode),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered",
					zap.Any("error", err),
					zap.String("path", r.URL.Path))
				respondJSON(w, http.StatusInternalServerError, failure("internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ─── Response helpers ────────────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func failure(msgs ...string) map[string]any {
	return map[string]any{"success": false, "errors": msgs}
}

// respondError maps error kinds onto HTTP statuses.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errkind.ErrBadRequest), errors.Is(err, errkind.ErrInsufficientData):
		status = http.StatusBadRequest
	case errors.Is(err, errkind.ErrUnknownTool), errors.Is(err, errkind.ErrUnknownEntity):
		status = http.StatusNotFound
	case errors.Is(err, errkind.ErrBadTransition):
		status = http.StatusConflict
	case errors.Is(err, errkind.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	respondJSON(w, status, failure(err.Error()))
}

func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("malformed request body: %w", errkind.ErrBadRequest)
	}
	return nil
}
