// File: internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/soroscan/soroscan/internal/config"
	"github.com/soroscan/soroscan/internal/metrics"
	"github.com/soroscan/soroscan/internal/storage"
	syncengine "github.com/soroscan/soroscan/internal/sync"
	"github.com/soroscan/soroscan/internal/worker"
	"github.com/soroscan/soroscan/pkg/utils"
)

// HTTPServer exposes the read accessors and the thin admin surface of the
// indexer over HTTP.
type HTTPServer struct {
	config         *config.Config
	server         *http.Server
	router         *mux.Router
	storage        storage.Storage
	syncEngine     *syncengine.Engine
	pool           *worker.Pool
	metricsManager *metrics.Manager
	logger         *logrus.Entry
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(
	cfg *config.Config,
	st storage.Storage,
	engine *syncengine.Engine,
	pool *worker.Pool,
	metricsManager *metrics.Manager,
) *HTTPServer {
	s := &HTTPServer{
		config:         cfg,
		storage:        st,
		syncEngine:     engine,
		pool:           pool,
		metricsManager: metricsManager,
		logger:         utils.ComponentLogger("server"),
	}

	s.setupRouter()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
	if s.metricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}

	if s.config.Server.EnableHealth {
		s.router.HandleFunc("/healthz", s.healthHandler).Methods("GET")
	}
	if s.config.Server.EnableMetrics && s.metricsManager != nil {
		s.router.Handle("/metrics", s.metricsManager.GetPrometheusMetrics().Handler())
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Events
	api.HandleFunc("/events", s.listEventsHandler).Methods("GET")
	api.HandleFunc("/events/{id:[0-9]+}", s.getEventHandler).Methods("GET")

	// Contracts
	api.HandleFunc("/contracts", s.listContractsHandler).Methods("GET")
	api.HandleFunc("/contracts", s.addContractHandler).Methods("POST")
	api.HandleFunc("/contracts/{id}", s.getContractHandler).Methods("GET")
	api.HandleFunc("/contracts/{id}/events", s.listContractEventsHandler).Methods("GET")
	api.HandleFunc("/contracts/{id}/abi", s.uploadABIHandler).Methods("POST")
	api.HandleFunc("/contracts/{id}/schemas", s.addSchemaHandler).Methods("POST")
	api.HandleFunc("/contracts/{id}/backfill", s.backfillHandler).Methods("POST")

	// Webhook subscriptions
	api.HandleFunc("/subscriptions", s.listSubscriptionsHandler).Methods("GET")
	api.HandleFunc("/subscriptions", s.addSubscriptionHandler).Methods("POST")
	api.HandleFunc("/subscriptions/{id:[0-9]+}/deliveries", s.listDeliveriesHandler).Methods("GET")
	api.HandleFunc("/subscriptions/{id:[0-9]+}/reactivate", s.reactivateSubscriptionHandler).Methods("POST")

	// Alert rules
	api.HandleFunc("/alerts/rules", s.listAlertRulesHandler).Methods("GET")
	api.HandleFunc("/alerts/rules", s.addAlertRuleHandler).Methods("POST")
	api.HandleFunc("/alerts/executions", s.listAlertExecutionsHandler).Methods("GET")

	// Stats
	api.HandleFunc("/stats", s.statsHandler).Methods("GET")
}

// Start begins serving; blocks until the listener fails or is shut down
func (s *HTTPServer) Start() error {
	s.logger.WithField("addr", s.server.Addr).Info("HTTP server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return utils.NewAppError(utils.ErrCodeInternal, "HTTP server failed", err.Error())
	}
	return nil
}

// Stop shuts the server down gracefully
func (s *HTTPServer) Stop(ctx context.Context) error {
	s.logger.Info("HTTP server stopping")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.WithFields(logrus.Fields{
			"method":    r.Method,
			"path":      r.URL.Path,
			"duration":  time.Since(start).String(),
			"remote_ip": r.RemoteAddr,
		}).Debug("HTTP request")
	})
}

// corsMiddleware adds CORS headers
func (s *HTTPServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// metricsMiddleware records HTTP request metrics
func (s *HTTPServer) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriterWrapper{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}
		next.ServeHTTP(wrapper, r)

		s.metricsManager.GetPrometheusMetrics().RecordHTTPRequest(
			r.Method,
			s.getRoutePath(r),
			strconv.Itoa(wrapper.statusCode),
			time.Since(start),
		)
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// getRoutePath extracts the route template from the request, so metric
// labels stay bounded
func (s *HTTPServer) getRoutePath(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return r.URL.Path
	}
	template, err := route.GetPathTemplate()
	if err != nil {
		return r.URL.Path
	}
	return template
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithField("error", err.Error()).Error("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string, err error) {
	errorResponse := map[string]interface{}{
		"error":     message,
		"status":    status,
		"timestamp": time.Now().UTC(),
	}
	if err != nil {
		errorResponse["details"] = err.Error()
		s.logger.WithFields(logrus.Fields{
			"status":  status,
			"message": message,
			"error":   err.Error(),
		}).Error("HTTP error")
	}
	s.writeJSON(w, status, errorResponse)
}

// healthHandler returns basic health status
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if err := s.storage.Ping(); err != nil {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"version":   s.config.App.Version,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}
