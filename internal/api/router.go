package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/heatrank/backend/internal/api/handlers"
	"github.com/wonny/heatrank/backend/pkg/logger"
)

// Handlers groups the endpoint handlers mounted by NewRouter
type Handlers struct {
	Imports  *handlers.ImportHandler
	Rankings *handlers.RankingHandler
	Concepts  *handlers.ConceptHandler   // optional
	Scheduler *handlers.SchedulerHandler // optional
	Health    handlers.HealthChecker     // optional
}

// NewRouter creates and configures the HTTP router
// ⭐ SSOT: routing is configured in this function only
func NewRouter(h Handlers, log *logger.Logger) http.Handler {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", handlers.Health(h.Health)).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()

	// Import endpoints
	api.HandleFunc("/imports", h.Imports.Submit).Methods("POST")
	api.HandleFunc("/imports/tasks/{id:[0-9]+}", h.Imports.GetTask).Methods("GET")
	api.HandleFunc("/imports/batches/{batch}", h.Imports.GetBatch).Methods("GET")

	// Ranking endpoints
	api.HandleFunc("/rankings/recompute", h.Rankings.Recompute).Methods("POST")
	api.HandleFunc("/rankings/summaries", h.Rankings.GetSummaries).Methods("GET")
	api.HandleFunc("/rankings/stocks", h.Rankings.GetStocks).Methods("GET")

	if h.Concepts != nil {
		api.HandleFunc("/concepts", h.Concepts.List).Methods("GET")
		api.HandleFunc("/concepts/refresh", h.Concepts.Refresh).Methods("POST")
		api.HandleFunc("/concepts/aliases", h.Concepts.SaveAlias).Methods("POST")
	}

	if h.Scheduler != nil {
		api.HandleFunc("/scheduler/jobs", h.Scheduler.ListJobs).Methods("GET")
		api.HandleFunc("/scheduler/jobs/{name}/history", h.Scheduler.GetHistory).Methods("GET")
		api.HandleFunc("/scheduler/jobs/{name}/run", h.Scheduler.RunJob).Methods("POST")
	}

	// Apply middleware
	r.Use(loggingMiddleware(log))
	r.Use(recoveryMiddleware(log))

	return r
}

// statusRecorder keeps the status code for the access log
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.status,
				"duration": time.Since(start),
			}).Debug("HTTP request")
		})
	}
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]string{
						"error": "Internal server error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
