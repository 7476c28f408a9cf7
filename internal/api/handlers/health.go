package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/wonny/heatrank/backend/pkg/database"
)

// HealthChecker reports database health; nil means no database is wired
type HealthChecker interface {
	HealthCheck(ctx context.Context) (*database.HealthStatus, error)
}

// Health returns server health status
// GET /health
func Health(db HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{
			"status":  "ok",
			"service": "heatrank-api",
		}
		if db == nil {
			respondJSON(w, http.StatusOK, resp)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status, err := db.HealthCheck(ctx)
		resp["database"] = status
		if err != nil {
			resp["status"] = "degraded"
			respondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		respondJSON(w, http.StatusOK, resp)
	}
}
