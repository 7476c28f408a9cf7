package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/wonny/heatrank/backend/internal/scheduler"
	"github.com/wonny/heatrank/backend/pkg/logger"
)

// SchedulerHandler exposes the scheduled jobs of a running server
type SchedulerHandler struct {
	sched  *scheduler.Scheduler
	logger *logger.Logger
}

// NewSchedulerHandler creates a new scheduler handler
func NewSchedulerHandler(sched *scheduler.Scheduler, log *logger.Logger) *SchedulerHandler {
	return &SchedulerHandler{sched: sched, logger: log}
}

// ListJobs returns every job with its run statistics
// GET /api/scheduler/jobs
func (h *SchedulerHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	names := h.sched.GetAllJobs()
	stats := h.sched.GetJobStats()

	jobs := make([]scheduler.JobStats, 0, len(names))
	for _, name := range names {
		jobs = append(jobs, stats[name])
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetHistory returns the recorded runs of one job
// GET /api/scheduler/jobs/{name}/history?limit=20&failed=true
func (h *SchedulerHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	history, err := h.sched.GetJobHistory(name)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	var results []scheduler.JobResult
	if r.URL.Query().Get("failed") == "true" {
		results = history.GetFailedResults()
	} else {
		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				respondError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = n
		}
		results = history.GetLatestResults(limit)
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"job":          name,
		"results":      results,
		"success_rate": history.GetSuccessRate(),
	})
}

// RunJob runs one job now and returns its result
// POST /api/scheduler/jobs/{name}/run
func (h *SchedulerHandler) RunJob(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	runErr := h.sched.RunJob(name)
	if errors.Is(runErr, scheduler.ErrJobNotFound) {
		respondError(w, http.StatusNotFound, runErr.Error())
		return
	}

	history, err := h.sched.GetJobHistory(name)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	latest := history.GetLatestResults(1)

	status := http.StatusOK
	if runErr != nil {
		h.logger.WithError(runErr).WithField("job", name).Warn("Manual job run failed")
		status = http.StatusInternalServerError
	}
	if len(latest) == 0 {
		respondError(w, status, "job produced no result")
		return
	}
	respondJSON(w, status, latest[0])
}
