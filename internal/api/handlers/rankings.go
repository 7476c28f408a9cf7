package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/wonny/heatrank/backend/internal/contracts"
	"github.com/wonny/heatrank/backend/internal/s1_import"
	"github.com/wonny/heatrank/backend/pkg/logger"
)

// RankingHandler serves derived rankings and recomputes them
// ⭐ SSOT: ranking API handlers live in this struct only
type RankingHandler struct {
	coord   *s1_import.Coordinator
	derived contracts.DerivedRepository
	logger  *logger.Logger
}

// NewRankingHandler creates a new ranking handler
func NewRankingHandler(coord *s1_import.Coordinator, derived contracts.DerivedRepository, log *logger.Logger) *RankingHandler {
	return &RankingHandler{
		coord:   coord,
		derived: derived,
		logger:  log,
	}
}

// RecomputeRequest selects the date whose derived data is rebuilt
type RecomputeRequest struct {
	ImportType  string `json:"import_type"`
	TradingDate string `json:"trading_date"` // YYYY-MM-DD
}

// Recompute rebuilds rankings and summaries for one date from stored rows
// POST /api/rankings/recompute
func (h *RankingHandler) Recompute(w http.ResponseWriter, r *http.Request) {
	var req RecomputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	spec, err := contracts.LookupImportType(req.ImportType)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	date, err := contracts.ParseDate(req.TradingDate)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid 'trading_date' format (expected YYYY-MM-DD)")
		return
	}

	res, err := h.coord.Recompute(r.Context(), spec.Type, date)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.WithError(err).Error("Recompute failed")
		}
		respondError(w, status, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, res)
}

// GetSummaries returns concept summaries of one date by concept rank
// GET /api/rankings/summaries?type=volume&date=2025-09-06
func (h *RankingHandler) GetSummaries(w http.ResponseWriter, r *http.Request) {
	t, date, err := typeAndDate(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sums, err := h.derived.Summaries(r.Context(), t, date)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get summaries")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve summaries")
		return
	}

	resp := map[string]interface{}{
		"import_type":  t,
		"trading_date": date.Format(contracts.DateLayout),
		"summaries":    sums,
		"count":        len(sums),
	}
	if state, err := h.derived.State(r.Context(), t, date); err == nil {
		resp["state"] = state
	}

	respondJSON(w, http.StatusOK, resp)
}

// GetStocks returns stock rankings, optionally for one concept
// GET /api/rankings/stocks?type=volume&date=2025-09-06&concept=Banks
func (h *RankingHandler) GetStocks(w http.ResponseWriter, r *http.Request) {
	t, date, err := typeAndDate(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := h.derived.Rankings(r.Context(), t, date, r.URL.Query().Get("concept"))
	if err != nil {
		h.logger.WithError(err).Error("Failed to get rankings")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve rankings")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"rankings": rows,
		"count":    len(rows),
	})
}
