package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wonny/heatrank/backend/internal/concepts"
	"github.com/wonny/heatrank/backend/pkg/logger"
)

// ConceptHandler exposes concept membership maintenance
type ConceptHandler struct {
	service *concepts.Service
	logger  *logger.Logger
}

// NewConceptHandler creates a new concept handler
func NewConceptHandler(service *concepts.Service, log *logger.Logger) *ConceptHandler {
	return &ConceptHandler{service: service, logger: log}
}

// List returns every concept with at least one member
// GET /api/concepts
func (h *ConceptHandler) List(w http.ResponseWriter, r *http.Request) {
	names, err := h.service.ConceptNames(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list concepts")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve concepts")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"concepts": names,
		"count":    len(names),
	})
}

// Refresh reloads feed memberships from the configured URL
// POST /api/concepts/refresh
func (h *ConceptHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.Refresh(r.Context())
	if err != nil {
		h.logger.WithError(err).Warn("Concept refresh failed")
		status := statusFor(err)
		switch {
		case errors.Is(err, concepts.ErrFeedNotConfigured):
			status = http.StatusServiceUnavailable
		case status == http.StatusInternalServerError:
			status = http.StatusBadGateway
		}
		respondError(w, status, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]int{"memberships": n})
}

// AliasRequest maps an alternative concept spelling onto its canonical name
type AliasRequest struct {
	Alias     string `json:"alias"`
	Canonical string `json:"canonical"`
}

// SaveAlias stores one alias
// POST /api/concepts/aliases
func (h *ConceptHandler) SaveAlias(w http.ResponseWriter, r *http.Request) {
	var req AliasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.SaveAlias(r.Context(), req.Alias, req.Canonical); err != nil {
		if errors.Is(err, concepts.ErrInvalidAlias) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.WithError(err).Error("Failed to save alias")
		respondError(w, http.StatusInternalServerError, "Failed to save alias")
		return
	}

	respondJSON(w, http.StatusCreated, req)
}
