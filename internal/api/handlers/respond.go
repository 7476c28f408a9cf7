package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/wonny/heatrank/backend/internal/contracts"
	"github.com/wonny/heatrank/backend/internal/s1_import"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	var conflict *contracts.WriteConflictError
	switch {
	case errors.Is(err, s1_import.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, contracts.ErrEmptyInput):
		return http.StatusUnprocessableEntity
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.Is(err, contracts.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// typeAndDate reads the import_type and date query parameters
func typeAndDate(r *http.Request) (contracts.ImportType, time.Time, error) {
	q := r.URL.Query()

	spec, err := contracts.LookupImportType(q.Get("type"))
	if err != nil {
		return "", time.Time{}, err
	}
	date, err := contracts.ParseDate(q.Get("date"))
	if err != nil {
		return "", time.Time{}, err
	}
	return spec.Type, date, nil
}
