package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/wonny/heatrank/backend/internal/s1_import"
	"github.com/wonny/heatrank/backend/pkg/logger"
)

// multipart parts above this size are buffered on disk by net/http
const multipartMemory = 32 << 20

// ImportHandler handles file submissions and task status
// ⭐ SSOT: import API handlers live in this struct only
type ImportHandler struct {
	coord     *s1_import.Coordinator
	maxUpload int64
	logger    *logger.Logger
}

// NewImportHandler creates a new import handler
func NewImportHandler(coord *s1_import.Coordinator, maxUpload int64, log *logger.Logger) *ImportHandler {
	return &ImportHandler{
		coord:     coord,
		maxUpload: maxUpload,
		logger:    log,
	}
}

// Submit imports one uploaded file and returns its summary
// POST /api/imports (multipart: file, import_type, mode, format, trading_date, uploaded_by)
func (h *ImportHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "Upload exceeds size limit")
			return
		}
		respondError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Missing 'file' part")
		return
	}
	defer file.Close()

	req := s1_import.ImportRequest{
		FileName:    header.Filename,
		UploadedBy:  r.FormValue("uploaded_by"),
		ImportType:  r.FormValue("import_type"),
		Mode:        r.FormValue("mode"),
		Format:      r.FormValue("format"),
		TradingDate: r.FormValue("trading_date"),
	}

	summary, err := h.coord.Submit(r.Context(), req, file)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.WithError(err).Error("Import failed")
		}
		respondError(w, status, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, summary)
}

// GetTask returns one date-group task
// GET /api/imports/tasks/{id}
func (h *ImportHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "Invalid task id")
		return
	}

	task, err := h.coord.TaskStatus(r.Context(), id)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}

	respondJSON(w, http.StatusOK, task)
}

// GetBatch returns every task of one submission
// GET /api/imports/batches/{batch}
func (h *ImportHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	list, err := h.coord.BatchTasks(r.Context(), mux.Vars(r)["batch"])
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": list,
		"count": len(list),
	})
}
