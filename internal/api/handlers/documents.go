package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/eargollo/dochub/internal/classify"
	"github.com/eargollo/dochub/internal/intake"
	"github.com/eargollo/dochub/internal/resolve"
)

// DocumentsHandler handles uploads into a batch/category slot.
type DocumentsHandler struct {
	Intake   *intake.Service
	MaxBytes int64
}

var validate = validator.New()

// decisionRequest is the "decisions" form field of an upload.
type decisionRequest struct {
	Bulk    classify.Action            `json:"bulk"    validate:"omitempty,oneof=skip replace version"`
	PerFile map[string]classify.Action `json:"perFile" validate:"omitempty,dive,keys,required,endkeys,oneof=skip replace version"`
}

// Check handles POST /api/batches/{batch}/{category}/check.
func (h *DocumentsHandler) Check(w http.ResponseWriter, r *http.Request) {
	uploads, ok := h.readUploads(w, r)
	if !ok {
		return
	}
	checks, err := h.Intake.Check(r.Context(), chi.URLParam(r, "batch"), chi.URLParam(r, "category"), uploads)
	if err != nil {
		writeIntakeError(w, err)
		return
	}
	duplicates := 0
	for _, c := range checks {
		if c.Duplicate() {
			duplicates++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"files":      checks,
		"duplicates": duplicates,
	})
}

// Submit handles POST /api/batches/{batch}/{category}/documents.
func (h *DocumentsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	uploads, ok := h.readUploads(w, r)
	if !ok {
		return
	}

	var req decisionRequest
	if raw := r.FormValue("decisions"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_DECISIONS", "decisions must be a JSON object: "+err.Error())
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_DECISIONS", "actions must be one of skip, replace, version")
			return
		}
	}

	results, err := h.Intake.Submit(r.Context(), chi.URLParam(r, "batch"), chi.URLParam(r, "category"), uploads,
		resolve.Decision{Bulk: req.Bulk, PerFile: req.PerFile})
	if err != nil {
		writeIntakeError(w, err)
		return
	}

	failures := 0
	for _, res := range results {
		if res.Error != "" {
			failures++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": results, "failures": failures})
}

func (h *DocumentsHandler) readUploads(w http.ResponseWriter, r *http.Request) ([]intake.Upload, bool) {
	if h.MaxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "TOO_LARGE", "Upload exceeds the size limit")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "INVALID_FORM", "expected multipart/form-data: "+err.Error())
		return nil, false
	}
	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "NO_FILES", "no files in the \"files\" field")
		return nil, false
	}
	uploads := make([]intake.Upload, len(headers))
	for i, fh := range headers {
		uploads[i] = intake.Upload{Name: fh.Filename}
		uploads[i].Data, uploads[i].ReadErr = readPart(fh)
		if uploads[i].ReadErr != nil {
			slog.Warn("upload: read part", "file", fh.Filename, "error", uploads[i].ReadErr)
		}
	}
	return uploads, true
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func writeIntakeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, intake.ErrEmptyBatchID):
		writeError(w, http.StatusBadRequest, "INVALID_BATCH", err.Error())
	case errors.Is(err, intake.ErrUnknownCategory):
		writeError(w, http.StatusBadRequest, "UNKNOWN_CATEGORY", err.Error())
	case errors.Is(err, intake.ErrNoFiles):
		writeError(w, http.StatusBadRequest, "NO_FILES", err.Error())
	case errors.Is(err, intake.ErrUnknownBatch):
		writeError(w, http.StatusNotFound, "UNKNOWN_BATCH", err.Error())
	default:
		slog.Error("intake", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}
