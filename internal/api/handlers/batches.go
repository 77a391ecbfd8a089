package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/eargollo/dochub/internal/records"
)

// BatchesHandler serves the record source.
type BatchesHandler struct {
	Records *records.Store
	// Defaults applies when the import request does not override them.
	Defaults records.ImportOptions
}

// List handles GET /api/batches.
func (h *BatchesHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	items, total, err := h.Records.List(r.Context(), limit, offset)
	if err != nil {
		slog.Error("batches list", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ListResponse[records.Batch]{Items: items, Total: total, Limit: limit, Offset: offset})
}

// Import handles POST /api/batches/import with an .xlsx in the "file" field.
// Optional form fields: sheet, column, header_rows.
func (h *BatchesHandler) Import(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_FORM", "expected multipart/form-data: "+err.Error())
		return
	}
	f, fh, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "NO_FILE", "no workbook in the \"file\" field")
		return
	}
	defer f.Close()

	opts := h.Defaults
	opts.Source = fh.Filename
	if v := r.FormValue("sheet"); v != "" {
		opts.Sheet = v
	}
	for field, dst := range map[string]*int{"column": &opts.Column, "header_rows": &opts.HeaderRows} {
		if v := r.FormValue(field); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "INVALID_FORM", field+" must be a non-negative integer")
				return
			}
			*dst = n
		}
	}

	n, err := h.Records.ImportXLSX(r.Context(), f, opts)
	if errors.Is(err, records.ErrNoRows) {
		writeError(w, http.StatusUnprocessableEntity, "NO_BATCHES", err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "IMPORT_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"imported": n, "source": fh.Filename})
}
