package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eargollo/dochub/internal/journal"
)

// JournalHandler serves the upload journal.
type JournalHandler struct {
	Root *journal.Root
}

type batchJournal struct {
	BatchID  string          `json:"batchId"`
	Counts   map[string]int  `json:"counts"`
	Complete bool            `json:"complete"`
	Entries  []journal.Entry `json:"entries"`
}

// List handles GET /api/journal, optionally filtered by ?batch=.
func (h *JournalHandler) List(w http.ResponseWriter, r *http.Request) {
	j := h.Root.Journal()
	var entries []journal.Entry
	if b := r.URL.Query().Get("batch"); b != "" {
		entries = j.EntriesForBatch(b)
	} else {
		entries = j.Entries()
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, ListResponse[journal.Entry]{Items: entries, Total: len(entries), Limit: len(entries)})
}

// Batch handles GET /api/journal/{batch}: entries plus per-category counts.
func (h *JournalHandler) Batch(w http.ResponseWriter, r *http.Request) {
	id := journal.CanonicalBatchID(chi.URLParam(r, "batch"))
	j := h.Root.Journal()
	resp := batchJournal{BatchID: id, Counts: make(map[string]int, len(journal.Categories)), Complete: true}
	for _, c := range journal.Categories {
		n := j.CountForBatchAndCategory(id, c)
		resp.Counts[c.Label()] = n
		if n == 0 {
			resp.Complete = false
		}
	}
	resp.Entries = j.EntriesForBatch(id)
	if resp.Entries == nil {
		resp.Entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, resp)
}
