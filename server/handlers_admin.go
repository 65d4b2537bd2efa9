package server

import (
	"net/http"
)

// HandleAdminFlush forces a synchronous state flush.
func (h *Handlers) HandleAdminFlush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.Flusher == nil {
		http.Error(w, "persistence disabled", http.StatusServiceUnavailable)
		return
	}
	if err := h.deps.Flusher.Flush(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "flushed"})
}

// HandleAdminAudit lists recent giveaway transitions, newest first.
func (h *Handlers) HandleAdminAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.Audit == nil {
		http.Error(w, "audit disabled", http.StatusServiceUnavailable)
		return
	}
	entries, err := h.deps.Audit.Recent(r.Context(), parseIntQuery(r, "limit", 100))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
