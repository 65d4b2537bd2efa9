package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// HandleHealthz responds to liveness probes by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.deps.DB != nil {
		if err := h.deps.DB.PingContext(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports ready once the database answers, chat is connected and
// the last state flush succeeded.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error {
			if h.deps.DB == nil {
				return errors.New("no database")
			}
			return h.deps.DB.PingContext(r.Context())
		}},
		{"chat", func() error {
			if h.deps.Status != nil && !h.deps.Status().ChatConnected {
				return errors.New("chat not connected")
			}
			return nil
		}},
		{"persistence", func() error {
			if h.deps.Flusher == nil {
				return nil
			}
			if _, err := h.deps.Flusher.Status(); err != nil {
				return fmt.Errorf("last flush failed: %w", err)
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HandleStatus reports chat connectivity, queue depth, giveaways and the
// persistence state.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := map[string]any{}
	if h.deps.Status != nil {
		resp["bot"] = h.deps.Status()
	}
	if h.deps.Flusher != nil {
		last, err := h.deps.Flusher.Status()
		p := map[string]any{}
		if !last.IsZero() {
			p["last_flush"] = last.UTC().Format(time.RFC3339)
		}
		if err != nil {
			p["last_error"] = err.Error()
		}
		resp["persistence"] = p
	}
	writeJSON(w, http.StatusOK, resp)
}
