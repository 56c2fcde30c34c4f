package rest

import (
	"net/http"

	"github.com/regradar/regradar-backend/internal/errors"
)

func (h *Handler) triggerCrawl(w http.ResponseWriter, r *http.Request) {
	run, err := h.coordinator.Trigger(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "started",
		"run_id": run.ID,
	})
}

func (h *Handler) crawlStatus(w http.ResponseWriter, r *http.Request) {
	run, err := h.coordinator.Status(r.Context())
	if err != nil {
		if errors.IsNotFound(err) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "never_run"})
			return
		}
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
