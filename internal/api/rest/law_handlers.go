package rest

import (
	"net/http"

	"github.com/regradar/regradar-backend/internal/domain/law"
	"github.com/regradar/regradar-backend/internal/infrastructure/cache"
)

func (h *Handler) listLaws(w http.ResponseWriter, r *http.Request) {
	laws, err := h.laws.List(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if laws == nil {
		laws = []law.Law{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": laws,
		"total": len(laws),
	})
}

type lawDetailResponse struct {
	Law      *law.Law     `json:"law"`
	Updates  []law.Update `json:"updates"`
	Timeline []law.Update `json:"timeline"`
}

func (h *Handler) getLaw(w http.ResponseWriter, r *http.Request) {
	l, updates, err := h.laws.GetByKey(r.Context(), r.PathValue("key"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if updates == nil {
		updates = []law.Update{}
	}
	writeJSON(w, http.StatusOK, lawDetailResponse{
		Law:      l,
		Updates:  updates,
		Timeline: updates,
	})
}

func (h *Handler) rebuildLaws(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats, err := h.backfiller.Rebuild(ctx)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.cache.Invalidate(ctx, cache.BriefKeys()...)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"laws":              stats.Laws,
		"law_updates":       stats.LawUpdates,
		"merged_duplicates": stats.MergedDuplicates,
	})
}
