package rest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/regradar/regradar-backend/internal/domain/event"
	"github.com/regradar/regradar-backend/internal/errors"
	"github.com/regradar/regradar-backend/internal/infrastructure/cache"
	"github.com/regradar/regradar-backend/internal/infrastructure/repository"
)

type eventListResponse struct {
	Items      []*event.Event `json:"items"`
	Page       int            `json:"page"`
	TotalPages int            `json:"total_pages"`
	Total      int            `json:"total"`
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	filter := parseEventFilter(r)

	events, total, err := h.events.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if events == nil {
		events = []*event.Event{}
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	totalPages := (total + limit - 1) / limit

	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	w.Header().Set("X-Total-Pages", strconv.Itoa(totalPages))
	w.Header().Set("X-Current-Page", strconv.Itoa(page))
	writeJSON(w, http.StatusOK, eventListResponse{
		Items:      events,
		Page:       page,
		TotalPages: totalPages,
		Total:      total,
	})
}

func parseEventFilter(r *http.Request) repository.EventFilter {
	q := r.URL.Query()
	return repository.EventFilter{
		Jurisdictions: splitCSV(q.Get("jurisdiction")),
		Stages:        splitCSV(q.Get("stage")),
		AgeBracket:    q.Get("age_bracket"),
		MinRisk:       intQuery(r, "min_risk", 0),
		MaxRisk:       intQuery(r, "max_risk", 0),
		DateFrom:      q.Get("date_from"),
		DateTo:        q.Get("date_to"),
		Query:         q.Get("q"),
		SortBy:        q.Get("sort_by"),
		SortOrder:     q.Get("sort_order"),
		Page:          intQuery(r, "page", 1),
		Limit:         intQuery(r, "limit", 20),
	}
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

type eventDetailResponse struct {
	Event    *event.Event         `json:"event"`
	Feedback []event.Feedback     `json:"feedback"`
	Related  []*event.Event       `json:"related"`
	History  []event.HistoryEntry `json:"history"`
	Timeline []event.HistoryEntry `json:"timeline"`
}

func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger,
			errors.NewValidationError("INVALID_ID", "event id must be a UUID"))
		return
	}

	e, err := h.events.GetByID(ctx, id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	feedback, err := h.events.ListFeedback(ctx, id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if feedback == nil {
		feedback = []event.Feedback{}
	}

	related, err := h.events.Related(ctx, e, 5)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if related == nil {
		related = []*event.Event{}
	}

	history, err := h.events.GetHistory(ctx, id, 50)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if history == nil {
		history = []event.HistoryEntry{}
	}

	writeJSON(w, http.StatusOK, eventDetailResponse{
		Event:    e,
		Feedback: feedback,
		Related:  related,
		History:  history,
		Timeline: history,
	})
}

type feedbackRequest struct {
	Author  string `json:"author"`
	Comment string `json:"comment"`
	Rating  *int   `json:"rating,omitempty"`
}

func (h *Handler) addFeedback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger,
			errors.NewValidationError("INVALID_ID", "event id must be a UUID"))
		return
	}

	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, h.logger,
			errors.NewValidationError("INVALID_BODY", "request body must be JSON"))
		return
	}

	fb, err := h.events.AddFeedback(ctx, id, req.Author, req.Comment, req.Rating)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.cache.Invalidate(ctx, cache.BriefKeys()...)
	writeJSON(w, http.StatusCreated, fb)
}
