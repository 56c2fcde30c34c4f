package rest

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/regradar/regradar-backend/internal/domain/crawl"
	"github.com/regradar/regradar-backend/internal/errors"
	"github.com/regradar/regradar-backend/internal/infrastructure/cache"
	"github.com/regradar/regradar-backend/internal/infrastructure/repository"
	"github.com/regradar/regradar-backend/internal/service/backfill"
)

// Coordinator is what the crawl endpoints need from the pipeline owner.
type Coordinator interface {
	Trigger(ctx context.Context) (*crawl.Run, error)
	Status(ctx context.Context) (*crawl.Run, error)
}

// Backfiller triggers an on-demand laws rebuild.
type Backfiller interface {
	Rebuild(ctx context.Context) (backfill.Stats, error)
}

// Handler carries the read and trigger surface of the API.
type Handler struct {
	events        *repository.EventRepository
	laws          *repository.LawRepository
	sources       *repository.SourceRepository
	notifications *repository.NotificationRepository
	coordinator   Coordinator
	backfiller    Backfiller
	cache         *cache.BriefCache
	logger        *slog.Logger
}

func NewHandler(events *repository.EventRepository, laws *repository.LawRepository,
	sources *repository.SourceRepository, notifications *repository.NotificationRepository,
	coordinator Coordinator, backfiller Backfiller, briefCache *cache.BriefCache,
	logger *slog.Logger) *Handler {
	return &Handler{
		events:        events,
		laws:          laws,
		sources:       sources,
		notifications: notifications,
		coordinator:   coordinator,
		backfiller:    backfiller,
		cache:         briefCache,
		logger:        logger,
	}
}

// --- brief ---

type briefItem struct {
	LawKey              string  `json:"law_key,omitempty"`
	LawName             string  `json:"law_name"`
	JurisdictionCountry string  `json:"jurisdiction_country"`
	JurisdictionState   *string `json:"jurisdiction_state,omitempty"`
	Flag                string  `json:"flag"`
	Stage               string  `json:"stage"`
	StageColor          string  `json:"stage_color"`
	AgeBracket          string  `json:"age_bracket"`
	RiskMax             float64 `json:"aggregate_risk_max"`
	RiskRecentWeighted  float64 `json:"aggregate_risk_recent_weighted"`
	RiskOverall         float64 `json:"aggregate_risk_overall"`
	SourceConfidence    float64 `json:"source_confidence"`
	UpdateCount         int     `json:"update_count"`
	LatestSummary       string  `json:"latest_summary"`
}

type briefResponse struct {
	GeneratedAt   time.Time   `json:"generated_at"`
	LastCrawledAt *time.Time  `json:"last_crawled_at,omitempty"`
	Items         []briefItem `json:"items"`
}

func (h *Handler) getBrief(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := intQuery(r, "limit", 10)
	if limit < 1 {
		limit = 10
	}
	if limit > 20 {
		limit = 20
	}

	cacheKey := cache.BriefKeyFor(limit)
	if payload, ok := h.cache.Get(ctx, cacheKey); ok {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Cache", "hit")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
		return
	}

	lastCrawled, err := h.sources.LastCrawledAt(ctx)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	laws, err := h.laws.Brief(ctx, limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	resp := briefResponse{
		GeneratedAt:   time.Now().UTC(),
		LastCrawledAt: lastCrawled,
		Items:         []briefItem{},
	}

	if len(laws) > 0 {
		for _, l := range laws {
			resp.Items = append(resp.Items, briefItem{
				LawKey:              l.LawKey,
				LawName:             l.LawName,
				JurisdictionCountry: l.JurisdictionCountry,
				JurisdictionState:   l.JurisdictionState,
				Flag:                flagEmoji(l.JurisdictionCountry),
				Stage:               l.Stage,
				StageColor:          stageColor(l.Stage),
				AgeBracket:          l.AgeBracket,
				RiskMax:             l.AggregateRiskMax,
				RiskRecentWeighted:  l.AggregateRiskRecentWeighted,
				RiskOverall:         l.AggregateRiskOverall,
				SourceConfidence:    l.SourceConfidence,
				UpdateCount:         l.UpdateCount,
				LatestSummary:       l.LatestSummary,
			})
		}
	} else {
		// Before the first backfill there are no laws yet; fall back to
		// the highest-risk events so the brief is never empty on a
		// fresh deployment.
		events, _, err := h.events.List(ctx, repository.EventFilter{
			SortBy: "chili_score", SortOrder: "desc", Limit: limit,
		})
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		for _, e := range events {
			resp.Items = append(resp.Items, briefItem{
				LawName:             e.Title,
				JurisdictionCountry: e.JurisdictionCountry,
				JurisdictionState:   e.JurisdictionState,
				Flag:                flagEmoji(e.JurisdictionCountry),
				Stage:               string(e.Stage),
				StageColor:          stageColor(string(e.Stage)),
				AgeBracket:          string(e.AgeBracket),
				RiskMax:             float64(e.ChiliScore),
				UpdateCount:         1,
				LatestSummary:       e.Summary,
			})
		}
	}

	encoded, err := json.Marshal(resp)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.cache.Set(ctx, cacheKey, encoded)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(encoded)
}

// --- notifications ---

func (h *Handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	notifications, err := h.notifications.Unread(r.Context(), intQuery(r, "limit", 50))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if notifications == nil {
		notifications = []repository.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": notifications})
}

func (h *Handler) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, r, h.logger,
			errors.NewValidationError("INVALID_ID", "notification id must be an integer"))
		return
	}
	if err := h.notifications.MarkRead(r.Context(), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- helpers ---

func intQuery(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

var countryFlags = map[string]string{
	"United States":  "\U0001F1FA\U0001F1F8",
	"United Kingdom": "\U0001F1EC\U0001F1E7",
	"European Union": "\U0001F1EA\U0001F1FA",
	"Australia":      "\U0001F1E6\U0001F1FA",
	"India":          "\U0001F1EE\U0001F1F3",
	"Canada":         "\U0001F1E8\U0001F1E6",
	"France":         "\U0001F1EB\U0001F1F7",
	"Germany":        "\U0001F1E9\U0001F1EA",
}

func flagEmoji(country string) string {
	if flag, ok := countryFlags[country]; ok {
		return flag
	}
	return "\U0001F310"
}

var stageColors = map[string]string{
	"proposed":         "gray",
	"introduced":       "blue",
	"committee_review": "blue",
	"passed":           "orange",
	"enacted":          "red",
	"effective":        "red",
	"amended":          "orange",
	"withdrawn":        "green",
	"rejected":         "green",
}

func stageColor(stage string) string {
	if c, ok := stageColors[stage]; ok {
		return c
	}
	return "gray"
}
