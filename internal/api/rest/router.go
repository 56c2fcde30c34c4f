package rest

import (
	"log/slog"
	"net/http"

	"github.com/regradar/regradar-backend/internal/metrics"
)

// NewRouter builds the full HTTP surface: the versioned API, health, and
// the Prometheus scrape endpoint.
func NewRouter(h *Handler, m *metrics.Registry, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/brief", h.getBrief)
	mux.HandleFunc("GET /api/v1/events", h.listEvents)
	mux.HandleFunc("GET /api/v1/events/{id}", h.getEvent)
	mux.HandleFunc("POST /api/v1/events/{id}/feedback", h.addFeedback)
	mux.HandleFunc("GET /api/v1/laws", h.listLaws)
	mux.HandleFunc("GET /api/v1/laws/{key}", h.getLaw)
	mux.HandleFunc("POST /api/v1/laws/rebuild", h.rebuildLaws)
	mux.HandleFunc("POST /api/v1/crawl", h.triggerCrawl)
	mux.HandleFunc("GET /api/v1/crawl/status", h.crawlStatus)
	mux.HandleFunc("GET /api/v1/notifications", h.listNotifications)
	mux.HandleFunc("POST /api/v1/notifications/{id}/read", h.markNotificationRead)

	mux.HandleFunc("GET /healthz", h.healthz)
	mux.Handle("GET /metrics", m.Handler())

	return chain(mux,
		recoveryMiddleware(logger),
		requestIDMiddleware,
		rateLimitMiddleware(newIPRateLimiter(rateLimitPerSecond, rateLimitBurst)),
		loggingMiddleware(logger),
		metricsMiddleware(m),
		corsMiddleware,
	)
}
