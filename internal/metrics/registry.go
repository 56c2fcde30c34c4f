// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every collector the pipeline and API emit.
type Registry struct {
	reg *prometheus.Registry

	CrawlRuns        *prometheus.CounterVec
	PipelineDuration prometheus.Histogram
	ItemsFetched     *prometheus.CounterVec
	FetchErrors      *prometheus.CounterVec
	ItemsAnalyzed    *prometheus.CounterVec
	EventsUpserted   *prometheus.CounterVec
	LawsTracked      prometheus.Gauge
	BackfillDuration prometheus.Histogram

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	factory := promauto.With(reg)
	return &Registry{
		reg: reg,
		CrawlRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "regradar_crawl_runs_total",
			Help: "Crawl runs by terminal status.",
		}, []string{"status"}),
		PipelineDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "regradar_pipeline_duration_seconds",
			Help:    "Wall time of a full crawl pipeline run.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		ItemsFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "regradar_items_fetched_total",
			Help: "Crawled items by source type.",
		}, []string{"source_type"}),
		FetchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "regradar_fetch_errors_total",
			Help: "Absorbed per-source fetch failures by source type.",
		}, []string{"source_type"}),
		ItemsAnalyzed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "regradar_items_analyzed_total",
			Help: "Analyzer outcomes: relevant, irrelevant or failed.",
		}, []string{"outcome"}),
		EventsUpserted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "regradar_events_upserted_total",
			Help: "Upsert outcomes: new, updated or duplicate.",
		}, []string{"outcome"}),
		LawsTracked: factory.NewGauge(prometheus.GaugeOpts{
			Name: "regradar_laws_tracked",
			Help: "Number of canonical laws after the last backfill.",
		}),
		BackfillDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "regradar_backfill_duration_seconds",
			Help:    "Wall time of a law backfill.",
			Buckets: prometheus.DefBuckets,
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "regradar_http_requests_total",
			Help: "HTTP requests by method, route and status class.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "regradar_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Handler serves the /metrics endpoint for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
