// Package ingestion fetches raw items from the source registry. All
// fetchers share best-effort semantics: a failing source contributes
// zero items and never aborts a crawl run.
package ingestion

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/regradar/regradar-backend/internal/domain/crawl"
	"github.com/regradar/regradar-backend/internal/domain/event"
	"github.com/regradar/regradar-backend/internal/domain/source"
	"github.com/regradar/regradar-backend/internal/infrastructure/config"
	"github.com/regradar/regradar-backend/internal/metrics"
)

// Service fans out over the registry: pages and feeds in bounded
// parallel, microblog queries sequentially.
type Service struct {
	pages     *PageFetcher
	rss       *RSSFetcher
	microblog *MicroblogFetcher

	fetchConcurrency int
	logger           *slog.Logger
	metrics          *metrics.Registry
}

func NewService(cfg *config.Config, logger *slog.Logger, m *metrics.Registry) *Service {
	concurrency := cfg.Pipeline.FetchConcurrency
	if concurrency < 1 {
		concurrency = 5
	}
	return &Service{
		pages:            NewPageFetcher(cfg.Pipeline.FetchTimeout, logger),
		rss:              NewRSSFetcher(cfg.Pipeline.FetchTimeout, logger),
		microblog:        NewMicroblogFetcher(cfg.Microblog, logger),
		fetchConcurrency: concurrency,
		logger:           logger,
		metrics:          m,
	}
}

// CrawlAll fetches every source and returns the deduplicated items.
// Per-source failures are logged and absorbed.
func (s *Service) CrawlAll(ctx context.Context, sources []source.Source) []crawl.Item {
	var parallel, sequential []source.Source
	for _, src := range sources {
		if src.IsMicroblog() {
			sequential = append(sequential, src)
		} else {
			parallel = append(parallel, src)
		}
	}

	var (
		mu    sync.Mutex
		items []crawl.Item
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fetchConcurrency)
	for _, src := range parallel {
		g.Go(func() error {
			fetched, err := s.fetchOne(gctx, src)
			if err != nil {
				s.logger.WarnContext(gctx, "source fetch failed",
					"source", src.Name, "error", err)
				s.metrics.FetchErrors.WithLabelValues(string(src.Type)).Inc()
				return nil
			}
			mu.Lock()
			items = append(items, fetched...)
			mu.Unlock()
			s.metrics.ItemsFetched.WithLabelValues(string(src.Type)).Add(float64(len(fetched)))
			return nil
		})
	}
	// fetchOne never returns an error through the group.
	_ = g.Wait()

	if s.microblog.Enabled() {
		seen := map[string]bool{}
		for _, src := range sequential {
			fetched, err := s.microblog.Fetch(ctx, src, seen)
			if err != nil {
				s.logger.WarnContext(ctx, "microblog fetch failed",
					"source", src.Name, "error", err)
				s.metrics.FetchErrors.WithLabelValues(string(src.Type)).Inc()
				continue
			}
			items = append(items, fetched...)
			s.metrics.ItemsFetched.WithLabelValues(string(src.Type)).Add(float64(len(fetched)))
		}
	} else if len(sequential) > 0 {
		s.logger.InfoContext(ctx, "microblog sources skipped: no bearer token",
			"count", len(sequential))
	}

	return dedupeItems(items)
}

func (s *Service) fetchOne(ctx context.Context, src source.Source) ([]crawl.Item, error) {
	switch src.Type {
	case source.TypeRSSFeed:
		return s.rss.Fetch(ctx, src)
	default:
		return s.pages.Fetch(ctx, src)
	}
}

// dedupeItems collapses items sharing (source name, URL), or when the
// URL is empty, (source name, content hash).
func dedupeItems(items []crawl.Item) []crawl.Item {
	seen := map[string]bool{}
	out := items[:0]
	for _, item := range items {
		key := item.Source.Name + "|"
		if item.URL != "" {
			key += item.URL
		} else {
			key += "text:" + event.ContentHash(item.Text)
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	return out
}
