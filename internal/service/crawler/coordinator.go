// Package crawler owns the crawl-run lifecycle: single-flight trigger,
// fetch/analyze/persist orchestration, and post-run side effects.
package crawler

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/regradar/regradar-backend/internal/domain/crawl"
	"github.com/regradar/regradar-backend/internal/domain/event"
	"github.com/regradar/regradar-backend/internal/domain/source"
	"github.com/regradar/regradar-backend/internal/errors"
	"github.com/regradar/regradar-backend/internal/infrastructure/config"
	"github.com/regradar/regradar-backend/internal/infrastructure/repository"
	"github.com/regradar/regradar-backend/internal/infrastructure/telemetry"
	"github.com/regradar/regradar-backend/internal/metrics"
	"github.com/regradar/regradar-backend/internal/service/analysis"
	"github.com/regradar/regradar-backend/internal/service/backfill"
)

var tracer = telemetry.Tracer("regradar.crawler")

// Fetcher produces crawled items for the registry; failures are
// absorbed inside.
type Fetcher interface {
	CrawlAll(ctx context.Context, sources []source.Source) []crawl.Item
}

// Analyzer extracts a structured result from one item.
type Analyzer interface {
	Analyze(ctx context.Context, item crawl.Item) (*analysis.Result, error)
}

// Backfiller rebuilds the derived laws tables.
type Backfiller interface {
	Rebuild(ctx context.Context) (backfill.Stats, error)
}

type Coordinator struct {
	db            *sql.DB
	fetcher       Fetcher
	analyzer      Analyzer
	backfiller    Backfiller
	runs          *repository.CrawlRunRepository
	events        *repository.EventRepository
	sources       *repository.SourceRepository
	notifications *repository.NotificationRepository

	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Registry
}

func NewCoordinator(db *sql.DB, fetcher Fetcher, analyzer Analyzer, backfiller Backfiller,
	cfg *config.Config, logger *slog.Logger, m *metrics.Registry) *Coordinator {
	return &Coordinator{
		db:            db,
		fetcher:       fetcher,
		analyzer:      analyzer,
		backfiller:    backfiller,
		runs:          repository.NewCrawlRunRepository(db),
		events:        repository.NewEventRepository(db),
		sources:       repository.NewSourceRepository(db),
		notifications: repository.NewNotificationRepository(db),
		cfg:           cfg,
		logger:        logger,
		metrics:       m,
	}
}

// Trigger starts a pipeline run in the background. It returns
// immediately with the created run, a conflict error when one is
// already in flight, or a validation error when no analyzer key is
// configured. Observers poll Status.
func (c *Coordinator) Trigger(ctx context.Context) (*crawl.Run, error) {
	if c.cfg.Anthropic.APIKey == "" {
		return nil, errors.NewValidationError("MISSING_API_KEY",
			"analyzer API key is not configured; refusing to start a crawl")
	}

	run, err := c.runs.Start(ctx)
	if err != nil {
		return nil, err
	}

	// The pipeline outlives the triggering request.
	go func() {
		bg := context.Background()
		if _, err := c.RunPipeline(bg, run); err != nil {
			c.logger.ErrorContext(bg, "crawl pipeline failed",
				"run_id", run.ID, "error", err)
		}
	}()
	return run, nil
}

// Status returns the latest run row; a not-found error means no crawl
// has ever run.
func (c *Coordinator) Status(ctx context.Context) (*crawl.Run, error) {
	return c.runs.Latest(ctx)
}

// ReconcileInterrupted marks stale running rows from a previous process
// as failed. Called once at startup.
func (c *Coordinator) ReconcileInterrupted(ctx context.Context) error {
	n, err := c.runs.ReconcileInterrupted(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		c.logger.WarnContext(ctx, "reconciled interrupted crawl runs", "count", n)
	}
	return nil
}

type analyzedItem struct {
	item   crawl.Item
	result *analysis.Result
}

// RunPipeline executes the crawl synchronously against an existing run
// row. Per-source and per-item failures are absorbed and counted; only
// an orchestrator-level failure marks the run failed.
func (c *Coordinator) RunPipeline(ctx context.Context, run *crawl.Run) (result crawl.Result, err error) {
	start := time.Now()
	result.RunID = run.ID

	ctx, span := tracer.Start(ctx, "pipeline.run")
	span.SetAttributes(attribute.Int64("run.id", run.ID))

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panic: %v", r)
		}
		if err != nil {
			if failErr := c.runs.Fail(ctx, run.ID, err.Error()); failErr != nil {
				c.logger.ErrorContext(ctx, "failed to mark run failed",
					"run_id", run.ID, "error", failErr)
			}
			c.metrics.CrawlRuns.WithLabelValues(string(crawl.StatusFailed)).Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, "pipeline failed")
		}
		c.metrics.PipelineDuration.Observe(time.Since(start).Seconds())
		span.End()
	}()

	c.logger.InfoContext(ctx, "crawl run started", "run_id", run.ID)

	fetchCtx, fetchSpan := tracer.Start(ctx, "pipeline.fetch")
	items := c.fetcher.CrawlAll(fetchCtx, source.All())
	fetchSpan.SetAttributes(attribute.Int("items.found", len(items)))
	fetchSpan.End()
	result.ItemsFound = len(items)
	if len(items) == 0 {
		if err := c.runs.Complete(ctx, run.ID, 0, 0, 0); err != nil {
			return result, err
		}
		c.metrics.CrawlRuns.WithLabelValues(string(crawl.StatusCompleted)).Inc()
		c.logger.InfoContext(ctx, "crawl run complete: no items", "run_id", run.ID)
		return result, nil
	}

	analyzed := c.analyzeAll(ctx, items, &result)

	if err := c.persist(ctx, analyzed, &result); err != nil {
		return result, err
	}

	if err := c.runs.Complete(ctx, run.ID, result.ItemsFound, result.ItemsNew, result.ItemsUpdated); err != nil {
		return result, err
	}
	c.metrics.CrawlRuns.WithLabelValues(string(crawl.StatusCompleted)).Inc()

	// Side effects run after the run commits; their failures are logged
	// but do not retroactively fail the run.
	if n, err := c.notifications.SeedHighRisk(ctx, run.StartedAt); err != nil {
		c.logger.ErrorContext(ctx, "notification seeding failed", "run_id", run.ID, "error", err)
	} else if n > 0 {
		c.logger.InfoContext(ctx, "seeded notifications", "run_id", run.ID, "count", n)
	}
	if _, err := c.backfiller.Rebuild(ctx); err != nil {
		c.logger.ErrorContext(ctx, "post-run backfill failed", "run_id", run.ID, "error", err)
	}

	c.logger.InfoContext(ctx, "crawl run complete",
		"run_id", run.ID, "found", result.ItemsFound,
		"new", result.ItemsNew, "updated", result.ItemsUpdated,
		"duplicate", result.ItemsDuplicate, "skipped", result.ItemsSkipped,
		"duration", time.Since(start))
	return result, nil
}

// analyzeAll fans items out to the analyzer with bounded concurrency
// and wait-all semantics. Irrelevant and failed items are dropped.
func (c *Coordinator) analyzeAll(ctx context.Context, items []crawl.Item, result *crawl.Result) []analyzedItem {
	ctx, span := tracer.Start(ctx, "pipeline.analyze")
	span.SetAttributes(attribute.Int("items.total", len(items)))
	defer span.End()

	concurrency := c.cfg.Pipeline.AnalysisConcurrency
	if concurrency < 1 {
		concurrency = 10
	}

	var (
		mu       sync.Mutex
		analyzed []analyzedItem
		done     int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, item := range items {
		g.Go(func() error {
			res, err := c.analyzer.Analyze(gctx, item)

			mu.Lock()
			defer mu.Unlock()
			done++
			switch {
			case err != nil:
				c.metrics.ItemsAnalyzed.WithLabelValues("failed").Inc()
				c.logger.WarnContext(gctx, "analysis failed",
					"source", item.Source.Name, "url", item.URL, "error", err)
			case !res.Relevant:
				c.metrics.ItemsAnalyzed.WithLabelValues("irrelevant").Inc()
			default:
				c.metrics.ItemsAnalyzed.WithLabelValues("relevant").Inc()
				analyzed = append(analyzed, analyzedItem{item: item, result: res})
			}
			c.logger.DebugContext(gctx, "analysis progress", "done", done, "total", len(items))
			return nil
		})
	}
	_ = g.Wait()
	return analyzed
}

// persist writes all analyzed items in one transaction so readers see
// either the full run's effects or none of them.
func (c *Coordinator) persist(ctx context.Context, analyzed []analyzedItem, result *crawl.Result) error {
	ctx, span := tracer.Start(ctx, "pipeline.persist")
	span.SetAttributes(attribute.Int("items.analyzed", len(analyzed)))
	defer span.End()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning persist transaction: %w", err)
	}
	defer tx.Rollback()

	eventsTx := c.events.WithTx(tx)
	sourcesTx := c.sources.WithTx(tx)

	sourceIDs := map[string]int64{}
	seen := map[string]bool{}

	for _, a := range analyzed {
		sourceID, ok := sourceIDs[a.item.Source.Name]
		if !ok {
			sourceID, err = sourcesTx.Ensure(ctx, a.item.Source)
			if err != nil {
				return err
			}
			sourceIDs[a.item.Source.Name] = sourceID
		}

		e := buildEvent(a, sourceID)

		key := e.Key() + "::"
		if u := event.NormalizeURL(e.SourceURLLink); u != "" {
			key += u
		} else {
			key += "text:" + event.ContentHash(e.RawText)
		}
		if seen[key] {
			result.ItemsSkipped++
			continue
		}
		seen[key] = true

		outcome, err := eventsTx.UpsertEvent(ctx, e)
		if err != nil {
			// Store validation failures skip the event, not the run.
			result.ItemsSkipped++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", e.Title, err))
			c.logger.WarnContext(ctx, "event skipped", "title", e.Title, "error", err)
			continue
		}
		c.metrics.EventsUpserted.WithLabelValues(string(outcome)).Inc()
		switch outcome {
		case repository.OutcomeNew:
			result.ItemsNew++
		case repository.OutcomeUpdated:
			result.ItemsUpdated++
		default:
			result.ItemsDuplicate++
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing persist transaction: %w", err)
	}
	return nil
}

// buildEvent merges the analyzer's extraction with the crawled item's
// provenance.
func buildEvent(a analyzedItem, sourceID int64) *event.Event {
	res, item := a.result, a.item

	title := res.Title
	if title == "" {
		title = item.Title
	}
	country := res.JurisdictionCountry
	if country == "" {
		country = item.Source.JurisdictionCountry
	}
	state := res.JurisdictionState
	if state == nil {
		state = item.Source.JurisdictionState
	}

	now := time.Now().UTC()
	return &event.Event{
		Title:               title,
		JurisdictionCountry: country,
		JurisdictionState:   state,
		Stage:               res.Stage,
		IsUnder16Applicable: res.IsUnder16Applicable,
		AgeBracket:          res.AgeBracket,
		ImpactScore:         res.ImpactScore,
		LikelihoodScore:     res.LikelihoodScore,
		ConfidenceScore:     res.ConfidenceScore,
		ChiliScore:          res.ChiliScore,
		Summary:             res.Summary,
		BusinessImpact:      res.BusinessImpact,
		RequiredSolutions:   res.RequiredSolutions,
		AffectedProducts:    res.AffectedProducts,
		CompetitorResponses: res.CompetitorResponses,
		RawText:             event.TruncateRawText(item.Text),
		SourceURLLink:       item.URL,
		EffectiveDate:       res.EffectiveDate,
		PublishedDate:       res.PublishedDate,
		SourceID:            sourceID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}
