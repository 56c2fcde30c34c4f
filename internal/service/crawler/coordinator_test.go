package crawler_test

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/regradar/regradar-backend/internal/domain/crawl"
	"github.com/regradar/regradar-backend/internal/domain/event"
	"github.com/regradar/regradar-backend/internal/domain/source"
	"github.com/regradar/regradar-backend/internal/errors"
	"github.com/regradar/regradar-backend/internal/infrastructure/config"
	"github.com/regradar/regradar-backend/internal/infrastructure/database"
	"github.com/regradar/regradar-backend/internal/infrastructure/repository"
	"github.com/regradar/regradar-backend/internal/metrics"
	"github.com/regradar/regradar-backend/internal/service/analysis"
	"github.com/regradar/regradar-backend/internal/service/backfill"
	"github.com/regradar/regradar-backend/internal/service/crawler"
)

type fakeFetcher struct {
	items []crawl.Item
}

func (f *fakeFetcher) CrawlAll(_ context.Context, _ []source.Source) []crawl.Item {
	return f.items
}

type fakeAnalyzer struct {
	results map[string]*analysis.Result
	errs    map[string]error
}

func (a *fakeAnalyzer) Analyze(_ context.Context, item crawl.Item) (*analysis.Result, error) {
	if err, ok := a.errs[item.URL]; ok {
		return nil, err
	}
	if r, ok := a.results[item.URL]; ok {
		return r, nil
	}
	return &analysis.Result{Relevant: false}, nil
}

type countingBackfiller struct {
	calls int
}

func (b *countingBackfiller) Rebuild(context.Context) (backfill.Stats, error) {
	b.calls++
	return backfill.Stats{}, nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Anthropic.APIKey = "sk-test"
	cfg.Pipeline.AnalysisConcurrency = 4
	return cfg
}

func newCoordinator(t *testing.T, fetcher crawler.Fetcher, analyzer crawler.Analyzer) (*crawler.Coordinator, *sql.DB, *countingBackfiller) {
	t.Helper()
	db, err := database.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	bf := &countingBackfiller{}
	c := crawler.NewCoordinator(db, fetcher, analyzer, bf,
		testConfig(), slog.New(slog.DiscardHandler), metrics.NewRegistry())
	return c, db, bf
}

func ftcItem(url, text string) crawl.Item {
	return crawl.Item{
		Source: source.Source{
			Name:                "FTC Press Releases",
			URL:                 "https://www.ftc.gov",
			Type:                source.TypeGovernmentPage,
			AuthorityType:       source.AuthorityNational,
			Jurisdiction:        "United States",
			JurisdictionCountry: "United States",
			ReliabilityTier:     5,
		},
		URL:       url,
		Title:     "FTC News",
		Text:      text,
		FetchedAt: time.Now().UTC(),
	}
}

func relevantResult(title string, chili int) *analysis.Result {
	return &analysis.Result{
		Relevant:            true,
		Title:               title,
		JurisdictionCountry: "United States",
		Stage:               event.StageProposed,
		IsUnder16Applicable: true,
		AgeBracket:          event.BracketBoth,
		ImpactScore:         4,
		LikelihoodScore:     3,
		ConfidenceScore:     4,
		ChiliScore:          chili,
		Summary:             title,
		RequiredSolutions:   "[]",
		AffectedProducts:    "[]",
		CompetitorResponses: "[]",
	}
}

func TestRunPipelinePersistsAnalyzedItems(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{items: []crawl.Item{
		ftcItem("https://www.ftc.gov/a", "COPPA rulemaking text"),
		ftcItem("https://www.ftc.gov/b", "irrelevant blog post"),
	}}
	analyzer := &fakeAnalyzer{results: map[string]*analysis.Result{
		"https://www.ftc.gov/a": relevantResult("FTC publishes COPPA Rule amendments", 4),
	}}
	c, db, bf := newCoordinator(t, fetcher, analyzer)

	run, err := repository.NewCrawlRunRepository(db).Start(ctx)
	require.NoError(t, err)

	result, err := c.RunPipeline(ctx, run)
	require.NoError(t, err)
	assert.Equal(t, 2, result.ItemsFound)
	assert.Equal(t, 1, result.ItemsNew)
	assert.Zero(t, result.ItemsUpdated)

	latest, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, crawl.StatusCompleted, latest.Status)
	assert.Equal(t, 2, latest.ItemsFound)
	assert.Equal(t, 1, latest.ItemsNew)

	events, total, err := repository.NewEventRepository(db).List(ctx, repository.EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "FTC publishes COPPA Rule amendments", events[0].Title)
	assert.NotZero(t, events[0].SourceID, "source row is ensured during persist")

	assert.Equal(t, 1, bf.calls, "backfill runs after a successful crawl")

	var notifications int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM notifications`).Scan(&notifications))
	assert.Equal(t, 1, notifications, "chili 4 seeds a notification")
}

func TestRunPipelineCriticalSeverity(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{items: []crawl.Item{ftcItem("https://www.ftc.gov/a", "text")}}
	analyzer := &fakeAnalyzer{results: map[string]*analysis.Result{
		"https://www.ftc.gov/a": relevantResult("COPPA enforcement sweep", 5),
	}}
	c, db, _ := newCoordinator(t, fetcher, analyzer)

	run, err := repository.NewCrawlRunRepository(db).Start(ctx)
	require.NoError(t, err)
	_, err = c.RunPipeline(ctx, run)
	require.NoError(t, err)

	var severity string
	require.NoError(t, db.QueryRow(`SELECT severity FROM notifications`).Scan(&severity))
	assert.Equal(t, "critical", severity)
}

func TestRunPipelineZeroItemsCompletesEarly(t *testing.T) {
	ctx := context.Background()
	c, db, bf := newCoordinator(t, &fakeFetcher{}, &fakeAnalyzer{})

	run, err := repository.NewCrawlRunRepository(db).Start(ctx)
	require.NoError(t, err)

	result, err := c.RunPipeline(ctx, run)
	require.NoError(t, err)
	assert.Zero(t, result.ItemsFound)

	latest, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, crawl.StatusCompleted, latest.Status)
	assert.Zero(t, bf.calls, "no backfill when nothing was crawled")
}

func TestRunPipelineAbsorbsAnalyzerFailures(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{items: []crawl.Item{
		ftcItem("https://www.ftc.gov/a", "text a"),
		ftcItem("https://www.ftc.gov/b", "text b"),
	}}
	analyzer := &fakeAnalyzer{
		results: map[string]*analysis.Result{
			"https://www.ftc.gov/a": relevantResult("FTC publishes COPPA Rule amendments", 3),
		},
		errs: map[string]error{
			"https://www.ftc.gov/b": fmt.Errorf("analyzer timeout"),
		},
	}
	c, db, _ := newCoordinator(t, fetcher, analyzer)

	run, err := repository.NewCrawlRunRepository(db).Start(ctx)
	require.NoError(t, err)
	result, err := c.RunPipeline(ctx, run)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ItemsNew)

	latest, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, crawl.StatusCompleted, latest.Status)
}

func TestRunPipelineDeduplicatesWithinRun(t *testing.T) {
	ctx := context.Background()
	// The same release observed with and without a URL: identical text
	// modulo case and whitespace, same title and jurisdiction.
	fetcher := &fakeFetcher{items: []crawl.Item{
		ftcItem("https://www.ftc.gov/a", "text a"),
		ftcItem("", "Text   A"),
	}}
	same := relevantResult("FTC publishes COPPA Rule amendments", 4)
	analyzer := &fakeAnalyzer{results: map[string]*analysis.Result{
		"https://www.ftc.gov/a": same,
		"":                      same,
	}}
	c, db, _ := newCoordinator(t, fetcher, analyzer)

	run, err := repository.NewCrawlRunRepository(db).Start(ctx)
	require.NoError(t, err)
	result, err := c.RunPipeline(ctx, run)
	require.NoError(t, err)

	// The pipeline keys differ (URL vs text hash), so both reach the
	// store; the second matches the first by title and content hash and
	// counts as a duplicate, not a new row.
	assert.Equal(t, 1, result.ItemsNew)
	assert.Equal(t, 1, result.ItemsDuplicate)
	_, total, err := repository.NewEventRepository(db).List(ctx, repository.EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestTriggerRefusesWithoutAPIKey(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := testConfig()
	cfg.Anthropic.APIKey = ""
	c := crawler.NewCoordinator(db, &fakeFetcher{}, &fakeAnalyzer{}, &countingBackfiller{},
		cfg, slog.New(slog.DiscardHandler), metrics.NewRegistry())

	_, err = c.Trigger(ctx)
	require.Error(t, err)
	var appErr *errors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "MISSING_API_KEY", appErr.Code)
}

func TestTriggerConflictsWhileRunning(t *testing.T) {
	ctx := context.Background()
	c, db, _ := newCoordinator(t, &fakeFetcher{}, &fakeAnalyzer{})

	// Simulate an in-flight run without racing the background goroutine.
	_, err := repository.NewCrawlRunRepository(db).Start(ctx)
	require.NoError(t, err)

	_, err = c.Trigger(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))

	var running int
	require.NoError(t, db.QueryRow(
		`SELECT count(*) FROM crawl_runs WHERE status = 'running'`).Scan(&running))
	assert.Equal(t, 1, running)
}

func TestRunPipelineSkipsInvalidStoreInput(t *testing.T) {
	ctx := context.Background()
	bad := relevantResult("", 4)
	bad.JurisdictionCountry = ""
	fetcher := &fakeFetcher{items: []crawl.Item{{
		Source: source.Source{Name: "Broken Source", URL: "https://broken.example"},
		URL:    "https://broken.example/x",
		Title:  "",
		Text:   "text",
	}}}
	analyzer := &fakeAnalyzer{results: map[string]*analysis.Result{
		"https://broken.example/x": bad,
	}}
	c, db, _ := newCoordinator(t, fetcher, analyzer)

	run, err := repository.NewCrawlRunRepository(db).Start(ctx)
	require.NoError(t, err)
	result, err := c.RunPipeline(ctx, run)
	require.NoError(t, err)

	assert.Equal(t, 1, result.ItemsSkipped)
	assert.NotEmpty(t, result.Errors)

	latest, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, crawl.StatusCompleted, latest.Status, "validation failures do not fail the run")
}

func TestRunPipelineEmitsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	ctx := context.Background()
	fetcher := &fakeFetcher{items: []crawl.Item{
		ftcItem("https://www.ftc.gov/a", "COPPA rulemaking text"),
	}}
	analyzer := &fakeAnalyzer{results: map[string]*analysis.Result{
		"https://www.ftc.gov/a": relevantResult("FTC publishes COPPA Rule amendments", 4),
	}}
	c, db, _ := newCoordinator(t, fetcher, analyzer)

	run, err := repository.NewCrawlRunRepository(db).Start(ctx)
	require.NoError(t, err)
	_, err = c.RunPipeline(ctx, run)
	require.NoError(t, err)

	names := map[string]bool{}
	for _, span := range recorder.Ended() {
		names[span.Name()] = true
	}
	for _, want := range []string{"pipeline.run", "pipeline.fetch", "pipeline.analyze", "pipeline.persist"} {
		assert.True(t, names[want], "missing span %q", want)
	}
}
