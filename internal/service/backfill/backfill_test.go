package backfill_test

import (
	"context"
	"database/sql"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/regradar/regradar-backend/internal/domain/event"
	"github.com/regradar/regradar-backend/internal/domain/source"
	"github.com/regradar/regradar-backend/internal/infrastructure/database"
	"github.com/regradar/regradar-backend/internal/infrastructure/repository"
	"github.com/regradar/regradar-backend/internal/metrics"
	"github.com/regradar/regradar-backend/internal/service/backfill"
)

func setup(t *testing.T) (*sql.DB, *repository.EventRepository, int64, *backfill.Service) {
	t.Helper()
	db, err := database.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sourceID, err := repository.NewSourceRepository(db).Ensure(context.Background(), source.Source{
		Name:                "FTC Press Releases",
		URL:                 "https://www.ftc.gov",
		Type:                source.TypeGovernmentPage,
		AuthorityType:       source.AuthorityNational,
		Jurisdiction:        "United States",
		JurisdictionCountry: "United States",
		ReliabilityTier:     5,
	})
	require.NoError(t, err)

	svc := backfill.NewService(db, slog.New(slog.DiscardHandler), metrics.NewRegistry())
	return db, repository.NewEventRepository(db), sourceID, svc
}

func upsert(t *testing.T, repo *repository.EventRepository, sourceID int64, title, country, url string, stage event.Stage, chili int) *event.Event {
	t.Helper()
	e, err := event.New(title, country)
	require.NoError(t, err)
	e.Stage = stage
	e.ChiliScore = chili
	e.SourceURLLink = url
	e.SourceID = sourceID
	e.Summary = title
	_, err = repo.UpsertEvent(context.Background(), e)
	require.NoError(t, err)
	return e
}

func TestRebuildGroupsCanonicalLaw(t *testing.T) {
	ctx := context.Background()
	db, events, sourceID, svc := setup(t)

	upsert(t, events, sourceID, "FTC publishes COPPA Rule amendments",
		"United States", "https://www.ftc.gov/a", event.StageProposed, 4)
	upsert(t, events, sourceID, "FTC issues COPPA enforcement guidance",
		"United States", "https://www.ftc.gov/b", event.StageEnacted, 5)

	stats, err := svc.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Laws)
	assert.Equal(t, 2, stats.LawUpdates)
	assert.Equal(t, 1, stats.MergedDuplicates)

	laws := repository.NewLawRepository(db)
	l, updates, err := laws.GetByKey(ctx, "united-states::coppa")
	require.NoError(t, err)
	assert.Equal(t, "Children's Online Privacy Protection Act (COPPA)", l.LawName)
	assert.Equal(t, "act", l.LawType)
	assert.Equal(t, 5.0, l.AggregateRiskMax)
	assert.Equal(t, 5.0, l.SourceConfidence)
	assert.Len(t, updates, 2)
}

func TestRebuildIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db, events, sourceID, svc := setup(t)

	upsert(t, events, sourceID, "FTC publishes COPPA Rule amendments",
		"United States", "https://www.ftc.gov/a", event.StageProposed, 4)

	first, err := svc.Rebuild(ctx)
	require.NoError(t, err)
	second, err := svc.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	lawCount, updateCount, err := repository.NewLawRepository(db).Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, lawCount)
	assert.Equal(t, 1, updateCount)
}

func TestRebuildSeparatesJurisdictions(t *testing.T) {
	ctx := context.Background()
	db, events, sourceID, svc := setup(t)

	e1, err := event.New("Age-Appropriate Design Code Act enforcement", "United States")
	require.NoError(t, err)
	state := "California"
	e1.JurisdictionState = &state
	e1.SourceURLLink = "https://example.org/ca"
	e1.SourceID = sourceID
	_, err = events.UpsertEvent(ctx, e1)
	require.NoError(t, err)

	upsert(t, events, sourceID, "Age-Appropriate Design Code Act enforcement",
		"United Kingdom", "https://example.org/uk", event.StageProposed, 3)

	stats, err := svc.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Laws)
	assert.Equal(t, 0, stats.MergedDuplicates)

	laws := repository.NewLawRepository(db)
	us, usUpdates, err := laws.GetByKey(ctx, "united-states:california:ab-2273")
	require.NoError(t, err)
	assert.Len(t, usUpdates, 1)
	assert.Equal(t, "United States", us.JurisdictionCountry)

	uk, ukUpdates, err := laws.GetByKey(ctx, "united-kingdom::ab-2273")
	require.NoError(t, err)
	assert.Len(t, ukUpdates, 1)
	assert.Equal(t, "United Kingdom", uk.JurisdictionCountry)
}

func TestRebuildAggregates(t *testing.T) {
	ctx := context.Background()
	db, events, sourceID, svc := setup(t)

	upsert(t, events, sourceID, "Kids Online Safety Act committee vote",
		"United States", "https://example.org/a", event.StageCommitteeReview, 3)
	upsert(t, events, sourceID, "KOSA passes Senate",
		"United States", "https://example.org/b", event.StagePassed, 5)

	_, err := svc.Rebuild(ctx)
	require.NoError(t, err)

	laws := repository.NewLawRepository(db)
	l, updates, err := laws.GetByKey(ctx, "united-states::kosa")
	require.NoError(t, err)
	require.Len(t, updates, 2)

	assert.Equal(t, 5.0, l.AggregateRiskMax)
	// Both events are brand new, so every recency weight is 1.0 and the
	// weighted aggregate is the plain mean.
	assert.InDelta(t, 4.0, l.AggregateRiskRecentWeighted, 0.001)
	assert.Greater(t, l.AggregateRiskOverall, 0.0)
}

func TestRebuildRawMetadataSnapshot(t *testing.T) {
	ctx := context.Background()
	db, events, sourceID, svc := setup(t)

	upsert(t, events, sourceID, "FTC publishes COPPA Rule amendments",
		"United States", "https://www.ftc.gov/a", event.StageProposed, 4)

	_, err := svc.Rebuild(ctx)
	require.NoError(t, err)

	_, updates, err := repository.NewLawRepository(db).GetByKey(ctx, "united-states::coppa")
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Contains(t, updates[0].RawMetadata, `"age_bracket":"both"`)
	assert.Contains(t, updates[0].RawMetadata, `"law_identifier":"COPPA"`)
}

func TestRebuildEmptyStore(t *testing.T) {
	ctx := context.Background()
	_, _, _, svc := setup(t)

	stats, err := svc.Rebuild(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Laws)
	assert.Zero(t, stats.LawUpdates)
}

func TestRebuildEmitsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	ctx := context.Background()
	_, events, sourceID, svc := setup(t)
	upsert(t, events, sourceID, "FTC publishes COPPA Rule amendments",
		"United States", "https://www.ftc.gov/a", event.StageProposed, 4)

	_, err := svc.Rebuild(ctx)
	require.NoError(t, err)

	var found bool
	for _, span := range recorder.Ended() {
		if span.Name() == "backfill.rebuild" {
			found = true
		}
	}
	assert.True(t, found)
}
