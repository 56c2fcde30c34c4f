package repository_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regradar/regradar-backend/internal/domain/event"
	"github.com/regradar/regradar-backend/internal/domain/source"
	"github.com/regradar/regradar-backend/internal/infrastructure/database"
	"github.com/regradar/regradar-backend/internal/infrastructure/repository"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedSource(t *testing.T, db *sql.DB) int64 {
	t.Helper()
	repo := repository.NewSourceRepository(db)
	id, err := repo.Ensure(context.Background(), source.Source{
		Name:                "FTC",
		URL:                 "https://www.ftc.gov",
		Type:                source.TypeGovernmentPage,
		AuthorityType:       source.AuthorityNational,
		Jurisdiction:        "United States",
		JurisdictionCountry: "United States",
		ReliabilityTier:     5,
	})
	require.NoError(t, err)
	return id
}

func ftcEvent(t *testing.T, sourceID int64) *event.Event {
	t.Helper()
	e, err := event.New("FTC publishes COPPA Rule amendments", "United States")
	require.NoError(t, err)
	e.Stage = event.StageProposed
	e.ChiliScore = 4
	e.Summary = "Proposed amendments to the COPPA Rule."
	e.RawText = "The Federal Trade Commission proposes amendments to the COPPA Rule."
	e.SourceURLLink = "https://www.ftc.gov/a"
	e.SourceID = sourceID
	return e
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM `+table).Scan(&n))
	return n
}

func TestUpsertFirstObservation(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	sourceID := seedSource(t, db)
	repo := repository.NewEventRepository(db)

	outcome, err := repo.UpsertEvent(ctx, ftcEvent(t, sourceID))
	require.NoError(t, err)
	assert.Equal(t, repository.OutcomeNew, outcome)

	assert.Equal(t, 1, countRows(t, db, "regulation_events"))
	assert.Equal(t, 1, countRows(t, db, "event_history"))

	var changeType string
	require.NoError(t, db.QueryRow(`SELECT change_type FROM event_history`).Scan(&changeType))
	assert.Equal(t, "created", changeType)
}

func TestUpsertIdenticalReplayIsDuplicate(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	sourceID := seedSource(t, db)
	repo := repository.NewEventRepository(db)

	first, err := repo.UpsertEvent(ctx, ftcEvent(t, sourceID))
	require.NoError(t, err)
	second, err := repo.UpsertEvent(ctx, ftcEvent(t, sourceID))
	require.NoError(t, err)

	assert.Equal(t, repository.OutcomeNew, first)
	assert.Equal(t, repository.OutcomeDuplicate, second)
	assert.Equal(t, 1, countRows(t, db, "regulation_events"))
	assert.Equal(t, 1, countRows(t, db, "event_history"), "duplicate must not append history")
}

func TestUpsertStageChangeUpdatesInPlace(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	sourceID := seedSource(t, db)
	repo := repository.NewEventRepository(db)

	_, err := repo.UpsertEvent(ctx, ftcEvent(t, sourceID))
	require.NoError(t, err)

	changed := ftcEvent(t, sourceID)
	changed.Stage = event.StageEnacted
	changed.ChiliScore = 5
	outcome, err := repo.UpsertEvent(ctx, changed)
	require.NoError(t, err)
	assert.Equal(t, repository.OutcomeUpdated, outcome)
	assert.Equal(t, 1, countRows(t, db, "regulation_events"))

	stored, err := repo.GetByID(ctx, changed.ID)
	require.NoError(t, err)
	assert.Equal(t, event.StageEnacted, stored.Stage)
	assert.Equal(t, 5, stored.ChiliScore)

	history, err := repo.GetHistory(ctx, changed.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, event.ChangeStatusChanged, history[0].ChangeType)
	assert.Equal(t, "stage", history[0].FieldName)
	assert.Equal(t, "proposed", history[0].PreviousValue)
	assert.Equal(t, "enacted", history[0].NewValue)
	assert.Equal(t, event.ChangeCreated, history[len(history)-1].ChangeType)
}

func TestUpsertNonStageChangeWritesUpdatedHistory(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	sourceID := seedSource(t, db)
	repo := repository.NewEventRepository(db)

	_, err := repo.UpsertEvent(ctx, ftcEvent(t, sourceID))
	require.NoError(t, err)

	changed := ftcEvent(t, sourceID)
	changed.Summary = "Final text of the amendments published."
	outcome, err := repo.UpsertEvent(ctx, changed)
	require.NoError(t, err)
	assert.Equal(t, repository.OutcomeUpdated, outcome)

	history, err := repo.GetHistory(ctx, changed.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, event.ChangeUpdated, history[0].ChangeType)
	assert.Equal(t, "analysis", history[0].FieldName)
	assert.Equal(t, "Pipeline refresh", history[0].NewValue)
}

func TestUpsertDistinctURLsStayDistinct(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	sourceID := seedSource(t, db)
	repo := repository.NewEventRepository(db)

	a := ftcEvent(t, sourceID)
	a.RawText = "Notice of proposed rulemaking, docket A."
	_, err := repo.UpsertEvent(ctx, a)
	require.NoError(t, err)

	b := ftcEvent(t, sourceID)
	b.SourceURLLink = "https://www.ftc.gov/b"
	b.RawText = "Press release accompanying the rulemaking."
	outcome, err := repo.UpsertEvent(ctx, b)
	require.NoError(t, err)

	assert.Equal(t, repository.OutcomeNew, outcome)
	assert.Equal(t, 2, countRows(t, db, "regulation_events"))
}

func TestUpsertMatchesByContentHashWhenURLMissing(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	sourceID := seedSource(t, db)
	repo := repository.NewEventRepository(db)

	a := ftcEvent(t, sourceID)
	a.SourceURLLink = ""
	_, err := repo.UpsertEvent(ctx, a)
	require.NoError(t, err)

	// Same text modulo whitespace and case; no URL on either side.
	b := ftcEvent(t, sourceID)
	b.SourceURLLink = ""
	b.RawText = "  THE Federal Trade Commission\nproposes amendments to the COPPA Rule.  "
	outcome, err := repo.UpsertEvent(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, repository.OutcomeDuplicate, outcome)
	assert.Equal(t, 1, countRows(t, db, "regulation_events"))
}

func TestUpsertRejectsInvalidEvent(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	sourceID := seedSource(t, db)
	repo := repository.NewEventRepository(db)

	bad := ftcEvent(t, sourceID)
	bad.ChiliScore = 9
	_, err := repo.UpsertEvent(ctx, bad)
	assert.Error(t, err)
	assert.Equal(t, 0, countRows(t, db, "regulation_events"))
}

func TestUpsertCapsRawText(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	sourceID := seedSource(t, db)
	repo := repository.NewEventRepository(db)

	e := ftcEvent(t, sourceID)
	for len(e.RawText) <= event.MaxRawTextLen {
		e.RawText += e.RawText
	}
	_, err := repo.UpsertEvent(ctx, e)
	require.NoError(t, err)

	stored, err := repo.GetByID(ctx, e.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(stored.RawText), event.MaxRawTextLen)
}

func TestHistoryFirstRowIsCreated(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	sourceID := seedSource(t, db)
	repo := repository.NewEventRepository(db)

	e := ftcEvent(t, sourceID)
	_, err := repo.UpsertEvent(ctx, e)
	require.NoError(t, err)

	changed := ftcEvent(t, sourceID)
	changed.Stage = event.StageEnacted
	_, err = repo.UpsertEvent(ctx, changed)
	require.NoError(t, err)

	history, err := repo.GetHistory(ctx, e.ID, 50)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	// Newest first; the oldest entry must be the creation record.
	assert.Equal(t, event.ChangeCreated, history[len(history)-1].ChangeType)
}

func TestListFilterAndPagination(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	sourceID := seedSource(t, db)
	repo := repository.NewEventRepository(db)

	titles := []string{
		"FTC publishes COPPA Rule amendments",
		"California enacts age verification requirements",
		"Ofcom consults on age assurance guidance",
	}
	countries := []string{"United States", "United States", "United Kingdom"}
	for i, title := range titles {
		e, err := event.New(title, countries[i])
		require.NoError(t, err)
		e.SourceURLLink = "https://example.org/" + title
		e.ChiliScore = i + 2
		e.SourceID = sourceID
		_, err = repo.UpsertEvent(ctx, e)
		require.NoError(t, err)
	}

	events, total, err := repo.List(ctx, repository.EventFilter{
		Jurisdictions: []string{"United States"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, events, 2)

	events, total, err = repo.List(ctx, repository.EventFilter{
		Query: "age",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	events, total, err = repo.List(ctx, repository.EventFilter{
		MinRisk: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, events, 1)
	assert.Equal(t, "Ofcom consults on age assurance guidance", events[0].Title)

	events, total, err = repo.List(ctx, repository.EventFilter{
		SortBy: "chili_score", SortOrder: "desc", Page: 1, Limit: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, events, 2)
	assert.Equal(t, 4, events[0].ChiliScore)
}

func TestListRejectsUnknownSortColumn(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := repository.NewEventRepository(db)

	// An unknown sort key silently falls back to updated_at.
	_, _, err := repo.List(ctx, repository.EventFilter{SortBy: "id; DROP TABLE regulation_events"})
	require.NoError(t, err)
	var n int
	require.NoError(t, db.QueryRow(
		`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='regulation_events'`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestFeedbackAppendsHistory(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	sourceID := seedSource(t, db)
	repo := repository.NewEventRepository(db)

	e := ftcEvent(t, sourceID)
	_, err := repo.UpsertEvent(ctx, e)
	require.NoError(t, err)

	rating := 4
	fb, err := repo.AddFeedback(ctx, e.ID, "analyst", "Needs legal review.", &rating)
	require.NoError(t, err)
	assert.Equal(t, "analyst", fb.Author)
	require.NotNil(t, fb.Rating)
	assert.Equal(t, 4, *fb.Rating)

	list, err := repo.ListFeedback(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	history, err := repo.GetHistory(ctx, e.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, event.ChangeFeedback, history[0].ChangeType)
}
