package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/regradar/regradar-backend/internal/domain/event"
	"github.com/regradar/regradar-backend/internal/errors"
)

// UpsertOutcome reports what the deduplicating upsert did.
type UpsertOutcome string

const (
	OutcomeNew       UpsertOutcome = "new"
	OutcomeUpdated   UpsertOutcome = "updated"
	OutcomeDuplicate UpsertOutcome = "duplicate"
)

// EventRepository persists regulation events, their append-only history
// and analyst feedback.
type EventRepository struct {
	db DBTX
}

func NewEventRepository(db DBTX) *EventRepository {
	return &EventRepository{db: db}
}

// WithTx returns a repository bound to tx so callers can batch many
// upserts in one transaction.
func (r *EventRepository) WithTx(tx DBTX) *EventRepository {
	return &EventRepository{db: tx}
}

const eventColumns = `id, title, jurisdiction_country, jurisdiction_state, stage,
	is_under16_applicable, age_bracket,
	impact_score, likelihood_score, confidence_score, chili_score,
	summary, business_impact, required_solutions, affected_products, competitor_responses,
	raw_text, source_url_link, effective_date, published_date, source_id,
	created_at, updated_at`

// UpsertEvent applies the deduplicating upsert. Candidates share the
// incoming jurisdiction and match on title or URL; a candidate is the
// same event when the URLs are both present and equal, or when the
// URLs do not conflict and the content hashes agree — in both cases
// the regulation keys must also match.
func (r *EventRepository) UpsertEvent(ctx context.Context, e *event.Event) (UpsertOutcome, error) {
	e.RawText = event.TruncateRawText(e.RawText)
	if err := e.Validate(); err != nil {
		return "", errors.NewValidationError("INVALID_EVENT", err.Error()).WithCause(err)
	}

	incomingKey := e.Key()
	incomingURL := event.NormalizeURL(e.SourceURLLink)
	incomingHash := event.ContentHash(e.RawText)

	candidates, err := r.dedupCandidates(ctx, e)
	if err != nil {
		return "", err
	}

	for _, c := range candidates {
		candURL := event.NormalizeURL(c.SourceURLLink)
		sameKey := c.Key() == incomingKey

		urlMatch := incomingURL != "" && candURL != "" && incomingURL == candURL
		urlConflict := incomingURL != "" && candURL != "" && incomingURL != candURL
		hashMatch := !urlConflict && event.ContentHash(c.RawText) == incomingHash

		if sameKey && (urlMatch || hashMatch) {
			return r.applyToExisting(ctx, c, e)
		}
	}

	return r.insertNew(ctx, e)
}

func (r *EventRepository) dedupCandidates(ctx context.Context, e *event.Event) ([]*event.Event, error) {
	state := ""
	if e.JurisdictionState != nil {
		state = *e.JurisdictionState
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM regulation_events
		WHERE lower(jurisdiction_country) = lower(?)
		  AND lower(COALESCE(jurisdiction_state, '')) = lower(?)
		  AND (lower(title) = lower(?) OR lower(source_url_link) = lower(?))
		ORDER BY updated_at DESC`,
		e.JurisdictionCountry, state, e.Title, event.NormalizeURL(e.SourceURLLink))
	if err != nil {
		return nil, fmt.Errorf("loading dedup candidates: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// mutableChanged reports whether any of the fields the pipeline is
// allowed to refresh differ between the stored and incoming event.
func mutableChanged(old, new *event.Event) bool {
	return old.Stage != new.Stage ||
		old.Summary != new.Summary ||
		old.BusinessImpact != new.BusinessImpact ||
		old.AgeBracket != new.AgeBracket ||
		old.ImpactScore != new.ImpactScore ||
		old.LikelihoodScore != new.LikelihoodScore ||
		old.ConfidenceScore != new.ConfidenceScore ||
		old.ChiliScore != new.ChiliScore
}

func (r *EventRepository) applyToExisting(ctx context.Context, existing, incoming *event.Event) (UpsertOutcome, error) {
	if !mutableChanged(existing, incoming) {
		incoming.ID = existing.ID
		return OutcomeDuplicate, nil
	}

	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		UPDATE regulation_events SET
			stage = ?, summary = ?, business_impact = ?, age_bracket = ?,
			is_under16_applicable = ?,
			impact_score = ?, likelihood_score = ?, confidence_score = ?, chili_score = ?,
			required_solutions = ?, affected_products = ?, competitor_responses = ?,
			effective_date = ?, published_date = ?,
			updated_at = ?
		WHERE id = ?`,
		string(incoming.Stage), incoming.Summary, incoming.BusinessImpact, string(incoming.AgeBracket),
		incoming.IsUnder16Applicable,
		incoming.ImpactScore, incoming.LikelihoodScore, incoming.ConfidenceScore, incoming.ChiliScore,
		incoming.RequiredSolutions, incoming.AffectedProducts, incoming.CompetitorResponses,
		nullString(incoming.EffectiveDate), nullString(incoming.PublishedDate),
		formatTime(now),
		existing.ID.String())
	if err != nil {
		return "", fmt.Errorf("updating event %s: %w", existing.ID, err)
	}

	entry := event.HistoryEntry{
		EventID:    existing.ID,
		ChangedAt:  now,
		ChangedBy:  "pipeline",
		ChangeType: event.ChangeUpdated,
		FieldName:  "analysis",
		NewValue:   "Pipeline refresh",
	}
	if existing.Stage != incoming.Stage {
		entry.ChangeType = event.ChangeStatusChanged
		entry.FieldName = "stage"
		entry.PreviousValue = string(existing.Stage)
		entry.NewValue = string(incoming.Stage)
	}
	if err := r.appendHistory(ctx, entry); err != nil {
		return "", err
	}

	incoming.ID = existing.ID
	incoming.UpdatedAt = now
	return OutcomeUpdated, nil
}

func (r *EventRepository) insertNew(ctx context.Context, e *event.Event) (UpsertOutcome, error) {
	now := time.Now().UTC()
	e.ID = uuid.New()
	e.CreatedAt = now
	e.UpdatedAt = now

	var sourceID any
	if e.SourceID != 0 {
		sourceID = e.SourceID
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO regulation_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.Title, e.JurisdictionCountry, nullString(e.JurisdictionState), string(e.Stage),
		e.IsUnder16Applicable, string(e.AgeBracket),
		e.ImpactScore, e.LikelihoodScore, e.ConfidenceScore, e.ChiliScore,
		e.Summary, e.BusinessImpact, e.RequiredSolutions, e.AffectedProducts, e.CompetitorResponses,
		e.RawText, e.SourceURLLink, nullString(e.EffectiveDate), nullString(e.PublishedDate), sourceID,
		formatTime(now), formatTime(now))
	if err != nil {
		return "", fmt.Errorf("inserting event: %w", err)
	}

	if err := r.appendHistory(ctx, event.HistoryEntry{
		EventID:    e.ID,
		ChangedAt:  now,
		ChangedBy:  "pipeline",
		ChangeType: event.ChangeCreated,
		NewValue:   e.Title,
	}); err != nil {
		return "", err
	}
	return OutcomeNew, nil
}

func (r *EventRepository) appendHistory(ctx context.Context, h event.HistoryEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO event_history (event_id, changed_at, changed_by, change_type, field_name, previous_value, new_value)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		h.EventID.String(), formatTime(h.ChangedAt), h.ChangedBy, string(h.ChangeType),
		h.FieldName, h.PreviousValue, h.NewValue)
	if err != nil {
		return fmt.Errorf("appending history: %w", err)
	}
	return nil
}

// GetByID returns one event or a not-found error.
func (r *EventRepository) GetByID(ctx context.Context, id uuid.UUID) (*event.Event, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+` FROM regulation_events WHERE id = ?`, id.String())
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("EVENT_NOT_FOUND", fmt.Sprintf("event %s not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("loading event %s: %w", id, err)
	}
	return e, nil
}

// GetHistory returns up to limit history rows, newest first; ties on
// changed_at break by descending id.
func (r *EventRepository) GetHistory(ctx context.Context, eventID uuid.UUID, limit int) ([]event.HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_id, changed_at, changed_by, change_type,
			COALESCE(field_name, ''), COALESCE(previous_value, ''), COALESCE(new_value, '')
		FROM event_history
		WHERE event_id = ?
		ORDER BY changed_at DESC, id DESC
		LIMIT ?`, eventID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	defer rows.Close()

	var entries []event.HistoryEntry
	for rows.Next() {
		var (
			h         event.HistoryEntry
			idStr     string
			changedAt string
		)
		if err := rows.Scan(&h.ID, &idStr, &changedAt, &h.ChangedBy, &h.ChangeType,
			&h.FieldName, &h.PreviousValue, &h.NewValue); err != nil {
			return nil, err
		}
		h.EventID, _ = uuid.Parse(idStr)
		h.ChangedAt = parseTime(changedAt)
		entries = append(entries, h)
	}
	return entries, rows.Err()
}

// Related returns up to limit events in the same country, ranked by
// chili score then recency.
func (r *EventRepository) Related(ctx context.Context, e *event.Event, limit int) ([]*event.Event, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM regulation_events
		WHERE jurisdiction_country = ? AND id != ?
		ORDER BY chili_score DESC, updated_at DESC
		LIMIT ?`, e.JurisdictionCountry, e.ID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("loading related events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// AddFeedback records an analyst note and mirrors it into the history
// log.
func (r *EventRepository) AddFeedback(ctx context.Context, eventID uuid.UUID, author, comment string, rating *int) (*event.Feedback, error) {
	if strings.TrimSpace(comment) == "" {
		return nil, errors.NewValidationError("EMPTY_FEEDBACK", "comment cannot be empty")
	}
	if author == "" {
		author = "anonymous"
	}
	if _, err := r.GetByID(ctx, eventID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var ratingArg any
	if rating != nil {
		ratingArg = *rating
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO event_feedback (event_id, author, comment, rating, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		eventID.String(), author, comment, ratingArg, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("inserting feedback: %w", err)
	}
	id, _ := res.LastInsertId()

	if err := r.appendHistory(ctx, event.HistoryEntry{
		EventID:    eventID,
		ChangedAt:  now,
		ChangedBy:  author,
		ChangeType: event.ChangeFeedback,
		FieldName:  "feedback",
		NewValue:   comment,
	}); err != nil {
		return nil, err
	}

	return &event.Feedback{
		ID:        id,
		EventID:   eventID,
		Author:    author,
		Comment:   comment,
		Rating:    rating,
		CreatedAt: now,
	}, nil
}

// ListFeedback returns an event's feedback, newest first.
func (r *EventRepository) ListFeedback(ctx context.Context, eventID uuid.UUID) ([]event.Feedback, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_id, author, comment, rating, created_at
		FROM event_feedback
		WHERE event_id = ?
		ORDER BY created_at DESC, id DESC`, eventID.String())
	if err != nil {
		return nil, fmt.Errorf("loading feedback: %w", err)
	}
	defer rows.Close()

	var out []event.Feedback
	for rows.Next() {
		var (
			f         event.Feedback
			idStr     string
			rating    sql.NullInt64
			createdAt string
		)
		if err := rows.Scan(&f.ID, &idStr, &f.Author, &f.Comment, &rating, &createdAt); err != nil {
			return nil, err
		}
		f.EventID, _ = uuid.Parse(idStr)
		if rating.Valid {
			v := int(rating.Int64)
			f.Rating = &v
		}
		f.CreatedAt = parseTime(createdAt)
		out = append(out, f)
	}
	return out, rows.Err()
}

// --- listing ---

// EventFilter narrows and pages the events listing.
type EventFilter struct {
	Jurisdictions []string
	Stages        []string
	AgeBracket    string
	MinRisk       int
	MaxRisk       int
	DateFrom      string
	DateTo        string
	Query         string

	SortBy    string
	SortOrder string
	Page      int
	Limit     int
}

// sortColumns is the allow-list for user-supplied sort keys.
var sortColumns = map[string]string{
	"updated_at":     "updated_at",
	"published_date": "published_date",
	"chili_score":    "chili_score",
	"jurisdiction":   "jurisdiction_country",
	"stage":          "stage",
	"title":          "title",
}

func (f EventFilter) orderBy() string {
	col, ok := sortColumns[f.SortBy]
	if !ok {
		col = "updated_at"
	}
	dir := "DESC"
	if strings.EqualFold(f.SortOrder, "asc") {
		dir = "ASC"
	}
	return col + " " + dir
}

func (f EventFilter) page() (page, limit int) {
	page = f.Page
	if page < 1 {
		page = 1
	}
	limit = f.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}

func (f EventFilter) where() (string, []any) {
	var clauses []string
	var args []any

	if len(f.Jurisdictions) > 0 {
		ph := strings.Repeat("?,", len(f.Jurisdictions))
		clauses = append(clauses, fmt.Sprintf("jurisdiction_country IN (%s)", ph[:len(ph)-1]))
		for _, j := range f.Jurisdictions {
			args = append(args, j)
		}
	}
	if len(f.Stages) > 0 {
		ph := strings.Repeat("?,", len(f.Stages))
		clauses = append(clauses, fmt.Sprintf("stage IN (%s)", ph[:len(ph)-1]))
		for _, s := range f.Stages {
			args = append(args, s)
		}
	}
	if f.AgeBracket != "" {
		clauses = append(clauses, "age_bracket = ?")
		args = append(args, f.AgeBracket)
	}
	if f.MinRisk > 0 {
		clauses = append(clauses, "chili_score >= ?")
		args = append(args, f.MinRisk)
	}
	if f.MaxRisk > 0 {
		clauses = append(clauses, "chili_score <= ?")
		args = append(args, f.MaxRisk)
	}
	// Date filters compare against the best-known event date.
	if f.DateFrom != "" {
		clauses = append(clauses, "COALESCE(published_date, effective_date, substr(updated_at, 1, 10)) >= ?")
		args = append(args, f.DateFrom)
	}
	if f.DateTo != "" {
		clauses = append(clauses, "COALESCE(published_date, effective_date, substr(updated_at, 1, 10)) <= ?")
		args = append(args, f.DateTo)
	}
	if f.Query != "" {
		clauses = append(clauses, "(title LIKE ? OR summary LIKE ? OR business_impact LIKE ?)")
		like := "%" + f.Query + "%"
		args = append(args, like, like, like)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// List returns one page of events plus the unfiltered-by-paging total.
func (r *EventRepository) List(ctx context.Context, f EventFilter) ([]*event.Event, int, error) {
	where, args := f.where()

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM regulation_events`+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting events: %w", err)
	}

	page, limit := f.page()
	query := `SELECT ` + eventColumns + ` FROM regulation_events` + where +
		` ORDER BY ` + f.orderBy() + ` LIMIT ? OFFSET ?`
	args = append(args, limit, (page-1)*limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// All streams every event; backfill uses it to rebuild the laws table.
func (r *EventRepository) All(ctx context.Context) ([]*event.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM regulation_events ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("loading all events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// CreatedSince returns events created at or after cutoff; notification
// seeding uses it.
func (r *EventRepository) CreatedSince(ctx context.Context, cutoff time.Time) ([]*event.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM regulation_events
		WHERE created_at >= ?
		ORDER BY created_at DESC`, formatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("loading recent events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// --- scanning ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*event.Event, error) {
	var (
		e         event.Event
		idStr     string
		state     sql.NullString
		stage     string
		bracket   string
		reqSol    sql.NullString
		affProd   sql.NullString
		compResp  sql.NullString
		effective sql.NullString
		published sql.NullString
		sourceID  sql.NullInt64
		createdAt string
		updatedAt string
	)
	err := row.Scan(&idStr, &e.Title, &e.JurisdictionCountry, &state, &stage,
		&e.IsUnder16Applicable, &bracket,
		&e.ImpactScore, &e.LikelihoodScore, &e.ConfidenceScore, &e.ChiliScore,
		&e.Summary, &e.BusinessImpact, &reqSol, &affProd, &compResp,
		&e.RawText, &e.SourceURLLink, &effective, &published, &sourceID,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	e.ID, _ = uuid.Parse(idStr)
	e.JurisdictionState = stringPtr(state)
	e.Stage = event.Stage(stage)
	e.AgeBracket = event.AgeBracket(bracket)
	e.RequiredSolutions = reqSol.String
	e.AffectedProducts = affProd.String
	e.CompetitorResponses = compResp.String
	e.EffectiveDate = stringPtr(effective)
	e.PublishedDate = stringPtr(published)
	e.SourceID = sourceID.Int64
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	return &e, nil
}

func scanEvents(rows *sql.Rows) ([]*event.Event, error) {
	var out []*event.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
