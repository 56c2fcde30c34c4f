package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/regradar/regradar-backend/internal/domain/law"
	"github.com/regradar/regradar-backend/internal/errors"
)

// LawRepository reads and rebuilds the derived laws tables. Writes only
// happen during backfill, which truncates and repopulates both tables
// inside one transaction.
type LawRepository struct {
	db DBTX
}

func NewLawRepository(db DBTX) *LawRepository {
	return &LawRepository{db: db}
}

func (r *LawRepository) WithTx(tx DBTX) *LawRepository {
	return &LawRepository{db: tx}
}

// TruncateDerived empties law_updates and laws. Only backfill calls it,
// always inside the rebuild transaction.
func (r *LawRepository) TruncateDerived(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM law_updates`); err != nil {
		return fmt.Errorf("truncating law_updates: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM laws`); err != nil {
		return fmt.Errorf("truncating laws: %w", err)
	}
	return nil
}

// Insert stores one law and returns its id.
func (r *LawRepository) Insert(ctx context.Context, l *law.Law) (int64, error) {
	now := formatTime(time.Now().UTC())
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO laws (law_key, law_name, jurisdiction_country, jurisdiction_state,
			law_type, stage, status, first_seen_at, last_seen_at, latest_effective_date,
			aggregate_risk_max, aggregate_risk_recent_weighted, aggregate_risk_overall,
			source_confidence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.LawKey, l.LawName, l.JurisdictionCountry, nullString(l.JurisdictionState),
		l.LawType, l.Stage, l.Status,
		formatTime(l.FirstSeenAt), formatTime(l.LastSeenAt), nullString(l.LatestEffectiveDate),
		l.AggregateRiskMax, l.AggregateRiskRecentWeighted, l.AggregateRiskOverall,
		l.SourceConfidence, now, now)
	if err != nil {
		return 0, fmt.Errorf("inserting law %q: %w", l.LawKey, err)
	}
	return res.LastInsertId()
}

// InsertUpdate stores one event's contribution to a law.
func (r *LawRepository) InsertUpdate(ctx context.Context, u *law.Update) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO law_updates (law_id, event_id, title, stage, summary, business_impact,
			impact_score, likelihood_score, confidence_score, chili_score,
			source_url_link, effective_date, published_date, raw_metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.LawID, u.EventID.String(), u.Title, u.Stage, u.Summary, u.BusinessImpact,
		u.ImpactScore, u.LikelihoodScore, u.ConfidenceScore, u.ChiliScore,
		u.SourceURLLink, nullString(u.EffectiveDate), nullString(u.PublishedDate),
		u.RawMetadata, formatTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("inserting law update for event %s: %w", u.EventID, err)
	}
	return nil
}

// BriefItem is one entry of the executive brief: a law plus the age
// bracket and summary of its latest update.
type BriefItem struct {
	law.Law
	UpdateCount   int    `json:"update_count"`
	AgeBracket    string `json:"age_bracket"`
	LatestSummary string `json:"latest_summary"`
}

// Brief returns the top laws by risk. The ordering is the contract the
// executive brief depends on: max risk, then recent-weighted risk,
// then recency.
func (r *LawRepository) Brief(ctx context.Context, limit int) ([]BriefItem, error) {
	if limit <= 0 || limit > 20 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+lawColumns+`,
			(SELECT count(*) FROM law_updates lu WHERE lu.law_id = l.id),
			COALESCE((SELECT e.age_bracket FROM law_updates lu
				JOIN regulation_events e ON e.id = lu.event_id
				WHERE lu.law_id = l.id
				ORDER BY lu.published_date DESC, lu.created_at DESC LIMIT 1), 'both'),
			COALESCE((SELECT lu.summary FROM law_updates lu
				WHERE lu.law_id = l.id
				ORDER BY lu.published_date DESC, lu.created_at DESC LIMIT 1), '')
		FROM laws l
		ORDER BY l.aggregate_risk_max DESC, l.aggregate_risk_recent_weighted DESC, l.updated_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("loading brief: %w", err)
	}
	defer rows.Close()

	var items []BriefItem
	for rows.Next() {
		var it BriefItem
		if err := scanLawInto(rows, &it.Law, &it.UpdateCount, &it.AgeBracket, &it.LatestSummary); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// List returns all laws in brief order.
func (r *LawRepository) List(ctx context.Context) ([]law.Law, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+lawColumns+` FROM laws l
		ORDER BY l.aggregate_risk_max DESC, l.aggregate_risk_recent_weighted DESC, l.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing laws: %w", err)
	}
	defer rows.Close()

	var laws []law.Law
	for rows.Next() {
		var l law.Law
		if err := scanLawInto(rows, &l); err != nil {
			return nil, err
		}
		laws = append(laws, l)
	}
	return laws, rows.Err()
}

// GetByKey returns one law with its updates sorted newest first.
func (r *LawRepository) GetByKey(ctx context.Context, lawKey string) (*law.Law, []law.Update, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+lawColumns+` FROM laws l WHERE l.law_key = ?`, lawKey)

	var l law.Law
	err := scanLawInto(row, &l)
	if err == sql.ErrNoRows {
		return nil, nil, errors.NewNotFoundError("LAW_NOT_FOUND", fmt.Sprintf("law %q not found", lawKey))
	}
	if err != nil {
		return nil, nil, fmt.Errorf("loading law %q: %w", lawKey, err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, law_id, event_id, title, stage, summary, business_impact,
			impact_score, likelihood_score, confidence_score, chili_score,
			source_url_link, effective_date, published_date, COALESCE(raw_metadata, ''), created_at
		FROM law_updates
		WHERE law_id = ?
		ORDER BY published_date DESC, created_at DESC`, l.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading law updates: %w", err)
	}
	defer rows.Close()

	var updates []law.Update
	for rows.Next() {
		var (
			u         law.Update
			eventID   string
			effective sql.NullString
			published sql.NullString
			createdAt string
		)
		if err := rows.Scan(&u.ID, &u.LawID, &eventID, &u.Title, &u.Stage, &u.Summary, &u.BusinessImpact,
			&u.ImpactScore, &u.LikelihoodScore, &u.ConfidenceScore, &u.ChiliScore,
			&u.SourceURLLink, &effective, &published, &u.RawMetadata, &createdAt); err != nil {
			return nil, nil, err
		}
		u.EventID, _ = uuid.Parse(eventID)
		u.EffectiveDate = stringPtr(effective)
		u.PublishedDate = stringPtr(published)
		u.CreatedAt = parseTime(createdAt)
		updates = append(updates, u)
	}
	return &l, updates, rows.Err()
}

// Counts reports how many laws and law updates exist.
func (r *LawRepository) Counts(ctx context.Context) (laws, updates int, err error) {
	if err = r.db.QueryRowContext(ctx, `SELECT count(*) FROM laws`).Scan(&laws); err != nil {
		return 0, 0, fmt.Errorf("counting laws: %w", err)
	}
	if err = r.db.QueryRowContext(ctx, `SELECT count(*) FROM law_updates`).Scan(&updates); err != nil {
		return 0, 0, fmt.Errorf("counting law updates: %w", err)
	}
	return laws, updates, nil
}

const lawColumns = `l.id, l.law_key, l.law_name, l.jurisdiction_country, l.jurisdiction_state,
	l.law_type, l.stage, l.status, l.first_seen_at, l.last_seen_at, l.latest_effective_date,
	l.aggregate_risk_max, l.aggregate_risk_recent_weighted, l.aggregate_risk_overall,
	l.source_confidence, l.created_at, l.updated_at`

func scanLawInto(row rowScanner, l *law.Law, extra ...any) error {
	var (
		state     sql.NullString
		firstSeen sql.NullString
		lastSeen  sql.NullString
		effective sql.NullString
		createdAt string
		updatedAt string
	)
	dest := []any{&l.ID, &l.LawKey, &l.LawName, &l.JurisdictionCountry, &state,
		&l.LawType, &l.Stage, &l.Status, &firstSeen, &lastSeen, &effective,
		&l.AggregateRiskMax, &l.AggregateRiskRecentWeighted, &l.AggregateRiskOverall,
		&l.SourceConfidence, &createdAt, &updatedAt}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return err
	}
	l.JurisdictionState = stringPtr(state)
	if firstSeen.Valid {
		l.FirstSeenAt = parseTime(firstSeen.String)
	}
	if lastSeen.Valid {
		l.LastSeenAt = parseTime(lastSeen.String)
	}
	l.LatestEffectiveDate = stringPtr(effective)
	l.CreatedAt = parseTime(createdAt)
	l.UpdatedAt = parseTime(updatedAt)
	return nil
}
