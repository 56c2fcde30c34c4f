package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/regradar/regradar-backend/internal/domain/source"
)

// SourceRepository upserts registry sources as they are observed and
// tracks when each was last crawled. Sources are never deleted.
type SourceRepository struct {
	db DBTX
}

func NewSourceRepository(db DBTX) *SourceRepository {
	return &SourceRepository{db: db}
}

func (r *SourceRepository) WithTx(tx DBTX) *SourceRepository {
	return &SourceRepository{db: tx}
}

// Ensure inserts the source on first observation or refreshes its
// reliability tier and last_crawled_at, and returns the row id.
func (r *SourceRepository) Ensure(ctx context.Context, s source.Source) (int64, error) {
	now := formatTime(time.Now().UTC())

	var id int64
	err := r.db.QueryRowContext(ctx,
		`SELECT id FROM sources WHERE name = ?`, s.Name).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		res, err := r.db.ExecContext(ctx, `
			INSERT INTO sources (name, url, source_type, authority_type, jurisdiction,
				reliability_tier, last_crawled_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.Name, s.URL, string(s.Type), string(s.AuthorityType), s.Jurisdiction,
			s.ReliabilityTier, now, now, now)
		if err != nil {
			return 0, fmt.Errorf("inserting source %q: %w", s.Name, err)
		}
		return res.LastInsertId()
	case err != nil:
		return 0, fmt.Errorf("looking up source %q: %w", s.Name, err)
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE sources SET reliability_tier = ?, last_crawled_at = ?, updated_at = ?
		WHERE id = ?`,
		s.ReliabilityTier, now, now, id)
	if err != nil {
		return 0, fmt.Errorf("updating source %q: %w", s.Name, err)
	}
	return id, nil
}

// ReliabilityTier returns the stored tier for a source id, defaulting
// to 3 when the source is unknown.
func (r *SourceRepository) ReliabilityTier(ctx context.Context, id int64) (int, error) {
	var tier int
	err := r.db.QueryRowContext(ctx,
		`SELECT reliability_tier FROM sources WHERE id = ?`, id).Scan(&tier)
	if err == sql.ErrNoRows {
		return 3, nil
	}
	if err != nil {
		return 0, fmt.Errorf("loading reliability tier: %w", err)
	}
	return tier, nil
}

// TiersByID returns every source's reliability tier keyed by row id.
// Backfill joins events to tiers through this map.
func (r *SourceRepository) TiersByID(ctx context.Context) (map[int64]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, reliability_tier FROM sources`)
	if err != nil {
		return nil, fmt.Errorf("loading source tiers: %w", err)
	}
	defer rows.Close()

	tiers := map[int64]int{}
	for rows.Next() {
		var (
			id   int64
			tier int
		)
		if err := rows.Scan(&id, &tier); err != nil {
			return nil, err
		}
		tiers[id] = tier
	}
	return tiers, rows.Err()
}

// LastCrawledAt returns the most recent last_crawled_at across all
// sources, or nil when nothing has been crawled yet.
func (r *SourceRepository) LastCrawledAt(ctx context.Context) (*time.Time, error) {
	var ts sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT max(last_crawled_at) FROM sources`).Scan(&ts)
	if err != nil {
		return nil, fmt.Errorf("loading last crawl time: %w", err)
	}
	if !ts.Valid || ts.String == "" {
		return nil, nil
	}
	t := parseTime(ts.String)
	return &t, nil
}
