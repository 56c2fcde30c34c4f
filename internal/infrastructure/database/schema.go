package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Migrate applies the schema. Tables are created with IF NOT EXISTS;
// later column additions are expressed as additive ALTERs guarded by a
// column-existence probe, so running against any prior schema version
// is safe. Columns are never dropped or re-typed.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range createTables {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating tables: %w", err)
		}
	}
	for _, m := range columnMigrations {
		ok, err := columnExists(ctx, db, m.table, m.column)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		if _, err := db.ExecContext(ctx, m.ddl); err != nil {
			return fmt.Errorf("adding %s.%s: %w", m.table, m.column, err)
		}
	}
	for _, stmt := range createIndexes {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating indexes: %w", err)
		}
	}
	return nil
}

func columnExists(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return false, fmt.Errorf("probing %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

var createTables = []string{
	`CREATE TABLE IF NOT EXISTS sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		url TEXT NOT NULL UNIQUE,
		source_type TEXT NOT NULL DEFAULT 'government_page',
		authority_type TEXT NOT NULL DEFAULT 'national',
		jurisdiction TEXT NOT NULL DEFAULT '',
		reliability_tier INTEGER NOT NULL DEFAULT 3,
		last_crawled_at TEXT,
		created_at TEXT NOT NULL DEFAULT (datetime('now')),
		updated_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`,

	`CREATE TABLE IF NOT EXISTS regulation_events (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		jurisdiction_country TEXT NOT NULL,
		jurisdiction_state TEXT,
		stage TEXT NOT NULL DEFAULT 'proposed',
		is_under16_applicable INTEGER NOT NULL DEFAULT 1,
		age_bracket TEXT NOT NULL DEFAULT 'both',
		impact_score INTEGER NOT NULL DEFAULT 3,
		likelihood_score INTEGER NOT NULL DEFAULT 3,
		confidence_score INTEGER NOT NULL DEFAULT 3,
		chili_score INTEGER NOT NULL DEFAULT 3,
		summary TEXT NOT NULL DEFAULT '',
		business_impact TEXT NOT NULL DEFAULT '',
		required_solutions TEXT,
		affected_products TEXT,
		competitor_responses TEXT,
		raw_text TEXT NOT NULL DEFAULT '',
		source_url_link TEXT NOT NULL DEFAULT '',
		effective_date TEXT,
		published_date TEXT,
		source_id INTEGER REFERENCES sources(id),
		created_at TEXT NOT NULL DEFAULT (datetime('now')),
		updated_at TEXT NOT NULL DEFAULT (datetime('now')),
		CHECK (impact_score BETWEEN 1 AND 5),
		CHECK (likelihood_score BETWEEN 1 AND 5),
		CHECK (confidence_score BETWEEN 1 AND 5),
		CHECK (chili_score BETWEEN 1 AND 5)
	)`,

	`CREATE TABLE IF NOT EXISTS event_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL REFERENCES regulation_events(id),
		changed_at TEXT NOT NULL DEFAULT (datetime('now')),
		changed_by TEXT NOT NULL DEFAULT 'pipeline',
		change_type TEXT NOT NULL,
		field_name TEXT,
		previous_value TEXT,
		new_value TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS event_feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL REFERENCES regulation_events(id),
		author TEXT NOT NULL DEFAULT 'anonymous',
		comment TEXT NOT NULL,
		rating INTEGER,
		created_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`,

	`CREATE TABLE IF NOT EXISTS laws (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		law_key TEXT NOT NULL UNIQUE,
		law_name TEXT NOT NULL,
		jurisdiction_country TEXT NOT NULL,
		jurisdiction_state TEXT,
		law_type TEXT NOT NULL DEFAULT 'law',
		stage TEXT NOT NULL DEFAULT 'proposed',
		status TEXT NOT NULL DEFAULT 'active',
		first_seen_at TEXT,
		last_seen_at TEXT,
		latest_effective_date TEXT,
		aggregate_risk_max REAL NOT NULL DEFAULT 0,
		aggregate_risk_recent_weighted REAL NOT NULL DEFAULT 0,
		aggregate_risk_overall REAL NOT NULL DEFAULT 0,
		source_confidence REAL NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL DEFAULT (datetime('now')),
		updated_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`,

	`CREATE TABLE IF NOT EXISTS law_updates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		law_id INTEGER NOT NULL REFERENCES laws(id),
		event_id TEXT NOT NULL,
		title TEXT NOT NULL,
		stage TEXT NOT NULL DEFAULT 'proposed',
		summary TEXT NOT NULL DEFAULT '',
		business_impact TEXT NOT NULL DEFAULT '',
		impact_score INTEGER NOT NULL DEFAULT 3,
		likelihood_score INTEGER NOT NULL DEFAULT 3,
		confidence_score INTEGER NOT NULL DEFAULT 3,
		chili_score INTEGER NOT NULL DEFAULT 3,
		source_url_link TEXT NOT NULL DEFAULT '',
		effective_date TEXT,
		published_date TEXT,
		raw_metadata TEXT,
		created_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`,

	`CREATE TABLE IF NOT EXISTS crawl_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at TEXT NOT NULL DEFAULT (datetime('now')),
		completed_at TEXT,
		status TEXT NOT NULL DEFAULT 'running',
		items_found INTEGER NOT NULL DEFAULT 0,
		items_new INTEGER NOT NULL DEFAULT 0,
		items_updated INTEGER NOT NULL DEFAULT 0,
		error_message TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS notifications (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL REFERENCES regulation_events(id),
		severity TEXT NOT NULL DEFAULT 'high',
		title TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		read INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`,
}

type columnMigration struct {
	table  string
	column string
	ddl    string
}

// Additive column migrations for databases created by earlier
// revisions of the schema.
var columnMigrations = []columnMigration{
	{"sources", "source_type",
		`ALTER TABLE sources ADD COLUMN source_type TEXT NOT NULL DEFAULT 'government_page'`},
	{"regulation_events", "business_impact",
		`ALTER TABLE regulation_events ADD COLUMN business_impact TEXT NOT NULL DEFAULT ''`},
	{"regulation_events", "competitor_responses",
		`ALTER TABLE regulation_events ADD COLUMN competitor_responses TEXT`},
	{"laws", "aggregate_risk_overall",
		`ALTER TABLE laws ADD COLUMN aggregate_risk_overall REAL NOT NULL DEFAULT 0`},
	{"law_updates", "raw_metadata",
		`ALTER TABLE law_updates ADD COLUMN raw_metadata TEXT`},
}

var createIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_events_dedup_triple
		ON regulation_events(source_url_link, jurisdiction_country, title)`,
	`CREATE INDEX IF NOT EXISTS idx_events_stage ON regulation_events(stage)`,
	`CREATE INDEX IF NOT EXISTS idx_events_country ON regulation_events(jurisdiction_country)`,
	`CREATE INDEX IF NOT EXISTS idx_events_state ON regulation_events(jurisdiction_state)`,
	`CREATE INDEX IF NOT EXISTS idx_events_age_bracket ON regulation_events(age_bracket)`,
	`CREATE INDEX IF NOT EXISTS idx_events_published ON regulation_events(published_date)`,
	`CREATE INDEX IF NOT EXISTS idx_events_updated ON regulation_events(updated_at)`,
	`CREATE INDEX IF NOT EXISTS idx_history_event ON event_history(event_id, changed_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_feedback_event ON event_feedback(event_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_laws_jurisdiction ON laws(jurisdiction_country, jurisdiction_state)`,
	`CREATE INDEX IF NOT EXISTS idx_laws_stage ON laws(stage)`,
	`CREATE INDEX IF NOT EXISTS idx_laws_risk
		ON laws(aggregate_risk_max DESC, aggregate_risk_recent_weighted DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_law_updates_law
		ON law_updates(law_id, published_date DESC, created_at DESC)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_law_updates_event ON law_updates(event_id)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_event ON notifications(event_id)`,
	`CREATE INDEX IF NOT EXISTS idx_crawl_runs_status ON crawl_runs(status)`,
}
