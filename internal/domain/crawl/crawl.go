package crawl

import (
	"time"

	"github.com/regradar/regradar-backend/internal/domain/source"
)

// RunStatus is the lifecycle state of a crawl run. At most one run may
// be "running" per process (single-flight).
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// Run is one crawl-run row. Exactly one row is created when a pipeline
// starts; its terminal status is written at the end.
type Run struct {
	ID           int64      `json:"id"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Status       RunStatus  `json:"status"`
	ItemsFound   int        `json:"items_found"`
	ItemsNew     int        `json:"items_new"`
	ItemsUpdated int        `json:"items_updated"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// Item is one fetched document before analysis. Items keep a handle to
// their registry source so downstream joins (reliability tier,
// jurisdiction) stay cheap.
type Item struct {
	Source    source.Source `json:"source"`
	URL       string        `json:"url"`
	Title     string        `json:"title"`
	Text      string        `json:"text"`
	FetchedAt time.Time     `json:"fetched_at"`
}

// Result summarizes a finished pipeline invocation.
type Result struct {
	RunID          int64    `json:"run_id"`
	ItemsFound     int      `json:"items_found"`
	ItemsNew       int      `json:"items_new"`
	ItemsUpdated   int      `json:"items_updated"`
	ItemsDuplicate int      `json:"items_duplicate"`
	ItemsSkipped   int      `json:"items_skipped"`
	Errors         []string `json:"errors,omitempty"`
}
