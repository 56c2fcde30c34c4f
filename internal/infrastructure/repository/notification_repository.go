package repository

import (
	"context"
	"fmt"
	"time"
)

// NotificationRepository seeds alert notifications for high-risk
// events. Delivery (email, webhooks) is owned by external
// collaborators; the pipeline only writes the rows.
type NotificationRepository struct {
	db DBTX
}

func NewNotificationRepository(db DBTX) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// SeedHighRisk inserts one notification per event created since cutoff
// with chili >= 4 that has not been notified yet. Severity is critical
// at chili 5, high otherwise. Returns the number of rows written.
func (r *NotificationRepository) SeedHighRisk(ctx context.Context, cutoff time.Time) (int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT e.id, e.title, e.chili_score, e.summary
		FROM regulation_events e
		WHERE e.created_at >= ?
		  AND e.chili_score >= 4
		  AND NOT EXISTS (SELECT 1 FROM notifications n WHERE n.event_id = e.id)
		ORDER BY e.created_at`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("selecting high-risk events: %w", err)
	}
	defer rows.Close()

	type pending struct {
		id      string
		title   string
		chili   int
		summary string
	}
	var toNotify []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.title, &p.chili, &p.summary); err != nil {
			return 0, err
		}
		toNotify = append(toNotify, p)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	now := formatTime(time.Now().UTC())
	for _, p := range toNotify {
		severity := "high"
		if p.chili >= 5 {
			severity = "critical"
		}
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO notifications (event_id, severity, title, body, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			p.id, severity, p.title, p.summary, now)
		if err != nil {
			return 0, fmt.Errorf("inserting notification for %s: %w", p.id, err)
		}
	}
	return len(toNotify), nil
}

// Unread returns unread notifications, newest first.
func (r *NotificationRepository) Unread(ctx context.Context, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_id, severity, title, body, read, created_at
		FROM notifications
		WHERE read = 0
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("loading notifications: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var (
			n         Notification
			createdAt string
		)
		if err := rows.Scan(&n.ID, &n.EventID, &n.Severity, &n.Title, &n.Body, &n.Read, &createdAt); err != nil {
			return nil, err
		}
		n.CreatedAt = parseTime(createdAt)
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkRead flags one notification as read.
func (r *NotificationRepository) MarkRead(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE notifications SET read = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("marking notification %d read: %w", id, err)
	}
	return nil
}

// Notification is one seeded alert row.
type Notification struct {
	ID        int64     `json:"id"`
	EventID   string    `json:"event_id"`
	Severity  string    `json:"severity"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}
